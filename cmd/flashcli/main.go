package main

import (
	"github.com/robotalks/cardiotag/pkg/cli/sh"
	"github.com/robotalks/cardiotag/pkg/device"
)

//go-build: CGO_ENABLED=0

func init() {
	device.SetupFlags()
}

func main() {
	sh.Main()
}
