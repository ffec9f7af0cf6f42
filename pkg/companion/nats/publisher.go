// Package nats publishes companion records to NATS subjects.
package nats

import (
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/nats-io/nats.go"
)

// Publisher maps topics to subjects and publishes on a NATS connection.
type Publisher struct {
	Conn *nats.Conn
	// Prefix is prepended to every subject.
	Prefix string
}

// Connect connects with reconnects enabled forever.
func Connect(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("cardiotag-companion"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				glog.Warningf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			glog.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: nc, Prefix: prefix}, nil
}

// Subject converts a slash separated topic into a subject.
func Subject(prefix, topic string) string {
	subject := strings.ReplaceAll(topic, "/", ".")
	if prefix == "" {
		return subject
	}
	return strings.TrimSuffix(prefix, ".") + "." + subject
}

// Publish implements companion.Publisher.
func (p *Publisher) Publish(topic string, payload []byte) error {
	return p.Conn.Publish(Subject(p.Prefix, topic), payload)
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.Conn.Drain()
}
