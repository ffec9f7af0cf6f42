package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"
)

// Dial opens a stream to tcp://host:port or ws://host:port/path.
func Dial(ctx context.Context, rawURL string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp":
		var d net.Dialer
		return d.DialContext(ctx, "tcp", u.Host)
	case "ws", "wss":
		origin := "http://" + u.Host + "/"
		if u.Scheme == "wss" {
			origin = "https://" + u.Host + "/"
		}
		cfg, err := websocket.NewConfig(rawURL, origin)
		if err != nil {
			return nil, err
		}
		conn, err := websocket.DialConfig(cfg)
		if err != nil {
			return nil, err
		}
		conn.PayloadType = websocket.BinaryFrame
		return conn, nil
	}
	return nil, fmt.Errorf("%s: %w", rawURL, ErrUnsupportedScheme)
}

// WebsocketHandler serves each websocket connection with serve.
func WebsocketHandler(ctx context.Context, serve func(context.Context, io.ReadWriteCloser)) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		conn.PayloadType = websocket.BinaryFrame
		serve(ctx, conn)
	})
}

// Accept serves each connection accepted from ln in its own goroutine until
// ctx is done.
func Accept(ctx context.Context, ln net.Listener, serve func(context.Context, io.ReadWriteCloser)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		glog.Infof("accepted %s", conn.RemoteAddr())
		go serve(ctx, conn)
	}
}

// Session keeps an Endpoint attached to a remote URL, redialing with
// exponential backoff.
type Session struct {
	URL        string
	Endpoint   *Endpoint
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// NewSession creates a Session.
func NewSession(rawURL string, ep *Endpoint) *Session {
	return &Session{
		URL:        rawURL,
		Endpoint:   ep,
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Run implements Runnable.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.MinBackoff
	for {
		conn, err := Dial(ctx, s.URL)
		if err == nil {
			glog.Infof("connected to %s", s.URL)
			err = s.Endpoint.Serve(ctx, conn)
			backoff = s.MinBackoff
		} else if errors.Is(err, ErrUnsupportedScheme) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		glog.Warningf("%s: %v, retry in %s", s.URL, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}
