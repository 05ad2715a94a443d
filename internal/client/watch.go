package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"MaskBoard/internal/protocol"
)

func (c *Client) joinURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/join"
	return u.String()
}

// Watch connects to /join and calls fn for every mask event until ctx is
// done or the connection drops. It returns nil when ctx ends the watch.
func (c *Client) Watch(ctx context.Context, fn func(protocol.MaskEvent)) error {
	header := http.Header{}
	if c.session != "" {
		header.Set(protocol.HeaderSession, c.session)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.joinURL(), header)
	if err != nil {
		return fmt.Errorf("join %s: %w", c.joinURL(), err)
	}
	defer conn.Close()
	c.log.Printf("watching mask updates on %s", c.joinURL())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
		ev, err := protocol.DecodeEvent(msg)
		if err != nil {
			c.log.Printf("dropping malformed event: %v", err)
			continue
		}
		fn(ev)
	}
}

// Follow keeps a Watch running until ctx is done, redialing after the
// connection drops. The wait between attempts starts at retry and doubles
// up to maxRetry; a connection that stayed up longer than maxRetry resets it.
// Every new connection begins with a hello event.
func (c *Client) Follow(ctx context.Context, retry time.Duration, fn func(protocol.MaskEvent)) error {
	const maxRetry = 30 * time.Second
	if retry <= 0 {
		retry = time.Second
	}
	wait := retry
	for {
		started := time.Now()
		err := c.Watch(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxRetry {
			wait = retry
		}
		c.log.Printf("watch interrupted, retrying in %v: %v", wait, err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		wait = min(2*wait, maxRetry)
	}
}
