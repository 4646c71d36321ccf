// Package client is the replica side of the reflector protocol: it joins a
// session from the WELCOME snapshot, applies the ordered stream to a local
// replica and publishes intents.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/session"
)

// RejectedError is a boundary rejection returned by the reflector.
type RejectedError struct {
	Msg protocol.ErrorMsg
}

type broadcast struct {
	scope, name string
	payload     any
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Msg.Code, e.Msg.Message)
}

type Client struct {
	conn    *websocket.Conn
	log     *log.Logger
	welcome protocol.WelcomeMsg

	// mu guards the replica; Run holds it for each delivery.
	mu      sync.Mutex
	replica *session.Replica
	// pending collects the broadcasts of one delivery. Only Run touches it.
	pending []broadcast
	hub     *session.Hub

	writeMu sync.Mutex
	errs    chan protocol.ErrorMsg
}

// Dial joins the session at url. cats must match the reflector's catalogs.
func Dial(ctx context.Context, url, name string, cats *catalogs.Catalogs, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cats == nil {
		cats = catalogs.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, log: logger, errs: make(chan protocol.ErrorMsg, 64)}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            name,
		CatalogsDigest:  cats.Digest(),
	}
	if err := c.writeJSON(hello); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch base.Type {
	case protocol.TypeWelcome:
	case protocol.TypeError:
		var em protocol.ErrorMsg
		_ = json.Unmarshal(msg, &em)
		_ = conn.Close()
		return nil, &RejectedError{Msg: em}
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
	if err := json.Unmarshal(msg, &c.welcome); err != nil {
		_ = conn.Close()
		return nil, err
	}
	snap, err := snapshot.Unmarshal(c.welcome.Snapshot)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("welcome snapshot: %w", err)
	}
	rep, err := session.Restore(cats, snap, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.replica = rep
	c.hub = session.NewHub()
	rep.Subscribe(session.Any, session.Any, func(scope, name string, payload any) {
		c.pending = append(c.pending, broadcast{scope: scope, name: name, payload: payload})
	})
	_ = conn.SetReadDeadline(time.Time{})
	return c, nil
}

func (c *Client) SessionID() string { return c.welcome.SessionID }
func (c *Client) ReplicaID() string { return c.welcome.ReplicaID }

// Errors carries boundary rejections of this client's PUBLISH messages.
func (c *Client) Errors() <-chan protocol.ErrorMsg { return c.errs }

// View runs fn with exclusive access to the local replica.
func (c *Client) View(fn func(r *session.Replica)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.replica)
}

// Subscribe registers fn for local broadcasts. fn runs on the Run goroutine
// once the message that produced the broadcast has been applied, so it may
// call View.
func (c *Client) Subscribe(scope, name string, fn func(scope, name string, payload any)) (cancel func()) {
	return c.hub.Subscribe(scope, name, fn)
}

// Publish sends an intent to the reflector. It takes effect when the ordered
// copy comes back through Run.
func (c *Client) Publish(scope, name string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.writeJSON(protocol.PublishMsg{Type: protocol.TypePublish, Scope: scope, Name: name, Payload: b})
}

// Run applies the ordered stream until the connection closes, ctx ends or
// the replica faults.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			c.log.Printf("bad message: %v", err)
			continue
		}
		switch base.Type {
		case protocol.TypeMsg, protocol.TypeTick:
			var o protocol.Ordered
			if err := json.Unmarshal(msg, &o); err != nil {
				return fmt.Errorf("ordered message: %w", err)
			}
			c.mu.Lock()
			err := c.replica.Deliver(o)
			out := c.pending
			c.pending = nil
			c.mu.Unlock()
			for _, b := range out {
				c.hub.Publish(b.scope, b.name, b.payload)
			}
			if err != nil {
				return err
			}
		case protocol.TypeError:
			var em protocol.ErrorMsg
			if err := json.Unmarshal(msg, &em); err != nil {
				continue
			}
			select {
			case c.errs <- em:
			default:
				c.log.Printf("dropped rejection %s: %s", em.Code, em.Message)
			}
		}
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}
