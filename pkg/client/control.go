// Package client implements the RoomChat client connection: request/response
// calls, fire-and-forget commands and server-pushed events over one stream.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
	pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"
)

// ErrClosed is returned by calls made after the connection ended.
var ErrClosed = errors.New("client: connection closed")

// serverErrorPrefix marks string responses that report a failure.
const serverErrorPrefix = "ERROR: "

// ServerError is a command rejected by the server with an error string.
type ServerError struct {
	Command string
	Message string // full server text, prefix included
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("client: %s: %s", e.Command, e.Message)
}

// EventHandler is a callback for server-pushed events. It runs on the
// receive goroutine and must not block on calls to the same Client.
type EventHandler func(ev pb.Event)

// Options controls how Dial connects.
type Options struct {
	TLS                bool
	InsecureSkipVerify bool          // accept self-signed server certificates
	WriteTimeout       time.Duration // per-frame write deadline, 0 disables
}

// Client is a connection to a RoomChat server. Calls are serialized: the
// protocol carries no request IDs, so at most one request waits for a
// response at a time.
type Client struct {
	conn net.Conn
	ch   *protocol.Channel

	callMu    sync.Mutex
	responses chan json.RawMessage

	handlerMu sync.RWMutex
	handler   EventHandler

	done    chan struct{}
	errMu   sync.Mutex
	readErr error
}

// Dial connects to addr and starts receiving.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	var (
		conn net.Conn
		err  error
	)
	if opts.TLS {
		dialer := &tls.Dialer{Config: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed servers
			MinVersion:         tls.VersionTLS13,
		}}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}
	return New(conn, opts.WriteTimeout), nil
}

// New wraps an established connection and starts receiving.
func New(conn net.Conn, writeTimeout time.Duration) *Client {
	c := &Client{
		conn:      conn,
		ch:        protocol.NewChannel(conn, writeTimeout),
		responses: make(chan json.RawMessage, 1),
		done:      make(chan struct{}),
	}
	go c.receive()
	return c
}

// SetEventHandler sets the callback for server-pushed events. Events that
// arrive without a handler are dropped.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

func (c *Client) receive() {
	defer close(c.done)
	for {
		frame, err := c.ch.ReceiveRaw()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Error("client read error", "err", err)
			}
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}

		if pb.IsEvent(frame) {
			var ev pb.Event
			if err := json.Unmarshal(frame, &ev); err != nil {
				slog.Warn("client: undecodable event", "err", err)
				continue
			}
			c.handlerMu.RLock()
			h := c.handler
			c.handlerMu.RUnlock()
			if h != nil {
				h(ev)
			}
			continue
		}

		select {
		case c.responses <- frame:
		default:
			slog.Warn("client: unsolicited response dropped", "frame", string(frame))
		}
	}
}

// Call sends command and decodes the response into out. A server error
// string is returned as *ServerError. out may be nil to discard the body.
func (c *Client) Call(ctx context.Context, command string, params, out any) error {
	req, err := pb.NewRequest(command, params)
	if err != nil {
		return err
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.ch.Send(req); err != nil {
		return fmt.Errorf("client: send %s: %w", command, err)
	}

	var frame json.RawMessage
	select {
	case frame = <-c.responses:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		// the late response would be paired with the next call
		_ = c.Close()
		return ctx.Err()
	}

	var text string
	if json.Unmarshal(frame, &text) == nil && strings.HasPrefix(text, serverErrorPrefix) {
		return &ServerError{Command: command, Message: text}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(frame, out); err != nil {
		return fmt.Errorf("client: decode %s response: %w", command, err)
	}
	return nil
}

// Notify sends a command the server never answers.
func (c *Client) Notify(command string, params any) error {
	req, err := pb.NewRequest(command, params)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.ch.Send(req); err != nil {
		return fmt.Errorf("client: send %s: %w", command, err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, after Done is closed.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}
