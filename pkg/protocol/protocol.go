// Package protocol implements the marker-framed JSON channel used between
// chat clients and the server.
//
// A frame is one JSON value followed by the literal Marker:
//
//	{"command": "get_rooms"}<done>
//
// encoding/json escapes '<' and '>' inside strings, so frames written by this
// package never contain the marker. Peers with other encoders may send it
// inside a string; SplitFrames only cuts at a marker once the bytes before it
// form one complete JSON value.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	// Marker terminates every frame on the wire.
	Marker = "<done>"

	// MaxFrameSize is the largest JSON payload accepted (64KB), marker excluded.
	MaxFrameSize = 65536
)

var (
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	ErrFrameTooLarge  = errors.New("protocol: frame too large")

	errIncomplete = errors.New("protocol: incomplete value")
	marker        = []byte(Marker)
)

// SplitFrames is a bufio.SplitFunc that yields marker-terminated JSON
// payloads with the marker stripped.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	offset := 0
	for {
		i := bytes.Index(data[offset:], marker)
		if i < 0 {
			break
		}
		end := offset + i
		switch err := checkValue(data[:end]); {
		case err == nil:
			return end + len(marker), data[:end], nil
		case errors.Is(err, errIncomplete):
			// marker sits inside a string, keep looking
			offset = end + len(marker)
		default:
			return 0, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}
	if atEOF && len(bytes.TrimSpace(data)) > 0 {
		return 0, nil, fmt.Errorf("%w: connection closed mid-frame", ErrMalformedFrame)
	}
	return 0, nil, nil
}

// checkValue reports whether b holds exactly one JSON value. A truncated
// value yields errIncomplete.
func checkValue(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return errIncomplete
		}
		if errors.Is(err, io.EOF) {
			return errors.New("empty frame")
		}
		return err
	}
	if rest := bytes.TrimSpace(b[dec.InputOffset():]); len(rest) > 0 {
		return fmt.Errorf("trailing data after value (%d bytes)", len(rest))
	}
	return nil
}

// WriteFrame encodes v as JSON and writes it followed by the marker in a
// single Write call.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, 0, len(data)+len(marker))
	buf = append(buf, data...)
	buf = append(buf, marker...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Channel turns a byte stream into a sequence of JSON frames.
// Send is safe for concurrent use; Receive must be called from a single
// goroutine.
type Channel struct {
	rw           io.ReadWriter
	scanner      *bufio.Scanner
	writeTimeout time.Duration

	wmu sync.Mutex
}

// NewChannel wraps rw. A positive writeTimeout bounds every Send when rw
// supports write deadlines (net.Conn does).
func NewChannel(rw io.ReadWriter, writeTimeout time.Duration) *Channel {
	sc := bufio.NewScanner(rw)
	sc.Buffer(make([]byte, 0, 4096), MaxFrameSize+len(marker))
	sc.Split(SplitFrames)
	return &Channel{
		rw:           rw,
		scanner:      sc,
		writeTimeout: writeTimeout,
	}
}

// Send writes v as one frame.
func (c *Channel) Send(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if d, ok := c.rw.(writeDeadliner); ok && c.writeTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("protocol: set write deadline: %w", err)
		}
		defer func() { _ = d.SetWriteDeadline(time.Time{}) }()
	}
	return WriteFrame(c.rw, v)
}

// ReceiveRaw blocks until a full frame arrived and returns its payload.
// It returns io.EOF when the peer closed the stream between frames.
func (c *Channel) ReceiveRaw() (json.RawMessage, error) {
	if !c.scanner.Scan() {
		err := c.scanner.Err()
		switch {
		case err == nil:
			return nil, io.EOF
		case errors.Is(err, bufio.ErrTooLong):
			return nil, fmt.Errorf("%w: exceeds %d bytes", ErrFrameTooLarge, MaxFrameSize)
		default:
			return nil, err
		}
	}
	frame := make(json.RawMessage, len(c.scanner.Bytes()))
	copy(frame, c.scanner.Bytes())
	return frame, nil
}

// Receive reads one frame and decodes it into v.
func (c *Channel) Receive(v any) error {
	frame, err := c.ReceiveRaw()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// Execute sends req and decodes the next frame into resp.
func (c *Channel) Execute(req, resp any) error {
	if err := c.Send(req); err != nil {
		return err
	}
	return c.Receive(resp)
}
