package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// chunkReader hands out at most n bytes per Read to simulate partial reads.
type chunkReader struct {
	data []byte
	n    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func (r *chunkReader) Write(p []byte) (int, error) { return len(p), nil }

func TestWriteFrameEscapesMarker(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, map[string]string{"message": "hi <done> there"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out := buf.String()
	if strings.Count(out, Marker) != 1 || !strings.HasSuffix(out, Marker) {
		t.Fatalf("WriteFrame: marker must appear exactly once at the end, got %q", out)
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, strings.Repeat("a", MaxFrameSize))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("WriteFrame: want ErrFrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("WriteFrame: nothing should be written, got %d bytes", buf.Len())
	}
}

func TestReceivePartialAndConcatenated(t *testing.T) {
	stream := `{"command":"get_rooms"}<done>{"command":"send_message","parameters":{"message":"a"}}<done>[1,2]<done>`

	for _, chunk := range []int{1, 3, 7, 64, len(stream)} {
		ch := NewChannel(&chunkReader{data: []byte(stream), n: chunk}, 0)

		var got []string
		for {
			frame, err := ch.ReceiveRaw()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("chunk=%d: ReceiveRaw: %v", chunk, err)
			}
			got = append(got, string(frame))
		}

		want := []string{
			`{"command":"get_rooms"}`,
			`{"command":"send_message","parameters":{"message":"a"}}`,
			`[1,2]`,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("chunk=%d: frames mismatch (-want +got):\n%s", chunk, diff)
		}
	}
}

func TestReceiveUnescapedMarkerInsideString(t *testing.T) {
	stream := `{"message":"look <done> here"}<done>`
	ch := NewChannel(&chunkReader{data: []byte(stream), n: 5}, 0)

	var got map[string]string
	if err := ch.Receive(&got); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got["message"] != "look <done> here" {
		t.Fatalf("Receive: message = %q", got["message"])
	}
}

func TestReceiveErrors(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		wantErr error
	}{
		{"garbage", `not json<done>`, ErrMalformedFrame},
		{"empty frame", `<done>`, ErrMalformedFrame},
		{"two values", `{} {}<done>`, ErrMalformedFrame},
		{"closed mid frame", `{"command":"lo`, ErrMalformedFrame},
		{"clean close", ``, io.EOF},
		{"too large", `"` + strings.Repeat("x", MaxFrameSize+10), ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel(&chunkReader{data: []byte(tt.stream), n: 4096}, 0)
			_, err := ch.ReceiveRaw()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReceiveRaw: want %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExecuteOverPipe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = clientConn.Close() }()
	defer func() { _ = serverConn.Close() }()

	client := NewChannel(clientConn, time.Second)
	server := NewChannel(serverConn, time.Second)

	go func() {
		var req map[string]any
		if err := server.Receive(&req); err != nil {
			return
		}
		_ = server.Send([]string{"Sports", "Gaming", "Food"})
	}()

	var rooms []string
	if err := client.Execute(map[string]string{"command": "get_rooms"}, &rooms); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if diff := cmp.Diff([]string{"Sports", "Gaming", "Food"}, rooms); diff != "" {
		t.Fatalf("Execute mismatch (-want +got):\n%s", diff)
	}
}

func TestSendTimeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = clientConn.Close() }()
	defer func() { _ = serverConn.Close() }()

	// nobody reads serverConn, so the pipe write blocks until the deadline
	ch := NewChannel(clientConn, 20*time.Millisecond)
	err := ch.Send(json.RawMessage(`{"type":"message"}`))
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("Send: want timeout error, got %v", err)
	}
}
