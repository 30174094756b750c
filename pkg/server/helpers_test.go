package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/credential"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/mail"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
	pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"
)

const waitTimeout = 3 * time.Second

// recordingMailer captures messages instead of sending them.
type recordingMailer struct {
	msgs chan mail.Message
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{msgs: make(chan mail.Message, 16)}
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.msgs <- msg
	return nil
}

var codePattern = regexp.MustCompile(`please enter (\d{6})`)

// nextCode waits for the next validation email and extracts its code.
func (m *recordingMailer) nextCode(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-m.msgs:
		match := codePattern.FindStringSubmatch(msg.Body)
		if match == nil {
			t.Fatalf("validation email without code: %q", msg.Body)
		}
		return match[1]
	case <-time.After(waitTimeout):
		t.Fatal("no validation email sent")
		return ""
	}
}

// newTestServer creates a server over a memory store. It is not listening.
func newTestServer(t *testing.T) (*Server, *recordingMailer) {
	t.Helper()
	return newTestServerWithStore(t, datastore.NewMemory())
}

func newTestServerWithStore(t *testing.T, store datastore.DataProviderFactory) (*Server, *recordingMailer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MetricsAddr = ""
	cfg.SendTimeout = time.Second
	mailer := newRecordingMailer()
	srv, err := New(cfg, Dependencies{
		Store:    store,
		Mailer:   mailer,
		MailFrom: "chat@example.com",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, mailer
}

// startTestServer serves srv on a loopback listener until the test ends.
func startTestServer(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		srv.Shutdown()
		<-done
	})
	return ln.Addr().String()
}

// createActiveUser stores an activated account directly.
var errStoreDown = errors.New("store unavailable")

// brokenWritesStore serves reads from memory and fails account updates.
type brokenWritesStore struct {
	*datastore.MemoryStore
}

func (b brokenWritesStore) NonTx() datastore.DataStore {
	return brokenWrites{b.MemoryStore.NonTx()}
}

type brokenWrites struct {
	datastore.DataStore
}

func (brokenWrites) SetActive(context.Context, string, bool) error { return errStoreDown }

func (brokenWrites) SetPasswordHash(context.Context, string, string) error { return errStoreDown }

func createActiveUser(t *testing.T, srv *Server, username, name, password string) {
	t.Helper()
	ctx := context.Background()
	if err := srv.creds.CreateUser(ctx, credentialUser(username, name, password)); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	if err := srv.creds.SetActive(ctx, username); err != nil {
		t.Fatalf("SetActive(%s): %v", username, err)
	}
}

func credentialUser(username, name, password string) credential.NewUser {
	return credential.NewUser{
		Username:    username,
		Name:        name,
		Email:       username + "@example.com",
		PhoneNumber: "0521234567",
		Password:    password,
	}
}

// testPeer is a raw protocol client that splits frames into responses and
// events.
type testPeer struct {
	t         *testing.T
	conn      net.Conn
	ch        *protocol.Channel
	responses chan json.RawMessage
	events    chan pb.Event
	closed    chan struct{}
}

func dialPeer(t *testing.T, addr string) *testPeer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, waitTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	p := &testPeer{
		t:         t,
		conn:      conn,
		ch:        protocol.NewChannel(conn, waitTimeout),
		responses: make(chan json.RawMessage, 64),
		events:    make(chan pb.Event, 64),
		closed:    make(chan struct{}),
	}
	go p.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

func (p *testPeer) readLoop() {
	defer close(p.closed)
	for {
		frame, err := p.ch.ReceiveRaw()
		if err != nil {
			return
		}
		if pb.IsEvent(frame) {
			var ev pb.Event
			if err := json.Unmarshal(frame, &ev); err == nil {
				p.events <- ev
			}
			continue
		}
		p.responses <- frame
	}
}

// send writes a request without waiting for a response.
func (p *testPeer) send(command string, params any) {
	p.t.Helper()
	req, err := pb.NewRequest(command, params)
	if err != nil {
		p.t.Fatalf("NewRequest: %v", err)
	}
	if err := p.ch.Send(req); err != nil {
		p.t.Fatalf("send %s: %v", command, err)
	}
}

// do sends a request and decodes the next response into out.
func (p *testPeer) do(command string, params, out any) {
	p.t.Helper()
	p.send(command, params)
	select {
	case frame := <-p.responses:
		if err := json.Unmarshal(frame, out); err != nil {
			p.t.Fatalf("%s: decode response %s: %v", command, frame, err)
		}
	case <-time.After(waitTimeout):
		p.t.Fatalf("%s: no response", command)
	}
}

func (p *testPeer) login(username, password string) *pb.LoginResponse {
	p.t.Helper()
	var resp pb.LoginResponse
	p.do(pb.CmdLogin, &pb.LoginParams{Username: username, Password: password}, &resp)
	return &resp
}

func (p *testPeer) mustLogin(username, password string) {
	p.t.Helper()
	if resp := p.login(username, password); len(resp.Errors) != 0 {
		p.t.Fatalf("login %s: %v", username, resp.Errors)
	}
}

func (p *testPeer) nextEvent() pb.Event {
	p.t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(waitTimeout):
		p.t.Fatal("no event received")
		return pb.Event{}
	}
}

func (p *testPeer) nextPresence() pb.PresenceEvent {
	p.t.Helper()
	ev := p.nextEvent()
	if ev.Type != pb.EventClientEntered {
		p.t.Fatalf("want %s event, got %s: %s", pb.EventClientEntered, ev.Type, ev.Data)
	}
	var data pb.PresenceEvent
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		p.t.Fatalf("decode presence: %v", err)
	}
	return data
}

func (p *testPeer) nextMessage() pb.MessageEvent {
	p.t.Helper()
	ev := p.nextEvent()
	if ev.Type != pb.EventMessage {
		p.t.Fatalf("want %s event, got %s: %s", pb.EventMessage, ev.Type, ev.Data)
	}
	var data pb.MessageEvent
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		p.t.Fatalf("decode message: %v", err)
	}
	return data
}

// expectNoEvent fails if an event arrives within a short window.
func (p *testPeer) expectNoEvent() {
	p.t.Helper()
	select {
	case ev := <-p.events:
		p.t.Fatalf("unexpected event %s: %s", ev.Type, ev.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

// enter joins room and consumes the peer's own "joined" event.
func (p *testPeer) enter(room string) pb.PresenceEvent {
	p.t.Helper()
	p.send(pb.CmdEnterRoom, &pb.EnterRoomParams{Room: room})
	return p.nextPresence()
}

// pipeSession builds a session over one end of a net.Pipe. The other end is
// returned for the test to read from or close.
func pipeSession(t *testing.T, sendTimeout time.Duration) (*Session, net.Conn) {
	t.Helper()
	serverEnd, clientEnd := net.Pipe()
	t.Cleanup(func() {
		_ = serverEnd.Close()
		_ = clientEnd.Close()
	})
	return newSession(serverEnd, sendTimeout), clientEnd
}

func strPtr(s string) *string { return &s }
