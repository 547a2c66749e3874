package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ovident/telecall/internal/core"
	"github.com/ovident/telecall/internal/domain"
)

var upgrader = websocket.Upgrader{}

type relayStub struct {
	srv      *httptest.Server
	inbound  chan domain.Envelope
	outbound chan domain.Envelope
	auth     atomic.Value // last Authorization header
	dropped  atomic.Int32 // connections to close right after upgrade
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	s := &relayStub{
		inbound:  make(chan domain.Envelope, 8),
		outbound: make(chan domain.Envelope, 8),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *relayStub) handle(w http.ResponseWriter, r *http.Request) {
	s.auth.Store(r.Header.Get("Authorization"))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if s.dropped.Load() > 0 {
		s.dropped.Add(-1)
		conn.Close()
		return
	}
	go func() {
		for env := range s.outbound {
			data, _ := json.Marshal(env)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := domain.DecodeEnvelope(data)
		if err != nil {
			continue
		}
		s.inbound <- env
	}
}

func waitEnvelope(t *testing.T, ch <-chan domain.Envelope) domain.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no envelope within deadline")
		return domain.Envelope{}
	}
}

func waitStatus(t *testing.T, ch <-chan core.ChannelStatus, want core.ChannelStatus) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-ch:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("status %q never observed", want)
		}
	}
}

func TestConnectAndExchange(t *testing.T) {
	relay := newRelayStub(t)
	c := New(relay.url(), "tok123")
	received := make(chan domain.Envelope, 8)
	c.OnMessage(func(env domain.Envelope) { received <- env })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if got := c.Status(); got != core.ChannelConnected {
		t.Fatalf("status = %q, want connected", got)
	}
	if got := relay.auth.Load(); got != "Bearer tok123" {
		t.Fatalf("Authorization = %q", got)
	}

	out, err := domain.NewEnvelope(domain.KindCallInvite, "s1", "alice", "bob", domain.InvitePayload{
		MediaKind: domain.MediaAudio, CallerName: "Dr. Alice", CallerRole: domain.RoleDoctor,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Send(out); err != nil {
		t.Fatal(err)
	}
	got := waitEnvelope(t, relay.inbound)
	if got.Kind != domain.KindCallInvite || got.SessionID != "s1" {
		t.Fatalf("relay received %+v", got)
	}

	in, _ := domain.NewEnvelope(domain.KindCallAccept, "s1", "bob", "alice", struct{}{})
	relay.outbound <- in
	got = waitEnvelope(t, received)
	if got.Kind != domain.KindCallAccept || got.From != "bob" {
		t.Fatalf("client received %+v", got)
	}
}

func TestSendWhileDown(t *testing.T) {
	c := New("ws://127.0.0.1:0/ws/signal", "")
	env, _ := domain.NewEnvelope(domain.KindCallEnd, "s1", "a", "b", nil)
	if err := c.Send(env); !errors.Is(err, core.ErrChannelDown) {
		t.Fatalf("err = %v, want ErrChannelDown", err)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	relay := newRelayStub(t)
	c := New(relay.url(), "")
	statuses := make(chan core.ChannelStatus, 16)
	c.OnStatus(func(st core.ChannelStatus) { statuses <- st })

	// first accepted connection is dropped by the relay right away
	relay.dropped.Store(1)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	waitStatus(t, statuses, core.ChannelReconnecting)
	waitStatus(t, statuses, core.ChannelConnected)
	if got := c.Status(); got != core.ChannelConnected {
		t.Fatalf("status = %q after redial, want connected", got)
	}
}

func TestCloseReportsDisconnected(t *testing.T) {
	relay := newRelayStub(t)
	c := New(relay.url(), "")
	statuses := make(chan core.ChannelStatus, 16)
	c.OnStatus(func(st core.ChannelStatus) { statuses <- st })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, statuses, core.ChannelDisconnected)

	// closing twice is fine
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
