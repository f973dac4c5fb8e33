package methods

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/cardswap/internal/config"
	"github.com/nextlevelbuilder/cardswap/internal/gateway"
	"github.com/nextlevelbuilder/cardswap/internal/handshake"
	"github.com/nextlevelbuilder/cardswap/internal/proximity"
	"github.com/nextlevelbuilder/cardswap/internal/sessions"
	"github.com/nextlevelbuilder/cardswap/internal/swap"
	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

type wireFrame struct {
	Type    string               `json:"type"`
	ID      string               `json:"id"`
	OK      bool                 `json:"ok"`
	Event   string               `json:"event"`
	Seq     int64                `json:"seq"`
	Payload json.RawMessage      `json:"payload"`
	Error   *protocol.ErrorShape `json:"error"`
}

type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID int
	events []wireFrame
}

type testEnv struct {
	url string
	dir *proximity.Directory
	rt  *sessions.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default().Gateway
	dir := proximity.NewDirectory(100)
	rt := sessions.NewRouter()
	d := swap.NewDispatcher(dir, handshake.NewCoordinator(), rt)

	srv := gateway.NewServer(cfg)
	m := NewSwapMethods(d)
	m.Register(srv.Router())
	srv.OnDisconnect(m.HandleDisconnect)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{url: "ws" + strings.TrimPrefix(ts.URL, "http") + cfg.Path, dir: dir, rt: rt}
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) read() wireFrame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f wireFrame
	if err := c.conn.ReadJSON(&f); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return f
}

// call sends a request and returns its response, buffering events seen meanwhile.
func (c *testClient) call(method string, params any) wireFrame {
	c.t.Helper()
	c.nextID++
	id := fmt.Sprintf("r%d", c.nextID)
	raw, _ := json.Marshal(params)
	if err := c.conn.WriteJSON(protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method, Params: raw}); err != nil {
		c.t.Fatalf("write: %v", err)
	}
	for {
		f := c.read()
		if f.Type == protocol.FrameTypeEvent {
			c.events = append(c.events, f)
			continue
		}
		if f.ID == id {
			return f
		}
	}
}

// event returns the next event named name, reading from the socket if needed.
func (c *testClient) event(name string) wireFrame {
	c.t.Helper()
	for i, f := range c.events {
		if f.Event == name {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return f
		}
	}
	for {
		f := c.read()
		if f.Type != protocol.FrameTypeEvent {
			continue
		}
		if f.Event == name {
			return f
		}
		c.events = append(c.events, f)
	}
}

func mustOK(t *testing.T, f wireFrame) {
	t.Helper()
	if !f.OK {
		t.Fatalf("response not ok: %+v", f.Error)
	}
}

func TestEndToEndExchange(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t)
	b := env.dial(t)

	// Positional args, as legacy hub clients send them.
	mustOK(t, a.call(protocol.MethodSubscribe, []any{"A", 13.405, 52.52, "Alice", "data:image/png;base64,iVBORw0KGgo="}))
	sub := a.event(protocol.EventSubscribed)
	if string(sub.Payload) != "[]" {
		t.Errorf("A alone got peers %s", sub.Payload)
	}

	mustOK(t, b.call(protocol.MethodSubscribe, map[string]any{
		"deviceId": "B", "longitude": 13.405, "latitude": 52.5201, "displayName": "Bob",
	}))
	var peers []proximity.Peer
	if err := json.Unmarshal(b.event(protocol.EventSubscribed).Payload, &peers); err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0].DeviceID != "A" || peers[0].DisplayName != "Alice" {
		t.Fatalf("B peers = %+v", peers)
	}

	mustOK(t, a.call(protocol.MethodUpdate, []any{"A", 13.405, 52.52, "Alice"}))
	upd := a.event(protocol.EventUpdated)
	if !strings.Contains(string(upd.Payload), `"deviceId":"B"`) {
		t.Errorf("Updated payload = %s", upd.Payload)
	}

	mustOK(t, a.call(protocol.MethodRequestCardExchange, []any{"A", "B", "Alice"}))
	a.event(protocol.EventWaitingForAcceptance)
	req := b.event(protocol.EventCardExchangeRequested)
	var card swap.CardPayload
	json.Unmarshal(req.Payload, &card)
	if card.DeviceID != "A" || card.DisplayName != "Alice" {
		t.Errorf("CardExchangeRequested = %+v", card)
	}

	mustOK(t, b.call(protocol.MethodAcceptCardExchange, []any{"A", "B", "Bob", "bob-vcard"}))
	b.event(protocol.EventAcceptanceSent)
	json.Unmarshal(a.event(protocol.EventCardExchangeAccepted).Payload, &card)
	if card.CardData != "bob-vcard" {
		t.Errorf("accepted card = %+v", card)
	}

	mustOK(t, a.call(protocol.MethodSendCardData, []any{"A", "B", "Alice", "alice-vcard"}))
	a.event(protocol.EventCardDataSent)
	json.Unmarshal(b.event(protocol.EventCardDataReceived).Payload, &card)
	if card.CardData != "alice-vcard" || card.DisplayName != "Alice" {
		t.Errorf("received card = %+v", card)
	}

	// Repeat accept loses: error response, no events.
	res := b.call(protocol.MethodAcceptCardExchange, []any{"A", "B", "Bob", "bob-vcard"})
	if res.OK || res.Error.Code != protocol.ErrFailedPrecondition {
		t.Errorf("second accept = %+v", res)
	}
}

func TestEndToEndErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	tests := []struct {
		method string
		params any
		code   string
	}{
		{protocol.MethodUpdate, []any{"ghost", 1, 1, "x"}, protocol.ErrNotSubscribed},
		{protocol.MethodSubscribe, []any{"A", 1}, protocol.ErrInvalidRequest},
		{protocol.MethodSubscribe, []any{"", 1, 1, "x"}, protocol.ErrInvalidRequest},
		{protocol.MethodRevokeCardExchangeRequest, []any{"A", "B"}, protocol.ErrFailedPrecondition},
		{"Nope", nil, protocol.ErrInvalidRequest},
	}
	for _, tt := range tests {
		res := c.call(tt.method, tt.params)
		if res.OK || res.Error == nil || res.Error.Code != tt.code {
			t.Errorf("%s(%v) = %+v, want %s", tt.method, tt.params, res.Error, tt.code)
		}
	}
	if len(c.events) != 0 {
		t.Errorf("failed commands emitted events: %+v", c.events)
	}
}

func TestDisconnectRemovesDevice(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t)
	mustOK(t, a.call(protocol.MethodSubscribe, []any{"A", 1, 1, "Alice"}))
	a.conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for env.dir.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if env.dir.Len() != 0 {
		t.Fatal("device still subscribed after its connection closed")
	}
	if env.rt.Count() != 0 {
		t.Errorf("router still holds %d bindings", env.rt.Count())
	}
}

func TestEventSeqIncreases(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t)
	mustOK(t, a.call(protocol.MethodSubscribe, []any{"A", 1, 1, "Alice"}))
	first := a.event(protocol.EventSubscribed)
	mustOK(t, a.call(protocol.MethodUpdate, []any{"A", 1, 1, "Alice"}))
	second := a.event(protocol.EventUpdated)
	if first.Seq <= 0 || second.Seq <= first.Seq {
		t.Errorf("seq %d then %d, want increasing", first.Seq, second.Seq)
	}
}
