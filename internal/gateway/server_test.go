package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nextlevelbuilder/cardswap/internal/config"
	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

func dialTest(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+s.cfg.Path, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, id, method string) protocol.ResponseFrame {
	t.Helper()
	if err := conn.WriteJSON(protocol.RequestFrame{Type: "req", ID: id, Method: method}); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp protocol.ResponseFrame
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestBuiltinMethods(t *testing.T) {
	s := NewServer(config.Default().Gateway, WithVersion("1.2.3"), WithStatus(func() map[string]any {
		return map[string]any{"devices": 7}
	}))
	conn := dialTest(t, s)

	resp := roundTrip(t, conn, "1", protocol.MethodConnect)
	if !resp.OK {
		t.Fatalf("connect: %+v", resp.Error)
	}
	payload := resp.Payload.(map[string]any)
	if payload["protocol"].(float64) != protocol.ProtocolVersion {
		t.Errorf("protocol = %v", payload["protocol"])
	}

	resp = roundTrip(t, conn, "2", protocol.MethodHealth)
	if !resp.OK || resp.Payload.(map[string]any)["status"] != "ok" {
		t.Errorf("health = %+v", resp)
	}

	resp = roundTrip(t, conn, "3", protocol.MethodStatus)
	status := resp.Payload.(map[string]any)
	if status["devices"].(float64) != 7 || status["clients"].(float64) != 1 || status["version"] != "1.2.3" {
		t.Errorf("status = %v", status)
	}

	resp = roundTrip(t, conn, "4", "bogus")
	if resp.OK || resp.Error.Code != protocol.ErrInvalidRequest || resp.ID != "4" {
		t.Errorf("unknown method = %+v", resp)
	}
}

func TestMalformedFrames(t *testing.T) {
	s := NewServer(config.Default().Gateway)
	conn := dialTest(t, s)

	for _, raw := range []string{`not json`, `{"type":"event","event":"x"}`, `{"type":"req","id":"9"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var resp protocol.ResponseFrame
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp.OK || resp.Error.Code != protocol.ErrInvalidRequest {
			t.Errorf("%s → %+v", raw, resp)
		}
	}
}

func TestRateLimitedCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewServer(config.Default().Gateway, WithRateLimiter(NewRateLimiter(ctx, 60, 2)))
	conn := dialTest(t, s)

	var limited int
	for i := 0; i < 5; i++ {
		resp := roundTrip(t, conn, "s", protocol.MethodStatus)
		if !resp.OK && resp.Error.Code == protocol.ErrResourceExhausted {
			limited++
			if !resp.Error.Retryable || resp.Error.RetryAfterMs <= 0 {
				t.Errorf("limited response lacks retry hint: %+v", resp.Error)
			}
		}
	}
	if limited != 3 {
		t.Errorf("limited = %d, want 3", limited)
	}
	// health bypasses the limiter.
	if resp := roundTrip(t, conn, "h", protocol.MethodHealth); !resp.OK {
		t.Errorf("health limited: %+v", resp.Error)
	}
}

func TestOriginCheck(t *testing.T) {
	cfg := config.Default().Gateway
	cfg.AllowedOrigins = []string{"https://cards.example"}
	s := NewServer(cfg)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}}); err == nil {
		t.Error("foreign origin accepted")
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://cards.example"}})
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestSendEventAfterCloseIsDropped(t *testing.T) {
	c := &Client{id: "x", send: make(chan []byte, 1), devices: map[string]struct{}{}}
	c.SendEvent(*protocol.NewEvent("A", nil))
	c.SendEvent(*protocol.NewEvent("B", nil)) // buffer full, dropped
	c.Close()
	c.Close()
	c.SendEvent(*protocol.NewEvent("C", nil))

	var got []protocol.EventFrame
	for data := range c.send {
		var ev protocol.EventFrame
		json.Unmarshal(data, &ev)
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Event != "A" || got[0].Seq != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestClientDevices(t *testing.T) {
	c := &Client{devices: map[string]struct{}{}}
	c.AddDevice("b")
	c.AddDevice("a")
	c.AddDevice("b")
	c.RemoveDevice("c")
	if got := strings.Join(c.Devices(), ","); got != "a,b" {
		t.Errorf("devices = %s", got)
	}
}

func TestRouterTracesMethods(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	s := NewServer(config.Default().Gateway, WithTracerProvider(tp))
	s.Router().Register("Fail", func(ctx context.Context, c *Client, req *protocol.RequestFrame) {
		RecordError(ctx, errors.New("boom"))
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "boom"))
	})
	conn := dialTest(t, s)

	roundTrip(t, conn, "1", protocol.MethodHealth)
	roundTrip(t, conn, "2", "Fail")

	// Spans end after the response is written.
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.Ended()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "gateway.health" || spans[0].Status().Code == codes.Error {
		t.Errorf("span 0 = %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "gateway.Fail" || spans[1].Status().Code != codes.Error {
		t.Errorf("span 1 = %s %v", spans[1].Name(), spans[1].Status())
	}
}
