package handshake

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoordinator_AcceptThenSend(t *testing.T) {
	c := NewCoordinator()
	c.Request("a", "b")

	if c.IsAccepted("a", "b") {
		t.Fatal("requested entry must not authorize a send")
	}
	if c.TryAccept("b", "a") {
		t.Fatal("accept on the wrong direction should fail")
	}
	if !c.TryAccept("a", "b") {
		t.Fatal("accept should succeed")
	}
	if !c.IsAccepted("a", "b") || !c.IsAccepted("b", "a") {
		t.Fatal("accepted entry should authorize sends in both directions")
	}
	if _, ok := c.MarkCompleted("a", "b"); !ok {
		t.Fatal("MarkCompleted should transition the accepted entry")
	}
	if _, ok := c.MarkCompleted("a", "b"); ok {
		t.Error("second MarkCompleted should be a no-op")
	}
	req, _ := c.Get("a", "b")
	if req.State != StateCompleted {
		t.Errorf("state = %s, want completed", req.State)
	}
	if !c.IsAccepted("a", "b") {
		t.Error("completed entry should still authorize re-sends")
	}
}

func TestCoordinator_RevokeIsTerminal(t *testing.T) {
	c := NewCoordinator()
	c.Request("a", "b")

	if !c.TryRevoke("a", "b") {
		t.Fatal("revoke should succeed")
	}
	if c.TryAccept("a", "b") {
		t.Error("accept after revoke should fail")
	}
	if c.TryRevoke("a", "b") {
		t.Error("second revoke should fail")
	}
	if c.IsAccepted("a", "b") {
		t.Error("revoked entry must not authorize a send")
	}
}

func TestCoordinator_MissingEntry(t *testing.T) {
	c := NewCoordinator()
	_, completed := c.MarkCompleted("x", "y")
	if c.TryAccept("x", "y") || c.TryRevoke("x", "y") || completed || c.IsAccepted("x", "y") {
		t.Error("operations on a missing entry must all fail")
	}
}

func TestCoordinator_RequestResets(t *testing.T) {
	c := NewCoordinator()
	c.Request("a", "b")
	c.TryRevoke("a", "b")
	c.Request("a", "b")

	req, ok := c.Get("a", "b")
	if !ok || req.State != StateRequested {
		t.Fatalf("re-request should reset to requested, got %+v", req)
	}
	if !c.TryAccept("a", "b") {
		t.Error("accept after re-request should succeed")
	}
}

func TestCoordinator_BothDirectionsIndependent(t *testing.T) {
	c := NewCoordinator()
	c.Request("a", "b")
	c.Request("b", "a")

	if !c.TryAccept("a", "b") || !c.TryAccept("b", "a") {
		t.Fatal("both directions should accept independently")
	}
	// Each side's send completes its own outbound request first.
	if key, ok := c.MarkCompleted("a", "b"); !ok || key != (Key{"a", "b"}) {
		t.Fatalf("a's send should complete a→b, got %v %v", key, ok)
	}
	if r, _ := c.Get("b", "a"); r.State != StateAccepted {
		t.Errorf("b→a state = %s, want accepted", r.State)
	}
	if key, ok := c.MarkCompleted("b", "a"); !ok || key != (Key{"b", "a"}) {
		t.Fatalf("b's send should complete b→a, got %v %v", key, ok)
	}
}

func TestCoordinator_SingleWinner(t *testing.T) {
	for i := 0; i < 2000; i++ {
		c := NewCoordinator()
		c.Request("a", "b")

		var wins atomic.Int32
		var accepted, revoked bool
		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			if c.TryAccept("a", "b") {
				accepted = true
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			if c.TryRevoke("a", "b") {
				revoked = true
				wins.Add(1)
			}
		}()
		close(start)
		wg.Wait()

		if n := wins.Load(); n != 1 {
			t.Fatalf("iteration %d: %d winners, want exactly 1", i, n)
		}
		req, _ := c.Get("a", "b")
		switch {
		case accepted && req.State != StateAccepted:
			t.Fatalf("iteration %d: accept won but state = %s", i, req.State)
		case revoked && req.State != StateRevoked:
			t.Fatalf("iteration %d: revoke won but state = %s", i, req.State)
		}
	}
}

func TestCoordinator_InvalidateDevice(t *testing.T) {
	c := NewCoordinator()
	c.Request("a", "b")
	c.Request("c", "a")
	c.Request("b", "c")
	c.Request("a", "d")
	c.TryAccept("a", "d")

	keys := c.InvalidateDevice("a")
	if len(keys) != 2 {
		t.Fatalf("invalidated %d entries, want 2: %v", len(keys), keys)
	}
	if r, _ := c.Get("a", "b"); r.State != StateRevoked {
		t.Errorf("a→b state = %s, want revoked", r.State)
	}
	if r, _ := c.Get("c", "a"); r.State != StateRevoked {
		t.Errorf("c→a state = %s, want revoked", r.State)
	}
	if r, _ := c.Get("b", "c"); r.State != StateRequested {
		t.Errorf("b→c state = %s, want requested", r.State)
	}
	if r, _ := c.Get("a", "d"); r.State != StateAccepted {
		t.Errorf("accepted a→d must not be invalidated, state = %s", r.State)
	}
}

func TestCoordinator_Sweep(t *testing.T) {
	c := NewCoordinator()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Request("a", "b")
	c.TryRevoke("a", "b")
	c.Request("c", "d")
	c.TryAccept("c", "d")
	c.MarkCompleted("c", "d")
	c.Request("e", "f")

	now = now.Add(time.Hour)
	c.Request("g", "h")
	c.TryRevoke("g", "h")

	removed := c.Sweep(now.Add(-30 * time.Minute))
	if removed != 2 {
		t.Fatalf("removed %d, want 2", removed)
	}
	if _, ok := c.Get("e", "f"); !ok {
		t.Error("requested entry must survive sweeps")
	}
	if _, ok := c.Get("g", "h"); !ok {
		t.Error("recent terminal entry must survive sweep")
	}

	stats := c.Stats()
	if stats[StateRequested] != 1 || stats[StateRevoked] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestCoordinator_RunJanitorSweeps(t *testing.T) {
	c := NewCoordinator()
	c.Request("a", "b")
	c.TryRevoke("a", "b")
	c.Request("c", "d")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunJanitor(ctx, 5*time.Millisecond, 0) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := c.Get("a", "b"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("janitor never swept the revoked entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunJanitor = %v", err)
	}
	if _, ok := c.Get("c", "d"); !ok {
		t.Error("janitor removed a requested entry")
	}
}

func TestCoordinator_RunJanitorDisabled(t *testing.T) {
	c := NewCoordinator()
	c.Request("a", "b")
	c.TryRevoke("a", "b")

	done := make(chan error, 1)
	go func() { done <- c.RunJanitor(context.Background(), 0, 0) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunJanitor = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("disabled janitor did not return")
	}
	if _, ok := c.Get("a", "b"); !ok {
		t.Error("disabled janitor swept an entry")
	}
}
