// Package handshake tracks directional card exchange requests between device pairs.
//
// Each request moves through:
//
//	Requested --accept (by target)--> Accepted --send (either side)--> Completed
//	Requested --revoke (by requester)--> Revoked
//
// Leaving Requested is a compare-and-set under the pair's shard lock, so a
// concurrent accept and revoke on the same request can never both succeed.
// Both directions of a device pair hash to the same shard, which keeps the
// either-direction checks (IsAccepted, MarkCompleted) atomic.
package handshake

import (
	"context"
	"hash/maphash"
	"log/slog"
	"sync"
	"time"
)

// State of a pending exchange request.
type State string

const (
	StateRequested State = "requested"
	StateAccepted  State = "accepted"
	StateCompleted State = "completed"
	StateRevoked   State = "revoked"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRevoked
}

// Key identifies one direction of a device pair.
type Key struct {
	Requester string
	Target    string
}

// Request is a snapshot of one directional exchange request.
type Request struct {
	Requester   string    `json:"requester"`
	Target      string    `json:"target"`
	State       State     `json:"state"`
	RequestedAt time.Time `json:"requestedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	entries map[Key]*Request
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	shards [shardCount]shard
	seed   maphash.Seed
	now    func() time.Time
}

func NewCoordinator() *Coordinator {
	c := &Coordinator{
		seed: maphash.MakeSeed(),
		now:  time.Now,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[Key]*Request)
	}
	return c
}

// shardFor hashes the unordered pair so A→B and B→A share a shard.
func (c *Coordinator) shardFor(a, b string) *shard {
	if b < a {
		a, b = b, a
	}
	var h maphash.Hash
	h.SetSeed(c.seed)
	h.WriteString(a)
	h.WriteByte(0)
	h.WriteString(b)
	return &c.shards[h.Sum64()%shardCount]
}

// Request creates or resets the requester→target entry in state Requested.
func (c *Coordinator) Request(requester, target string) Request {
	now := c.now()
	req := &Request{
		Requester:   requester,
		Target:      target,
		State:       StateRequested,
		RequestedAt: now,
		UpdatedAt:   now,
	}

	s := c.shardFor(requester, target)
	s.mu.Lock()
	s.entries[Key{requester, target}] = req
	s.mu.Unlock()
	return *req
}

// TryAccept moves requester→target from Requested to Accepted.
// Returns false when the entry is missing or has already left Requested.
func (c *Coordinator) TryAccept(requester, target string) bool {
	return c.transition(Key{requester, target}, StateAccepted)
}

// TryRevoke moves requester→target from Requested to Revoked.
// Returns false when the entry is missing or has already left Requested.
func (c *Coordinator) TryRevoke(requester, target string) bool {
	return c.transition(Key{requester, target}, StateRevoked)
}

func (c *Coordinator) transition(key Key, to State) bool {
	s := c.shardFor(key.Requester, key.Target)
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.entries[key]
	if !ok || req.State != StateRequested {
		return false
	}
	req.State = to
	req.UpdatedAt = c.now()
	return true
}

// IsAccepted reports whether an accepted request exists between a and b in either
// direction. Completed requests still count: completion records that card data
// flowed, it does not withdraw the acceptance.
func (c *Coordinator) IsAccepted(a, b string) bool {
	s := c.shardFor(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []Key{{a, b}, {b, a}} {
		if req, ok := s.entries[key]; ok && (req.State == StateAccepted || req.State == StateCompleted) {
			return true
		}
	}
	return false
}

// MarkCompleted moves one Accepted entry between sender and peer to Completed,
// preferring the sender's own outbound request. Returns the completed key, or
// false if no entry was Accepted.
func (c *Coordinator) MarkCompleted(sender, peer string) (Key, bool) {
	s := c.shardFor(sender, peer)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []Key{{sender, peer}, {peer, sender}} {
		if req, ok := s.entries[key]; ok && req.State == StateAccepted {
			req.State = StateCompleted
			req.UpdatedAt = c.now()
			return key, true
		}
	}
	return Key{}, false
}

// Get returns a snapshot of the requester→target entry.
func (c *Coordinator) Get(requester, target string) (Request, bool) {
	s := c.shardFor(requester, target)
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.entries[Key{requester, target}]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

// InvalidateDevice revokes every Requested entry where deviceID is requester or target.
// Returns the keys that were revoked.
func (c *Coordinator) InvalidateDevice(deviceID string) []Key {
	var revoked []Key
	now := c.now()
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, req := range s.entries {
			if req.State != StateRequested {
				continue
			}
			if key.Requester == deviceID || key.Target == deviceID {
				req.State = StateRevoked
				req.UpdatedAt = now
				revoked = append(revoked, key)
			}
		}
		s.mu.Unlock()
	}
	return revoked
}

// Stats counts entries per state.
func (c *Coordinator) Stats() map[State]int {
	stats := make(map[State]int, 4)
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, req := range s.entries {
			stats[req.State]++
		}
		s.mu.Unlock()
	}
	return stats
}

// Sweep deletes terminal entries last updated before cutoff. Returns the number removed.
func (c *Coordinator) Sweep(cutoff time.Time) int {
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, req := range s.entries {
			if req.State.Terminal() && req.UpdatedAt.Before(cutoff) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// RunJanitor sweeps terminal entries older than retention every interval until ctx is done.
// A non-positive interval disables sweeping and returns at once.
func (c *Coordinator) RunJanitor(ctx context.Context, interval, retention time.Duration) error {
	if interval <= 0 {
		slog.Info("handshake: janitor disabled")
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(c.now().Add(-retention)); n > 0 {
				slog.Debug("handshake: swept terminal requests", "removed", n)
			}
		}
	}
}
