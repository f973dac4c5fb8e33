// Package sessions maps device identities to the live connection currently
// bound to them and delivers named events to those connections.
package sessions

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

// Session is a live transport connection able to push events.
// SendEvent must not block; transports drop frames they cannot buffer.
type Session interface {
	ID() string
	SendEvent(event protocol.EventFrame)
}

// Router is safe for concurrent use.
type Router struct {
	bound sync.Map // deviceID → Session
}

func NewRouter() *Router {
	return &Router{}
}

// Bind points deviceID at s, replacing any previous binding.
func (r *Router) Bind(deviceID string, s Session) {
	if prev, loaded := r.bound.Swap(deviceID, s); loaded && prev.(Session).ID() != s.ID() {
		slog.Info("sessions: device rebound", "device", deviceID, "from", prev.(Session).ID(), "to", s.ID())
	}
}

// Unbind drops whatever session is bound to deviceID.
func (r *Router) Unbind(deviceID string) {
	r.bound.Delete(deviceID)
}

// Release unbinds deviceID only if it is still bound to s.
// Returns false when the device was rebound to a different session in the meantime.
func (r *Router) Release(deviceID string, s Session) bool {
	cur, ok := r.bound.Load(deviceID)
	if !ok || cur.(Session).ID() != s.ID() {
		return false
	}
	return r.bound.CompareAndDelete(deviceID, cur)
}

// Lookup returns the session bound to deviceID.
func (r *Router) Lookup(deviceID string) (Session, bool) {
	v, ok := r.bound.Load(deviceID)
	if !ok {
		return nil, false
	}
	return v.(Session), true
}

// Deliver pushes a named event to the session bound to deviceID.
// Missing sessions are a silent drop; delivery is never queued or retried.
func (r *Router) Deliver(deviceID, event string, payload any) bool {
	s, ok := r.Lookup(deviceID)
	if !ok {
		slog.Debug("sessions: no session bound, dropping event", "device", deviceID, "event", event)
		return false
	}
	s.SendEvent(*protocol.NewEvent(event, payload))
	return true
}

// Count returns the number of bound devices.
func (r *Router) Count() int {
	n := 0
	r.bound.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
