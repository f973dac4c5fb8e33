// Package swap executes client commands against the proximity directory and
// the handshake coordinator and routes the resulting events to sessions.
package swap

import (
	"context"
	"fmt"
	"hash/maphash"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/cardswap/internal/bus"
	"github.com/nextlevelbuilder/cardswap/internal/handshake"
	"github.com/nextlevelbuilder/cardswap/internal/proximity"
	"github.com/nextlevelbuilder/cardswap/internal/sessions"
	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

// Deliverer binds devices to sessions and pushes events to them.
// *sessions.Router is the production implementation.
type Deliverer interface {
	Bind(deviceID string, s sessions.Session)
	Unbind(deviceID string)
	Release(deviceID string, s sessions.Session) bool
	Deliver(deviceID, event string, payload any) bool
}

// ThumbnailStore persists a device's image and returns a fetchable URL.
type ThumbnailStore interface {
	Store(ctx context.Context, deviceID string, image []byte) (string, error)
	Remove(ctx context.Context, deviceID string) error
}

// Publisher receives domain events for auditing.
type Publisher interface {
	Publish(name string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher sends domain events to p.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.pub = p
		}
	}
}

// WithPeerEncoding selects the peer list wire form.
func WithPeerEncoding(e PeerEncoding) Option {
	return func(d *Dispatcher) { d.peers = e }
}

// WithThumbnailStore sets where Subscribe images are stored.
// Without one, devices carry an empty thumbnail URL.
func WithThumbnailStore(s ThumbnailStore) Option {
	return func(d *Dispatcher) { d.thumbs = s }
}

const deviceLockStripes = 64

// Dispatcher serves all sessions. Device and handshake state live in the
// directory and the coordinator it was built with.
type Dispatcher struct {
	dir    *proximity.Directory
	hs     *handshake.Coordinator
	router Deliverer
	thumbs ThumbnailStore
	pub    Publisher
	peers  PeerEncoding

	// Subscribe, Unsubscribe and Disconnect of one device run under its
	// stripe, so a stale disconnect cannot remove a record a newer
	// connection just created.
	seed  maphash.Seed
	locks [deviceLockStripes]sync.Mutex
}

func NewDispatcher(dir *proximity.Directory, hs *handshake.Coordinator, router Deliverer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		dir:    dir,
		hs:     hs,
		router: router,
		pub:    noopPublisher{},
		seed:   maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs cmd on behalf of session s. State changes are applied before
// any event is emitted. A returned error means nothing was emitted.
func (d *Dispatcher) Dispatch(ctx context.Context, s sessions.Session, cmd Command) error {
	switch c := cmd.(type) {
	case Subscribe:
		return d.subscribe(ctx, s, c)
	case Update:
		return d.update(s, c)
	case Unsubscribe:
		return d.unsubscribe(ctx, s, c)
	case RequestCardExchange:
		return d.requestExchange(s, c)
	case AcceptCardExchange:
		return d.acceptExchange(s, c)
	case RevokeCardExchangeRequest:
		return d.revokeExchange(s, c)
	case SendCardData:
		return d.sendCardData(s, c)
	case Disconnect:
		d.disconnect(ctx, s, c)
		return nil
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

func (d *Dispatcher) lockDevice(deviceID string) (unlock func()) {
	m := &d.locks[maphash.String(d.seed, deviceID)%deviceLockStripes]
	m.Lock()
	return m.Unlock
}

func reply(s sessions.Session, event string, payload any) {
	if s == nil {
		return
	}
	s.SendEvent(*protocol.NewEvent(event, payload))
}

func (d *Dispatcher) subscribe(ctx context.Context, s sessions.Session, c Subscribe) error {
	if err := validateDeviceID("deviceId", c.DeviceID); err != nil {
		return err
	}
	if err := validatePosition(c.Longitude, c.Latitude); err != nil {
		return err
	}
	if err := validateDisplayName(c.DisplayName); err != nil {
		return err
	}
	if len(c.Image) > MaxImageBytes {
		return invalid("image", "too large: %d bytes (max %d)", len(c.Image), MaxImageBytes)
	}
	defer d.lockDevice(c.DeviceID)()

	thumb := ""
	if prev, ok := d.dir.Get(c.DeviceID); ok {
		thumb = prev.ThumbnailURL
	}
	if d.thumbs != nil && len(c.Image) > 0 {
		url, err := d.thumbs.Store(ctx, c.DeviceID, c.Image)
		if err != nil {
			slog.Warn("swap: thumbnail store failed", "device", c.DeviceID, "error", err)
		} else {
			thumb = url
		}
	}

	pos := proximity.Position{Latitude: c.Latitude, Longitude: c.Longitude}
	d.dir.Upsert(c.DeviceID, pos, c.DisplayName, thumb)
	d.router.Bind(c.DeviceID, s)

	peers, err := d.dir.Nearby(c.DeviceID, d.dir.Radius())
	if err != nil {
		// Removed by a concurrent Unsubscribe between upsert and query.
		return err
	}
	d.pub.Publish(bus.EventDeviceSubscribed, bus.DevicePayload{DeviceID: c.DeviceID})
	slog.Debug("swap: subscribed", "device", c.DeviceID, "peers", len(peers))
	reply(s, protocol.EventSubscribed, d.peers.encode(peers))
	return nil
}

func (d *Dispatcher) update(s sessions.Session, c Update) error {
	if err := validateDeviceID("deviceId", c.DeviceID); err != nil {
		return err
	}
	if err := validatePosition(c.Longitude, c.Latitude); err != nil {
		return err
	}
	if err := validateDisplayName(c.DisplayName); err != nil {
		return err
	}

	pos := proximity.Position{Latitude: c.Latitude, Longitude: c.Longitude}
	if _, err := d.dir.UpdatePosition(c.DeviceID, pos, c.DisplayName); err != nil {
		return err
	}
	peers, err := d.dir.Nearby(c.DeviceID, d.dir.Radius())
	if err != nil {
		return err
	}
	reply(s, protocol.EventUpdated, d.peers.encode(peers))
	return nil
}

func (d *Dispatcher) unsubscribe(ctx context.Context, s sessions.Session, c Unsubscribe) error {
	if err := validateDeviceID("deviceId", c.DeviceID); err != nil {
		return err
	}
	defer d.lockDevice(c.DeviceID)()
	d.leave(ctx, c.DeviceID, "unsubscribe")
	d.router.Unbind(c.DeviceID)
	reply(s, protocol.EventUnsubscribed, StatusPayload{
		Message: fmt.Sprintf("Device %s unsubscribed", c.DeviceID),
	})
	return nil
}

// disconnect tears down a device only while s still owns it; a device that
// re-subscribed on another connection is left alone.
func (d *Dispatcher) disconnect(ctx context.Context, s sessions.Session, c Disconnect) {
	if c.DeviceID == "" {
		return
	}
	defer d.lockDevice(c.DeviceID)()
	if !d.router.Release(c.DeviceID, s) {
		return
	}
	d.leave(ctx, c.DeviceID, "disconnect")
}

// leave must run under the device lock.
func (d *Dispatcher) leave(ctx context.Context, deviceID, reason string) {
	removed := d.dir.Remove(deviceID)
	for _, k := range d.hs.InvalidateDevice(deviceID) {
		d.pub.Publish(bus.EventExchangeRevoked, bus.ExchangePayload{
			Requester: k.Requester, Target: k.Target, Actor: deviceID,
		})
	}
	if removed {
		if d.thumbs != nil {
			if err := d.thumbs.Remove(ctx, deviceID); err != nil {
				slog.Warn("swap: thumbnail remove failed", "device", deviceID, "error", err)
			}
		}
		d.pub.Publish(bus.EventDeviceUnsubscribed, bus.DevicePayload{DeviceID: deviceID, Reason: reason})
		slog.Debug("swap: device left", "device", deviceID, "reason", reason)
	}
}

func (d *Dispatcher) requestExchange(s sessions.Session, c RequestCardExchange) error {
	if err := validatePair(c.DeviceID, c.PeerDeviceID); err != nil {
		return err
	}
	if err := validateDisplayName(c.DisplayName); err != nil {
		return err
	}
	self, ok := d.dir.Get(c.DeviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, c.DeviceID)
	}
	if _, ok := d.dir.Get(c.PeerDeviceID); !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, c.PeerDeviceID)
	}

	d.hs.Request(c.DeviceID, c.PeerDeviceID)
	d.pub.Publish(bus.EventExchangeRequested, bus.ExchangePayload{
		Requester: c.DeviceID, Target: c.PeerDeviceID, Actor: c.DeviceID,
	})

	d.router.Deliver(c.PeerDeviceID, protocol.EventCardExchangeRequested, CardPayload{
		DeviceID:     c.DeviceID,
		DisplayName:  c.DisplayName,
		ThumbnailURL: self.ThumbnailURL,
	})
	reply(s, protocol.EventWaitingForAcceptance, PeerRef{PeerDeviceID: c.PeerDeviceID})
	return nil
}

func (d *Dispatcher) acceptExchange(s sessions.Session, c AcceptCardExchange) error {
	if err := validatePair(c.DeviceID, c.PeerDeviceID); err != nil {
		return err
	}
	if err := validateDisplayName(c.DisplayName); err != nil {
		return err
	}
	if err := validateCardData(c.CardData); err != nil {
		return err
	}
	if !d.hs.TryAccept(c.PeerDeviceID, c.DeviceID) {
		return fmt.Errorf("%w: %s → %s", ErrStaleHandshake, c.PeerDeviceID, c.DeviceID)
	}
	d.pub.Publish(bus.EventExchangeAccepted, bus.ExchangePayload{
		Requester: c.PeerDeviceID, Target: c.DeviceID, Actor: c.DeviceID,
	})

	d.router.Deliver(c.PeerDeviceID, protocol.EventCardExchangeAccepted, CardPayload{
		DeviceID:     c.DeviceID,
		DisplayName:  c.DisplayName,
		CardData:     c.CardData,
		ThumbnailURL: d.thumbnailOf(c.DeviceID),
	})
	reply(s, protocol.EventAcceptanceSent, PeerRef{PeerDeviceID: c.PeerDeviceID})
	return nil
}

func (d *Dispatcher) revokeExchange(s sessions.Session, c RevokeCardExchangeRequest) error {
	if err := validatePair(c.DeviceID, c.PeerDeviceID); err != nil {
		return err
	}
	if !d.hs.TryRevoke(c.DeviceID, c.PeerDeviceID) {
		return fmt.Errorf("%w: %s → %s", ErrStaleHandshake, c.DeviceID, c.PeerDeviceID)
	}
	d.pub.Publish(bus.EventExchangeRevoked, bus.ExchangePayload{
		Requester: c.DeviceID, Target: c.PeerDeviceID, Actor: c.DeviceID,
	})

	reply(s, protocol.EventRevokeSent, PeerRef{PeerDeviceID: c.PeerDeviceID})
	d.router.Deliver(c.PeerDeviceID, protocol.EventCardExchangeRequestRevoked, PeerRef{PeerDeviceID: c.DeviceID})
	return nil
}

func (d *Dispatcher) sendCardData(s sessions.Session, c SendCardData) error {
	if err := validatePair(c.DeviceID, c.PeerDeviceID); err != nil {
		return err
	}
	if err := validateDisplayName(c.DisplayName); err != nil {
		return err
	}
	if err := validateCardData(c.CardData); err != nil {
		return err
	}
	self, ok := d.dir.Get(c.DeviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, c.DeviceID)
	}
	if !d.hs.IsAccepted(c.DeviceID, c.PeerDeviceID) {
		return fmt.Errorf("%w: no accepted exchange between %s and %s", ErrStaleHandshake, c.DeviceID, c.PeerDeviceID)
	}
	if key, ok := d.hs.MarkCompleted(c.DeviceID, c.PeerDeviceID); ok {
		d.pub.Publish(bus.EventExchangeCompleted, bus.ExchangePayload{
			Requester: key.Requester, Target: key.Target, Actor: c.DeviceID,
		})
	}

	d.router.Deliver(c.PeerDeviceID, protocol.EventCardDataReceived, CardPayload{
		DeviceID:     c.DeviceID,
		DisplayName:  c.DisplayName,
		CardData:     c.CardData,
		ThumbnailURL: self.ThumbnailURL,
	})
	reply(s, protocol.EventCardDataSent, PeerRef{PeerDeviceID: c.PeerDeviceID})
	return nil
}

func (d *Dispatcher) thumbnailOf(deviceID string) string {
	if dev, ok := d.dir.Get(deviceID); ok {
		return dev.ThumbnailURL
	}
	return ""
}
