// Package proximity keeps the set of currently subscribed devices and answers
// "who is within radius R of device X" queries.
//
// The directory is split into fixed shards keyed by a hash of the device ID so
// that writes for unrelated devices never contend on the same lock. A nearby
// query takes each shard's read lock in turn and works on copies.
package proximity

import (
	"errors"
	"hash/maphash"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotSubscribed is returned when an operation references a device with no active record.
var ErrNotSubscribed = errors.New("device not subscribed")

const shardCount = 32

// Device is one subscribed device.
type Device struct {
	DeviceID     string
	Position     Position
	DisplayName  string
	ThumbnailURL string
	SubscribedAt time.Time
	UpdatedAt    time.Time
}

// Peer is the projection of a Device returned by nearby queries.
type Peer struct {
	DeviceID     string  `json:"deviceId"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	DisplayName  string  `json:"displayName"`
	ThumbnailURL string  `json:"thumbnailUrl"`

	distance float64
}

// Distance returns the distance in meters from the query origin, as computed by Nearby.
func (p Peer) Distance() float64 { return p.distance }

type shard struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// Directory is safe for concurrent use.
type Directory struct {
	shards [shardCount]shard
	seed   maphash.Seed
	radius atomic.Uint64 // math.Float64bits of the radius in meters
	now    func() time.Time
}

// NewDirectory creates an empty directory using radiusMeters as the process-wide proximity radius.
func NewDirectory(radiusMeters float64) *Directory {
	d := &Directory{
		seed: maphash.MakeSeed(),
		now:  time.Now,
	}
	for i := range d.shards {
		d.shards[i].devices = make(map[string]*Device)
	}
	d.SetRadius(radiusMeters)
	return d
}

// Radius returns the configured proximity radius in meters.
func (d *Directory) Radius() float64 {
	return math.Float64frombits(d.radius.Load())
}

// SetRadius replaces the proximity radius. Negative values are clamped to zero.
func (d *Directory) SetRadius(meters float64) {
	if meters < 0 || math.IsNaN(meters) {
		meters = 0
	}
	d.radius.Store(math.Float64bits(meters))
}

func (d *Directory) shardFor(deviceID string) *shard {
	return &d.shards[maphash.String(d.seed, deviceID)%shardCount]
}

// Upsert creates or replaces the record for deviceID.
func (d *Directory) Upsert(deviceID string, pos Position, displayName, thumbnailURL string) Device {
	now := d.now()
	dev := &Device{
		DeviceID:     deviceID,
		Position:     pos,
		DisplayName:  displayName,
		ThumbnailURL: thumbnailURL,
		SubscribedAt: now,
		UpdatedAt:    now,
	}

	s := d.shardFor(deviceID)
	s.mu.Lock()
	s.devices[deviceID] = dev
	s.mu.Unlock()
	return *dev
}

// UpdatePosition mutates position and display name of an existing record in place.
func (d *Directory) UpdatePosition(deviceID string, pos Position, displayName string) (Device, error) {
	s := d.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[deviceID]
	if !ok {
		return Device{}, ErrNotSubscribed
	}
	dev.Position = pos
	dev.DisplayName = displayName
	dev.UpdatedAt = d.now()
	return *dev, nil
}

// Remove deletes the record if present. Returns false when there was nothing to remove.
func (d *Directory) Remove(deviceID string) bool {
	s := d.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[deviceID]; !ok {
		return false
	}
	delete(s.devices, deviceID)
	return true
}

// Get returns a copy of the record for deviceID.
func (d *Directory) Get(deviceID string) (Device, bool) {
	s := d.shardFor(deviceID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	dev, ok := s.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

// Len returns the number of subscribed devices.
func (d *Directory) Len() int {
	n := 0
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.RLock()
		n += len(s.devices)
		s.mu.RUnlock()
	}
	return n
}

// Nearby returns every other subscribed device within radius meters of deviceID,
// ordered by ascending distance with ties broken by device ID.
func (d *Directory) Nearby(deviceID string, radius float64) ([]Peer, error) {
	origin, ok := d.Get(deviceID)
	if !ok {
		return nil, ErrNotSubscribed
	}

	peers := make([]Peer, 0)
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.RLock()
		for id, dev := range s.devices {
			if id == deviceID {
				continue
			}
			dist := Distance(origin.Position, dev.Position)
			if dist > radius {
				continue
			}
			peers = append(peers, Peer{
				DeviceID:     dev.DeviceID,
				Latitude:     dev.Position.Latitude,
				Longitude:    dev.Position.Longitude,
				DisplayName:  dev.DisplayName,
				ThumbnailURL: dev.ThumbnailURL,
				distance:     dist,
			})
		}
		s.mu.RUnlock()
	}

	sort.Slice(peers, func(i, j int) bool {
		if peers[i].distance != peers[j].distance {
			return peers[i].distance < peers[j].distance
		}
		return peers[i].DeviceID < peers[j].DeviceID
	})
	return peers, nil
}
