// Package thumbnail stores device images and serves them back by key.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by backends and Fetch for unknown keys.
var ErrNotFound = errors.New("thumbnail not found")

// Object is a stored image.
type Object struct {
	Data        []byte
	ContentType string
}

// Backend persists objects by key.
type Backend interface {
	Put(ctx context.Context, key string, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// keyNamespace scopes device IDs so keys do not reveal them.
var keyNamespace = uuid.MustParse("6f1c1f7e-8f0c-4a57-9d5e-3c2b7f0e4a11")

// KeyFor returns the storage key for a device. Re-subscribing overwrites it.
func KeyFor(deviceID string) string {
	return uuid.NewSHA1(keyNamespace, []byte(deviceID)).String()
}

// ValidKey reports whether key could have been produced by KeyFor.
func ValidKey(key string) bool {
	_, err := uuid.Parse(key)
	return err == nil && len(key) == 36
}

type Options struct {
	URLPrefix string // prepended to keys in returned URLs, e.g. "/thumbnails"
	Normalize bool   // re-encode decodable images as bounded JPEG
	MaxSide   int
	MaxBytes  int
}

// Service implements the blob store used by Subscribe.
type Service struct {
	backend Backend
	opts    Options
	group   singleflight.Group
	now     func() time.Time
}

func NewService(backend Backend, opts Options) *Service {
	opts.URLPrefix = strings.TrimRight(opts.URLPrefix, "/")
	if opts.MaxSide <= 0 {
		opts.MaxSide = 256
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 64 << 10
	}
	return &Service{backend: backend, opts: opts, now: time.Now}
}

// Store saves raw for deviceID and returns its URL. The URL carries a
// version query so clients refetch after a re-subscribe.
func (s *Service) Store(ctx context.Context, deviceID string, raw []byte) (string, error) {
	obj := Object{Data: raw, ContentType: http.DetectContentType(raw)}
	if s.opts.Normalize {
		data, ct, err := Normalize(raw, s.opts.MaxSide, s.opts.MaxBytes)
		switch {
		case errors.Is(err, ErrUndecodable):
			slog.Debug("thumbnail: storing undecodable image as-is", "device", deviceID, "content_type", obj.ContentType)
		case err != nil:
			return "", err
		default:
			obj = Object{Data: data, ContentType: ct}
		}
	}

	key := KeyFor(deviceID)
	if err := s.backend.Put(ctx, key, obj); err != nil {
		return "", fmt.Errorf("store thumbnail: %w", err)
	}
	s.group.Forget(key)

	version := strconv.FormatInt(s.now().UnixNano(), 36)
	return s.opts.URLPrefix + "/" + key + "?v=" + version, nil
}

const fetchTimeout = 10 * time.Second

// Fetch returns the object stored under key. Concurrent fetches of one key
// share a single backend read.
func (s *Service) Fetch(ctx context.Context, key string) (Object, error) {
	if !ValidKey(key) {
		return Object{}, ErrNotFound
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		// Shared by every merged caller, so one caller's cancellation must not fail the rest.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return s.backend.Get(fctx, key)
	})
	if err != nil {
		return Object{}, err
	}
	return v.(Object), nil
}

// Remove deletes the thumbnail of deviceID.
func (s *Service) Remove(ctx context.Context, deviceID string) error {
	key := KeyFor(deviceID)
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove thumbnail: %w", err)
	}
	s.group.Forget(key)
	return nil
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}
