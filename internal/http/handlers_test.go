package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextlevelbuilder/cardswap/internal/store"
	"github.com/nextlevelbuilder/cardswap/internal/thumbnail"
)

type fakeThumbs map[string]thumbnail.Object

func (f fakeThumbs) Fetch(_ context.Context, key string) (thumbnail.Object, error) {
	if key == "broken" {
		return thumbnail.Object{}, errors.New("backend down")
	}
	obj, ok := f[key]
	if !ok {
		return thumbnail.Object{}, thumbnail.ErrNotFound
	}
	return obj, nil
}

type fakeLog struct {
	records   []store.ExchangeRecord
	gotDevice string
	gotLimit  int
	err       error
}

func (l *fakeLog) Append(context.Context, store.ExchangeRecord) error { return nil }

func (l *fakeLog) Recent(_ context.Context, deviceID string, limit int) ([]store.ExchangeRecord, error) {
	l.gotDevice, l.gotLimit = deviceID, limit
	return l.records, l.err
}

func (l *fakeLog) Close() error { return nil }

func TestThumbnailsHandler(t *testing.T) {
	mux := http.NewServeMux()
	NewThumbnailsHandler(fakeThumbs{
		"abc": {Data: []byte("jpegbytes"), ContentType: "image/jpeg"},
	}).RegisterRoutes(mux, "/thumbnails")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantType   string
	}{
		{"found", "/thumbnails/abc?v=k1", http.StatusOK, "image/jpeg"},
		{"unknown", "/thumbnails/nope", http.StatusNotFound, "application/json"},
		{"backend error", "/thumbnails/broken", http.StatusInternalServerError, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Content-Type"); got != tt.wantType {
				t.Errorf("content type = %q, want %q", got, tt.wantType)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != "jpegbytes" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestThumbnailsHandler_RejectsPost(t *testing.T) {
	mux := http.NewServeMux()
	NewThumbnailsHandler(fakeThumbs{}).RegisterRoutes(mux, "/thumbnails")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/thumbnails/abc", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("got %d %v", rec.Code, body)
	}
}

func TestHistoryHandler(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := &fakeLog{records: []store.ExchangeRecord{
		{ID: "1", Event: "exchange.requested", Requester: "a", Target: "b", Actor: "a", At: at},
	}}
	mux := http.NewServeMux()
	NewHistoryHandler(log, "s3cret").RegisterRoutes(mux)

	tests := []struct {
		name       string
		path       string
		auth       string
		wantStatus int
		wantLimit  int
	}{
		{"no token", "/v1/exchanges/a", "", http.StatusUnauthorized, 0},
		{"wrong token", "/v1/exchanges/a", "Bearer nope", http.StatusUnauthorized, 0},
		{"default limit", "/v1/exchanges/a", "Bearer s3cret", http.StatusOK, 50},
		{"explicit limit", "/v1/exchanges/a?limit=5", "Bearer s3cret", http.StatusOK, 5},
		{"bad limit", "/v1/exchanges/a?limit=0", "Bearer s3cret", http.StatusBadRequest, 0},
		{"limit too large", "/v1/exchanges/a?limit=5000", "Bearer s3cret", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log.gotLimit = 0
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if log.gotLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", log.gotLimit, tt.wantLimit)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if log.gotDevice != "a" {
				t.Errorf("device = %q", log.gotDevice)
			}
			var body struct {
				Records []store.ExchangeRecord `json:"records"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Records) != 1 || body.Records[0].Event != "exchange.requested" || !body.Records[0].At.Equal(at) {
				t.Errorf("records = %+v", body.Records)
			}
		})
	}
}

func TestHistoryHandler_StoreError(t *testing.T) {
	mux := http.NewServeMux()
	NewHistoryHandler(&fakeLog{err: errors.New("db gone")}, "").RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/exchanges/a", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
