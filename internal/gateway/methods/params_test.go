package methods

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/cardswap/internal/swap"
)

func TestBindParamsPositionalAndNamed(t *testing.T) {
	type subscribeParams struct {
		DeviceID    string   `json:"deviceId"`
		Longitude   *float64 `json:"longitude"`
		Latitude    *float64 `json:"latitude"`
		DisplayName string   `json:"displayName"`
	}

	var pos subscribeParams
	if err := bindParams([]byte(`["dev-1", 13.4, 52.5, "Ann"]`), subscribeArgs, &pos); err != nil {
		t.Fatalf("positional: %v", err)
	}
	if pos.DeviceID != "dev-1" || *pos.Longitude != 13.4 || *pos.Latitude != 52.5 || pos.DisplayName != "Ann" {
		t.Errorf("positional = %+v", pos)
	}

	var named subscribeParams
	if err := bindParams([]byte(`{"latitude": 1, "deviceId": "d", "longitude": 2}`), subscribeArgs, &named); err != nil {
		t.Fatalf("named: %v", err)
	}
	if named.DeviceID != "d" || *named.Longitude != 2 || *named.Latitude != 1 {
		t.Errorf("named = %+v", named)
	}
}

func TestBindParamsErrors(t *testing.T) {
	var dst struct {
		DeviceID string `json:"deviceId"`
	}
	for _, raw := range []string{``, `null`, `["a","b"]`, `{"deviceId": 5}`, `[1`} {
		err := bindParams([]byte(raw), unsubscribeArgs, &dst)
		var ve *swap.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("bindParams(%q) = %v, want ValidationError", raw, err)
		}
	}
}

func TestRequireCoords(t *testing.T) {
	one := 1.0
	if _, _, err := requireCoords(nil, &one); err == nil {
		t.Error("missing longitude accepted")
	}
	if _, _, err := requireCoords(&one, nil); err == nil {
		t.Error("missing latitude accepted")
	}
	lon, lat, err := requireCoords(&one, &one)
	if err != nil || lon != 1 || lat != 1 {
		t.Errorf("requireCoords = %v, %v, %v", lon, lat, err)
	}
}

func TestDecodeImage(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0xff, 0x00}
	std := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"plain", std, raw, false},
		{"data url", "data:image/png;base64," + std, raw, false},
		{"unpadded", base64.RawStdEncoding.EncodeToString(raw), raw, false},
		{"not base64 data url", "data:image/png," + std, nil, true},
		{"garbage", "***", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeImage(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&swap.ValidationError{Field: "x", Reason: "y"}, "INVALID_REQUEST"},
		{swap.ErrNotSubscribed, "NOT_SUBSCRIBED"},
		{swap.ErrStaleHandshake, "FAILED_PRECONDITION"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
