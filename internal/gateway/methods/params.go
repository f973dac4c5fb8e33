package methods

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/cardswap/internal/swap"
)

// bindParams decodes req params into dst. Params are either a JSON object
// keyed by the dst json tags or a JSON array of positional arguments, which
// are matched to names in order.
func bindParams(raw json.RawMessage, names []string, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &swap.ValidationError{Field: "params", Reason: "missing"}
	}

	if raw[0] == '[' {
		var args []json.RawMessage
		if err := json.Unmarshal(raw, &args); err != nil {
			return &swap.ValidationError{Field: "params", Reason: err.Error()}
		}
		if len(args) > len(names) {
			return &swap.ValidationError{
				Field:  "params",
				Reason: fmt.Sprintf("expected at most %d arguments, got %d", len(names), len(args)),
			}
		}
		named := make(map[string]json.RawMessage, len(args))
		for i, a := range args {
			named[names[i]] = a
		}
		var err error
		if raw, err = json.Marshal(named); err != nil {
			return err
		}
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &swap.ValidationError{Field: typeErr.Field, Reason: "expected " + typeErr.Type.String()}
		}
		return &swap.ValidationError{Field: "params", Reason: err.Error()}
	}
	return nil
}

// requireCoords unwraps optional coordinates, rejecting missing ones.
func requireCoords(lon, lat *float64) (float64, float64, error) {
	if lon == nil {
		return 0, 0, &swap.ValidationError{Field: "longitude", Reason: "required"}
	}
	if lat == nil {
		return 0, 0, &swap.ValidationError{Field: "latitude", Reason: "required"}
	}
	return *lon, *lat, nil
}

// decodeImage accepts plain base64 or a data URL ("data:image/png;base64,...").
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return nil, &swap.ValidationError{Field: "image", Reason: "unsupported data URL"}
		}
		s = s[comma+1:]
	}
	if len(s) > base64.StdEncoding.EncodedLen(swap.MaxImageBytes) {
		return nil, &swap.ValidationError{Field: "image", Reason: "too large"}
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, &swap.ValidationError{Field: "image", Reason: "not valid base64"}
}
