package swap

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/nextlevelbuilder/cardswap/internal/proximity"
)

const (
	// MaxDeviceIDLength matches the audit log's VARCHAR(255) device columns.
	MaxDeviceIDLength = 255
	// MaxDisplayNameRunes is measured on the NFC form, so precomposed and
	// decomposed spellings of a name count alike.
	MaxDisplayNameRunes = 128
	MaxCardDataBytes    = 64 << 10
	MaxImageBytes       = 8 << 20
)

func validateDeviceID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid(field, "must not be empty")
	}
	if len(id) > MaxDeviceIDLength {
		return invalid(field, "too long: %d bytes (max %d)", len(id), MaxDeviceIDLength)
	}
	if !utf8.ValidString(id) {
		return invalid(field, "not valid UTF-8")
	}
	return nil
}

func validatePosition(lon, lat float64) error {
	if !(proximity.Position{Latitude: lat, Longitude: lon}).Valid() {
		return invalid("position", "(%v, %v) outside WGS84 bounds", lat, lon)
	}
	return nil
}

func validateDisplayName(name string) error {
	if !utf8.ValidString(name) {
		return invalid("displayName", "not valid UTF-8")
	}
	if n := utf8.RuneCountInString(norm.NFC.String(name)); n > MaxDisplayNameRunes {
		return invalid("displayName", "too long: %d characters (max %d)", n, MaxDisplayNameRunes)
	}
	return nil
}

func validateCardData(card string) error {
	if len(card) > MaxCardDataBytes {
		return invalid("cardData", "too large: %d bytes (max %d)", len(card), MaxCardDataBytes)
	}
	return nil
}

func validatePair(self, peer string) error {
	if err := validateDeviceID("deviceId", self); err != nil {
		return err
	}
	if err := validateDeviceID("peerDeviceId", peer); err != nil {
		return err
	}
	if self == peer {
		return invalid("peerDeviceId", "a device cannot exchange cards with itself")
	}
	return nil
}
