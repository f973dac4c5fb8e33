package swap

import (
	"encoding/json"

	"github.com/nextlevelbuilder/cardswap/internal/proximity"
)

// PeerEncoding selects how peer lists are serialized in Subscribed/Updated events.
type PeerEncoding int

const (
	// PeerEncodingStructured sends a JSON array of peer objects.
	PeerEncodingStructured PeerEncoding = iota
	// PeerEncodingLegacy sends a JSON array of strings, each one a separately
	// serialized peer object with PascalCase keys, as older clients expect.
	PeerEncodingLegacy
)

// ParsePeerEncoding maps a config value to a PeerEncoding.
func ParsePeerEncoding(s string) PeerEncoding {
	if s == "legacy" {
		return PeerEncodingLegacy
	}
	return PeerEncodingStructured
}

type legacyPeer struct {
	DeviceID     string  `json:"DeviceId"`
	Latitude     float64 `json:"Latitude"`
	Longitude    float64 `json:"Longitude"`
	DisplayName  string  `json:"DisplayName"`
	ThumbnailURL string  `json:"ThumbnailUrl"`
}

func (e PeerEncoding) encode(peers []proximity.Peer) any {
	if e != PeerEncodingLegacy {
		if peers == nil {
			return []proximity.Peer{}
		}
		return peers
	}

	out := make([]string, 0, len(peers))
	for _, p := range peers {
		data, err := json.Marshal(legacyPeer{
			DeviceID:     p.DeviceID,
			Latitude:     p.Latitude,
			Longitude:    p.Longitude,
			DisplayName:  p.DisplayName,
			ThumbnailURL: p.ThumbnailURL,
		})
		if err != nil {
			continue
		}
		out = append(out, string(data))
	}
	return out
}

// StatusPayload carries a human readable confirmation.
type StatusPayload struct {
	Message string `json:"message"`
}

// PeerRef names the other side of an exchange.
type PeerRef struct {
	PeerDeviceID string `json:"peerDeviceId"`
}

// CardPayload describes the device behind an exchange event and, once
// accepted, its card.
type CardPayload struct {
	DeviceID     string `json:"deviceId"`
	DisplayName  string `json:"displayName"`
	CardData     string `json:"cardData,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl"`
}
