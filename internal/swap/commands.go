package swap

import "github.com/nextlevelbuilder/cardswap/pkg/protocol"

// Command is the closed set of client commands accepted by Dispatch.
type Command interface {
	// Name returns the wire method name.
	Name() string
	command()
}

// Subscribe registers or re-registers a device with its position and thumbnail.
type Subscribe struct {
	DeviceID    string
	Longitude   float64
	Latitude    float64
	DisplayName string
	Image       []byte
}

// Update moves an already subscribed device.
type Update struct {
	DeviceID    string
	Longitude   float64
	Latitude    float64
	DisplayName string
}

// Unsubscribe removes a device from the directory.
type Unsubscribe struct {
	DeviceID string
}

// RequestCardExchange asks PeerDeviceID to exchange cards with DeviceID.
type RequestCardExchange struct {
	DeviceID     string
	PeerDeviceID string
	DisplayName  string
}

// AcceptCardExchange accepts the request PeerDeviceID made to DeviceID and
// hands over DeviceID's card.
type AcceptCardExchange struct {
	PeerDeviceID string
	DeviceID     string
	DisplayName  string
	CardData     string
}

// RevokeCardExchangeRequest withdraws DeviceID's outbound request to PeerDeviceID.
type RevokeCardExchangeRequest struct {
	DeviceID     string
	PeerDeviceID string
}

// SendCardData sends DeviceID's card to PeerDeviceID over an accepted exchange.
type SendCardData struct {
	DeviceID     string
	PeerDeviceID string
	DisplayName  string
	CardData     string
}

// Disconnect is raised by the transport when the session bound to DeviceID goes away.
type Disconnect struct {
	DeviceID string
}

func (Subscribe) Name() string                 { return protocol.MethodSubscribe }
func (Update) Name() string                    { return protocol.MethodUpdate }
func (Unsubscribe) Name() string               { return protocol.MethodUnsubscribe }
func (RequestCardExchange) Name() string       { return protocol.MethodRequestCardExchange }
func (AcceptCardExchange) Name() string        { return protocol.MethodAcceptCardExchange }
func (RevokeCardExchangeRequest) Name() string { return protocol.MethodRevokeCardExchangeRequest }
func (SendCardData) Name() string              { return protocol.MethodSendCardData }
func (Disconnect) Name() string                { return "disconnect" }

func (Subscribe) command()                 {}
func (Update) command()                    {}
func (Unsubscribe) command()               {}
func (RequestCardExchange) command()       {}
func (AcceptCardExchange) command()        {}
func (RevokeCardExchangeRequest) command() {}
func (SendCardData) command()              {}
func (Disconnect) command()                {}
