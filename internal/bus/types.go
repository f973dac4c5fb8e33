package bus

import "time"

// Domain event names.
const (
	EventDeviceSubscribed   = "device.subscribed"
	EventDeviceUnsubscribed = "device.unsubscribed"
	EventExchangeRequested  = "exchange.requested"
	EventExchangeAccepted   = "exchange.accepted"
	EventExchangeRevoked    = "exchange.revoked"
	EventExchangeCompleted  = "exchange.completed"
)

// Event is a domain event published on the bus.
type Event struct {
	Name    string
	Payload any
	At      time.Time
}

// ExchangePayload accompanies exchange.* events.
type ExchangePayload struct {
	Requester string
	Target    string
	Actor     string // device that triggered the transition
}

// DevicePayload accompanies device.* events.
type DevicePayload struct {
	DeviceID string
	Reason   string // "unsubscribe" or "disconnect" for device.unsubscribed
}

// EventHandler receives bus events. Handlers must not block.
type EventHandler func(Event)
