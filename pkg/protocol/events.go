package protocol

// WebSocket event names pushed from server to client.
// Names match the callback names used by existing mobile clients.
const (
	EventSubscribed                 = "Subscribed"
	EventUpdated                    = "Updated"
	EventUnsubscribed               = "Unsubscribed"
	EventCardExchangeRequested      = "CardExchangeRequested"
	EventWaitingForAcceptance       = "WaitingForAcceptance"
	EventCardExchangeAccepted       = "CardExchangeAccepted"
	EventAcceptanceSent             = "AcceptanceSent"
	EventCardExchangeRequestRevoked = "CardExchangeRequestRevoked"
	EventRevokeSent                 = "RevokeSent"
	EventCardDataReceived           = "CardDataReceived"
	EventCardDataSent               = "CardDataSent"
)
