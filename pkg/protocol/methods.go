package protocol

// System methods.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"
)

// Client commands. Argument order for positional params is noted per command.
const (
	MethodSubscribe                 = "Subscribe"                 // deviceId, longitude, latitude, displayName, image
	MethodUpdate                    = "Update"                    // deviceId, longitude, latitude, displayName
	MethodUnsubscribe               = "Unsubscribe"               // deviceId
	MethodRequestCardExchange       = "RequestCardExchange"       // deviceId, peerDeviceId, displayName
	MethodAcceptCardExchange        = "AcceptCardExchange"        // peerDeviceId, deviceId, displayName, cardData
	MethodRevokeCardExchangeRequest = "RevokeCardExchangeRequest" // deviceId, peerDeviceId
	MethodSendCardData              = "SendCardData"              // deviceId, peerDeviceId, displayName, cardData
)
