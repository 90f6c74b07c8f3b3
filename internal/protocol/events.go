package protocol

// WebSocket event names pushed from the gateway to the client.
const (
	// EventConnectChallenge carries a nonce the client must fold into its
	// signed connect payload. Emitted before the connect response when the
	// gateway requires a v2 signature.
	EventConnectChallenge = "connect.challenge"

	EventTick     = "tick"
	EventHealth   = "health"
	EventChat     = "chat"
	EventAgent    = "agent"
	EventShutdown = "shutdown"

	// EventSeqGap signals the client missed pushed events (sequence gap).
	EventSeqGap = "seq.gap"

	// EventDevicePairResolved signals a pending device pairing was approved.
	EventDevicePairResolved = "device.pair.resolved"

	// EventPairingRequired signals the connect handshake is parked until the
	// device is paired. This is a waiting state, not a failure.
	EventPairingRequired = "pairing.required"
)

// Event names emitted by the client toward the gateway.
const (
	// EventChatSubscribe requests chat stream delivery for a session. It is
	// fire-and-forget; the gateway does not acknowledge it.
	EventChatSubscribe = "chat.subscribe"
)

// ChallengePayload is the payload of a connect.challenge event.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// PairingRequiredPayload is the payload of a pairing.required event.
type PairingRequiredPayload struct {
	DeviceID string `json:"deviceId,omitempty"`
	Message  string `json:"message,omitempty"`
}
