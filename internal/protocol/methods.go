package protocol

// RPC method names accepted by the gateway.
const (
	MethodConnect      = "connect"
	MethodHealth       = "health"
	MethodChatHistory  = "chat.history"
	MethodChatSend     = "chat.send"
	MethodChatAbort    = "chat.abort"
	MethodSessionsList = "sessions.list"
	MethodModelsList   = "models.list"
)
