package protocol

// ClientInfo identifies the connecting client in the connect request.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
	Mode     string `json:"mode"`
}

// DevicePayload carries the cryptographic device identity in the connect
// request.
type DevicePayload struct {
	ID        string `json:"id"`        // lowercase hex SHA-256 of the public key
	PublicKey string `json:"publicKey"` // base64url-encoded raw 32-byte Ed25519 public key
	Signature string `json:"signature"` // base64url-encoded Ed25519 signature over the canonical payload
	SignedAt  int64  `json:"signedAt"`  // milliseconds since epoch
	Nonce     string `json:"nonce,omitempty"`
}

// ConnectAuth carries an optional bearer token.
type ConnectAuth struct {
	Token string `json:"token"`
}

// ConnectParams is the params object of the connect request.
type ConnectParams struct {
	MinProtocol int            `json:"minProtocol"`
	MaxProtocol int            `json:"maxProtocol"`
	Client      ClientInfo     `json:"client"`
	Role        string         `json:"role,omitempty"`
	Scopes      []string       `json:"scopes,omitempty"`
	Device      *DevicePayload `json:"device,omitempty"`
	Auth        *ConnectAuth   `json:"auth,omitempty"`
}

// ServerInfo describes the gateway in a hello result.
type ServerInfo struct {
	Version string `json:"version"`
	ConnID  string `json:"connId"`
}

// HelloResult is the result of a successful connect request.
type HelloResult struct {
	Protocol int        `json:"protocol"`
	Server   ServerInfo `json:"server"`
}
