package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"strconv"
	"strings"
)

// Sign produces an Ed25519 signature over the UTF-8 bytes of payload,
// base64url-encoded without padding. A malformed private key yields an empty
// string: callers must treat that as "no signature available", not a fatal
// error.
func Sign(id *DeviceIdentity, payload string) string {
	if id == nil || len(id.PrivateKey) != ed25519.PrivateKeySize {
		return ""
	}
	sig := ed25519.Sign(ed25519.PrivateKey(id.PrivateKey), []byte(payload))
	return base64.RawURLEncoding.EncodeToString(sig)
}

// PublicKeyEncoded returns the base64url encoding of the raw public key, or
// an empty string when the key is malformed.
func PublicKeyEncoded(id *DeviceIdentity) string {
	if id == nil || len(id.PublicKey) != ed25519.PublicKeySize {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(id.PublicKey)
}

// SignatureParams are the fields folded into the canonical signed payload.
type SignatureParams struct {
	DeviceID   string
	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	SignedAtMs int64
	AuthToken  string
	Nonce      string
}

// BuildSignaturePayload joins the signature fields with "|" in fixed order:
//
//	version|deviceId|clientId|clientMode|role|scopes(comma-joined)|signedAtMs|authToken
//
// version is "v2" when a nonce is supplied, in which case the nonce is
// appended as a final field, and "v1" otherwise. The returned string is the
// exact byte sequence that gets signed; any change to field order or
// separator breaks interoperability with the gateway.
func BuildSignaturePayload(p SignatureParams) string {
	version := "v1"
	if p.Nonce != "" {
		version = "v2"
	}
	fields := []string{
		version,
		p.DeviceID,
		p.ClientID,
		p.ClientMode,
		p.Role,
		strings.Join(p.Scopes, ","),
		strconv.FormatInt(p.SignedAtMs, 10),
		p.AuthToken,
	}
	if p.Nonce != "" {
		fields = append(fields, p.Nonce)
	}
	return strings.Join(fields, "|")
}
