// Package identity owns the long-lived device credential Clawline presents
// to the gateway: an Ed25519 keypair, a deterministic device fingerprint,
// and the canonical signed payload used in the connect handshake.
//
// The private key is kept in the OS keychain when one is available; the
// public identity fields are cached in a fast file-backed store for
// synchronous reads. The cache is never authoritative: on a cold start with
// the keychain populated but the cache empty, the cache is rebuilt from the
// keychain.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clawline/clawline/internal/appdir"
	"github.com/clawline/clawline/internal/logging"
	"github.com/clawline/clawline/internal/secrets"
	"github.com/clawline/clawline/internal/store"
)

// CacheKey is the key under which the identity record is cached in the
// key/value store.
const CacheKey = "device-identity"

// DeviceIdentity is the per-installation asymmetric credential.
// DeviceID is always the lowercase-hex SHA-256 digest of PublicKey.
type DeviceIdentity struct {
	DeviceID   string `json:"deviceId"`
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // milliseconds since epoch
}

// Valid reports whether all four fields are present and structurally
// consistent with each other.
func (id *DeviceIdentity) Valid() bool {
	if id == nil || id.DeviceID == "" || id.CreatedAt <= 0 {
		return false
	}
	if len(id.PublicKey) != ed25519.PublicKeySize || len(id.PrivateKey) != ed25519.PrivateKeySize {
		return false
	}
	return id.DeviceID == Fingerprint(id.PublicKey)
}

// validPublic is like Valid but ignores the private key, for cache records
// whose key lives in the keychain.
func (id *DeviceIdentity) validPublic() bool {
	if id == nil || id.DeviceID == "" || id.CreatedAt <= 0 {
		return false
	}
	if len(id.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return id.DeviceID == Fingerprint(id.PublicKey)
}

// Fingerprint returns the lowercase-hex SHA-256 digest of a public key.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// Provider loads, creates, and signs with the device identity.
// It is safe for concurrent use.
type Provider struct {
	secrets secrets.SecretStore
	cache   store.KV

	mu  sync.Mutex
	log *slog.Logger
}

// NewProvider creates a Provider over the given secure store and cache.
func NewProvider(sec secrets.SecretStore, cache store.KV) *Provider {
	return &Provider{
		secrets: sec,
		cache:   cache,
		log:     logging.Identity(),
	}
}

// NewDefaultProvider creates a Provider using the platform keychain and a
// file-backed cache under the Clawline data directory. The identity is
// always durable: when no keychain is available the private key is kept in
// the file store alongside the public fields.
func NewDefaultProvider() (*Provider, error) {
	path, err := appdir.IdentityPath()
	if err != nil {
		return nil, fmt.Errorf("identity: resolve cache path: %w", err)
	}
	return NewProvider(secrets.Default(), store.NewFileStore(path)), nil
}

// LoadOrCreate returns the persisted identity if present and structurally
// valid, generating, persisting, and returning a fresh one otherwise.
// Repeated calls return the same DeviceID and PublicKey until Reset.
func (p *Provider) LoadOrCreate() (*DeviceIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id := p.load(); id != nil {
		return id, nil
	}

	id, err := generate()
	if err != nil {
		return nil, err
	}
	p.persist(id)
	p.log.Info("generated new device identity", "device_id", id.DeviceID)
	return id, nil
}

// Reset deletes the identity from both stores. The next LoadOrCreate
// generates a fresh keypair.
func (p *Provider) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.secrets.IsSupported() {
		if err := p.secrets.Delete(secrets.ServiceName, secrets.AccountDeviceKey); err != nil && !errors.Is(err, secrets.ErrNotFound) {
			errs = append(errs, fmt.Errorf("identity: delete keychain entry: %w", err))
		}
	}
	if err := p.cache.Delete(CacheKey); err != nil {
		errs = append(errs, fmt.Errorf("identity: delete cache entry: %w", err))
	}
	return errors.Join(errs...)
}

// load returns a valid persisted identity, or nil when none exists.
// Callers must hold p.mu.
func (p *Provider) load() *DeviceIdentity {
	cached := p.loadCached()

	priv := p.loadKeychainKey()
	if priv == nil {
		// No keychain (or nothing stored there): the cache record must be
		// self-contained, private key included.
		if cached.Valid() {
			return cached
		}
		return nil
	}

	// The keychain is authoritative for the private key. A matching cache
	// record is used as-is; anything else is rebuilt from the key and the
	// cache repopulated.
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil
	}
	id := &DeviceIdentity{
		DeviceID:   Fingerprint(pub),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if cached.validPublic() && cached.DeviceID == id.DeviceID {
		id.CreatedAt = cached.CreatedAt
		return id
	}

	p.log.Info("repopulating identity cache from keychain", "device_id", id.DeviceID)
	p.writeCache(id, false)
	return id
}

// loadCached reads the cache record; never fails hard.
func (p *Provider) loadCached() *DeviceIdentity {
	raw, err := p.cache.Get(CacheKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.log.Warn("identity cache unreadable", "error", err)
		}
		return nil
	}
	id, err := decodeIdentity(raw)
	if err != nil {
		p.log.Warn("identity cache corrupt, ignoring", "error", err)
		return nil
	}
	return id
}

// loadKeychainKey reads the private key from the secure store, if any.
func (p *Provider) loadKeychainKey() ed25519.PrivateKey {
	if !p.secrets.IsSupported() {
		return nil
	}
	encoded, err := p.secrets.Get(secrets.ServiceName, secrets.AccountDeviceKey)
	if err != nil {
		if !errors.Is(err, secrets.ErrNotFound) {
			p.log.Warn("keychain read failed", "error", err)
		}
		return nil
	}
	key, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(key) != ed25519.PrivateKeySize {
		p.log.Warn("keychain holds malformed device key, ignoring")
		return nil
	}
	return key
}

// persist writes the identity to the secure store and the cache. Failures
// are logged and never abort the caller: the generated identity stays valid
// for the lifetime of this process regardless.
func (p *Provider) persist(id *DeviceIdentity) {
	keyInKeychain := false
	if p.secrets.IsSupported() {
		encoded := base64.RawURLEncoding.EncodeToString(id.PrivateKey)
		if err := p.secrets.Set(secrets.ServiceName, secrets.AccountDeviceKey, encoded); err != nil {
			p.log.Error("failed to store device key in keychain", "error", err)
		} else {
			keyInKeychain = true
		}
	}
	p.writeCache(id, !keyInKeychain)
}

// writeCache stores the identity record. The private key is included only
// when it is not held by the keychain.
func (p *Provider) writeCache(id *DeviceIdentity, includePrivate bool) {
	record := *id
	if !includePrivate {
		record.PrivateKey = nil
	}
	raw, err := encodeIdentity(&record)
	if err != nil {
		p.log.Error("failed to encode identity record", "error", err)
		return
	}
	if err := p.cache.Set(CacheKey, raw); err != nil {
		p.log.Error("failed to write identity cache", "error", err)
	}
}

// generate creates a fresh identity.
func generate() (*DeviceIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return &DeviceIdentity{
		DeviceID:   Fingerprint(pub),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  time.Now().UnixMilli(),
	}, nil
}
