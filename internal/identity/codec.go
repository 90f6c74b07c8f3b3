package identity

import (
	"encoding/json"
	"fmt"
)

// encodeIdentity serializes an identity record for the cache store.
func encodeIdentity(id *DeviceIdentity) ([]byte, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("identity: encode record: %w", err)
	}
	return raw, nil
}

// decodeIdentity parses a cache store record.
func decodeIdentity(raw []byte) (*DeviceIdentity, error) {
	var id DeviceIdentity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("identity: decode record: %w", err)
	}
	return &id, nil
}
