package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Key decodes the snapshot encryption key. Both base64 and hex encodings of a
// 32-byte key are accepted; an empty key yields nil.
func (s StoreConfig) Key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s.EncryptionKey); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := hex.DecodeString(s.EncryptionKey); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, fmt.Errorf("store.encryption_key must be a base64 or hex encoded 32-byte key")
}
