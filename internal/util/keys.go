package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// StorageID maps a caller key to the backend identifier used by both tiers:
// "<namespace>:<first 32 hex chars of sha256(key)>". The mapping is deterministic
// and keys from different namespaces never share an identifier.
func StorageID(namespace, key string) string {
	sum := sha256.Sum256([]byte(key))
	return namespace + ":" + hex.EncodeToString(sum[:16])
}
