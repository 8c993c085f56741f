package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes keep hashes of different record kinds from colliding.
const (
	DomainCatalog  = "laurels/catalog/v1"
	DomainMetadata = "laurels/metadata/v1"
)

// Hash returns SHA256(domain || 0x00 || canonical(v)) as lowercase hex.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
