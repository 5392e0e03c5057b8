package documents

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash is the persisted fingerprint used for edit idempotence: saving
// byte-identical content never allocates a new version.
func ContentHash(content Content) string {
	digest := sha256.Sum256([]byte(content.HTML))
	return hex.EncodeToString(digest[:])
}
