package regulation

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintPrefixLen bounds how much of the content participates in the
// fingerprint. Edits past this prefix do not change a document's identity.
const fingerprintPrefixLen = 1000

// Fingerprint derives the dedup key for a document from its title and at most
// the first 1000 characters of its content. It is a pure function: identical
// inputs always hash to the same 64-char lowercase hex digest.
func Fingerprint(title, content string) string {
	data := title
	if content != "" {
		runes := []rune(content)
		if len(runes) > fingerprintPrefixLen {
			runes = runes[:fingerprintPrefixLen]
		}
		data += string(runes)
	}
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
