package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint derives the exact-cache document id for a prompt under one
// model configuration. Both parts are length-prefixed, so ("ab", "c") and
// ("a", "bc") hash differently. The result is 64 hex characters.
func Fingerprint(prompt, signature string) string {
	var b strings.Builder
	b.Grow(len(prompt) + len(signature) + 32)
	b.WriteString("prompt:")
	b.WriteString(strconv.Itoa(len(prompt)))
	b.WriteByte(':')
	b.WriteString(prompt)
	b.WriteString("|llm:")
	b.WriteString(strconv.Itoa(len(signature)))
	b.WriteByte(':')
	b.WriteString(signature)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
