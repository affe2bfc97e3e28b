package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PromptHash fingerprints prompt text for the call ledger. Whitespace runs
// collapse first so reformatted prompts share a hash; the text itself is
// never stored.
func PromptHash(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(NormalizeSpaces(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func NormalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
