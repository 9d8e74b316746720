package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// HashStrings returns a SHA256 hash of the provided strings with newline separators.
func HashStrings(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashSet hashes the parts after sorting a copy, so input order does not matter.
func HashSet(parts []string) string {
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	return HashStrings(sorted...)
}
