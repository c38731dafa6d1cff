package store

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	maxPlainKeyLen = 128
	maxNameLen     = 200

	encodedPrefix = "~"
	hashedPrefix  = "@"
)

// fileName maps a key to a record name that is safe as a single path segment.
// Safe keys are kept verbatim, other keys are base64url encoded and keys whose
// encoding would be too long are replaced by their sha256.
func fileName(key string) string {
	if isSafeKey(key) {
		return key
	}
	enc := encodedPrefix + base64.RawURLEncoding.EncodeToString([]byte(key))
	if len(enc) <= maxNameLen {
		return enc
	}
	sum := sha256.Sum256([]byte(key))
	return hashedPrefix + hex.EncodeToString(sum[:])
}

// keyFromName reverses fileName. Hashed names cannot be reversed and report ok=false.
func keyFromName(name string) (key string, ok bool) {
	switch {
	case strings.HasPrefix(name, hashedPrefix):
		return "", false
	case strings.HasPrefix(name, encodedPrefix):
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(name, encodedPrefix))
		if err != nil {
			return "", false
		}
		return string(raw), true
	default:
		return name, true
	}
}

func isSafeKey(key string) bool {
	if key == "" || len(key) > maxPlainKeyLen || key[0] == '.' {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
