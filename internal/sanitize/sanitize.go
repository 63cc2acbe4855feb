// Package sanitize turns user-supplied identifiers into safe filesystem keys
// and SQL identifiers.
//
// Point ids come straight from the input layer and may contain anything.
// Workspace directories and PostGIS table names must match ^[a-z0-9_]{1,63}$.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the PostgreSQL identifier limit (NAMEDATALEN-1).
	MaxIdentifierLength = 63

	// HashSuffixLength is the length of the hash suffix added to truncated
	// or lossy identifiers. Format: _<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"
)

// Identifier sanitizes a string for use as a key or SQL identifier.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"Fraser River" -> "fraser_river"
//	"stn-08MF005"  -> "stn_08mf005"
//	"" or "!!!"    -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized, s)
	}

	return sanitized
}

// PointKey returns the storage key for a point id. Distinct ids always map to
// distinct keys: when sanitizing loses information a hash of the original id
// is appended.
//
//	"p1"      -> "p1"
//	"P1"      -> "p1_<hash>"
//	"site/03" -> "site_03_<hash>"
func PointKey(id string) string {
	key := Identifier(id)
	if key == id {
		return key
	}
	if len(key) > MaxIdentifierLength-HashSuffixLength {
		key = strings.TrimRight(key[:MaxIdentifierLength-HashSuffixLength], "_")
	}
	return key + hashSuffix(id)
}

// TableName returns a PostgreSQL identifier for name. Identifiers that would
// start with a digit get a "t_" prefix.
func TableName(name string) string {
	id := Identifier(name)
	if id[0] >= '0' && id[0] <= '9' {
		id = Identifier("t_" + id)
	}
	return id
}

// truncateWithHash truncates s to fit within MaxIdentifierLength, appending a
// hash of original to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s, original string) string {
	maxBase := MaxIdentifierLength - HashSuffixLength
	truncated := strings.TrimRight(s[:maxBase], "_")
	return truncated + hashSuffix(original)
}

func hashSuffix(s string) string {
	hash := sha256.Sum256([]byte(s))
	return "_" + hex.EncodeToString(hash[:])[:8]
}
