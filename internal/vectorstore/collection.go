package vectorstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// maxCollectionName is the limit both backends accept.
	maxCollectionName = 64
	hashSuffixLen     = 9 // "_" + 8 hex chars
	defaultCollection = "issuerag"
)

// CollectionName maps s onto ^[a-z0-9_]{1,64}$. Other characters become
// underscores, runs of underscores collapse, and names that are too long
// are truncated with a hash suffix so distinct inputs stay distinct.
//
//	"Payments Team/Issues" -> "payments_team_issues"
//	"" or "!!!"            -> "issuerag"
func CollectionName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	name = strings.Trim(name, "_")
	if name == "" {
		return defaultCollection
	}
	if len(name) > maxCollectionName {
		sum := sha256.Sum256([]byte(name))
		base := strings.TrimRight(name[:maxCollectionName-hashSuffixLen], "_")
		name = base + "_" + hex.EncodeToString(sum[:])[:8]
	}
	return name
}
