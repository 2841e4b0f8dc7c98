package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// NodeKey derives the stable identity of a document from its parent, name and depth.
func NodeKey(parentKey, displayName string, depth int) string {
	base := filepath.Base(displayName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	key := fmt.Sprintf("%s_d%d", stem, depth)
	if parentKey == "" {
		return key
	}
	return parentKey + "/" + key
}

var unsafeNameRegex = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// SafeName converts a node key into a string usable as a file or object name.
// Distinct keys always give distinct names: when sanitizing drops or merges
// characters, a short hash of the raw key is appended.
func SafeName(key string) string {
	name := strings.ReplaceAll(key, "/", "__")
	name = unsafeNameRegex.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name != "" && strings.ReplaceAll(name, "__", "/") == key {
		return name
	}
	if name == "" {
		name = "untitled"
	}
	sum := sha256.Sum256([]byte(key))
	return name + "-" + hex.EncodeToString(sum[:])[:12]
}
