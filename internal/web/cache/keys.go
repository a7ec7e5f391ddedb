package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// QueryKey derives a cache key for a query of one entity type. Parameters
// are sorted so equivalent queries share a key.
func QueryKey(entityType string, params url.Values) string {
	var parts []string
	for key, values := range params {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		for _, v := range sorted {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	sort.Strings(parts)

	hash := sha256.Sum256([]byte(strings.Join(parts, "&")))
	// Truncated to 16 bytes for shorter keys
	return "query:" + entityType + ":" + hex.EncodeToString(hash[:16])
}
