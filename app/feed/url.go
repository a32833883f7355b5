package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"ref":    true,
}

// CanonicalURL reduces a source link to the form used as its dedup identity.
// Links that do not parse as absolute URLs are returned trimmed but otherwise
// untouched.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false

	query := u.Query()
	for key := range query {
		if trackingParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	// Encode sorts by key.
	u.RawQuery = query.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String()
}

// HashURL is the hex SHA-256 of the canonical form of raw.
func HashURL(raw string) string {
	hash := sha256.Sum256([]byte(CanonicalURL(raw)))
	return hex.EncodeToString(hash[:])
}
