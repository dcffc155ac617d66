package cloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	signMethod = "HMAC-SHA256"
	apiPrefix  = "/v1.0/"
)

// ResolveURL expands uri against host. Absolute paths are joined to the host,
// full URLs are kept, and bare paths are placed under /v1.0/.
func ResolveURL(host, uri string) string {
	switch {
	case strings.HasPrefix(uri, "/"):
		return "https://" + host + uri
	case strings.HasPrefix(uri, "http"):
		return uri
	default:
		return "https://" + host + apiPrefix + uri
	}
}

// CanonicalPath strips scheme and host from rawURL, keeping any query that is
// part of the string.
func CanonicalPath(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "//"); i >= 0 {
		rest = rest[i+2:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[i+1:]
	}
	return "/" + rest
}

// StringToSign assembles the signing payload. An empty token produces the
// token-acquisition form.
func StringToSign(key, token, timestamp, method string, body []byte, path string) string {
	digest := sha256.Sum256(body)

	var b strings.Builder
	b.WriteString(key)
	b.WriteString(token)
	b.WriteString(timestamp)
	b.WriteString(method)
	b.WriteString("\n")
	b.WriteString(hex.EncodeToString(digest[:]))
	b.WriteString("\n\n")
	b.WriteString(path)
	return b.String()
}

// Sign returns the uppercase hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
