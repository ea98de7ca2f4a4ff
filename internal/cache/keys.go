package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// HTTPKey derives a cache key from (method, path, sorted query string,
// vary headers) per spec §4.C. varyValues must be supplied by the
// caller in the same order as the policy's configured vary headers.
func HTTPKey(method, path string, query url.Values, varyValues []string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(':')
	b.WriteString(path)
	b.WriteByte('?')
	b.WriteString(sortedQuery(query))
	for _, v := range varyValues {
		b.WriteByte('|')
		b.WriteString(v)
	}
	return hashKey(b.String())
}

func sortedQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if i+j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// DecoratorKey derives a cache key from a function identity and its
// argument fingerprint, or a user-supplied CacheKey override (spec
// §4.C "for decorator mode, from function identity and argument
// fingerprint (or user-supplied cache_key)").
func DecoratorKey(module, name string, argFingerprint string, override string) string {
	if override != "" {
		return override
	}
	return hashKey(fmt.Sprintf("%s:%s:%s", module, name, argFingerprint))
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// Cacheable reports whether an HTTP method/status pair may be cached
// (spec §4.C "Only idempotent-method responses with cacheable status").
func Cacheable(method string, status int) bool {
	if method != "GET" && method != "HEAD" {
		return false
	}
	switch status {
	case 200, 203, 204, 206, 300, 301, 404, 405, 410, 414, 501:
		return true
	default:
		return false
	}
}
