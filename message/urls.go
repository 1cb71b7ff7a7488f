package message

import "strings"

// NormalizeServiceURL canonicalizes a service endpoint URL so that equality
// comparisons between resource and platform URLs are well defined. Every
// normalized URL ends with exactly one "/". Normalization is idempotent.
func NormalizeServiceURL(url string) string {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return ""
	}
	return strings.TrimRight(trimmed, "/") + "/"
}

// ServiceURLsEqual compares two service URLs post-normalization
func ServiceURLsEqual(a, b string) bool {
	return NormalizeServiceURL(a) == NormalizeServiceURL(b)
}
