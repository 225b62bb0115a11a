// File: internal/intent/normalize.go
package intent

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeURL turns a planner-supplied URL into an absolute http(s) URL.
// A missing scheme defaults to https.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("is empty")
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(s, "://") || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "data:") {
			return "", fmt.Errorf("scheme of %q is not http or https", s)
		}
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("cannot be parsed: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%q has no host", raw)
	}
	if strings.ContainsAny(u.Host, " \t") {
		return "", fmt.Errorf("%q has an invalid host", raw)
	}
	return u.String(), nil
}

// ResolveAddress interprets free-form address bar input. Input that looks
// like a URL or a hostname is normalized; anything else becomes a query on
// searchURL, which is expected to end with the query parameter (for example
// "https://www.google.com/search?q=").
func ResolveAddress(input, searchURL string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}
	if looksLikeAddress(s) {
		if u, err := NormalizeURL(s); err == nil {
			return u
		}
	}
	return searchURL + url.QueryEscape(strings.Join(strings.Fields(s), " "))
}

// looksLikeAddress reports whether s is an explicit http(s) URL or a bare
// host (optionally with port and path) whose suffix is a real public suffix.
func looksLikeAddress(s string) bool {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return true
	}
	if strings.ContainsAny(s, " \t") {
		return false
	}
	host := s
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || net.ParseIP(host) != nil {
		return true
	}
	if !strings.Contains(host, ".") {
		return false
	}
	// An unlisted TLD comes back as a single non-ICANN label via the list's
	// implicit "*" rule; that is treated as a plain word.
	suffix, icann := publicsuffix.PublicSuffix(host)
	return (icann && suffix != host) || strings.Contains(suffix, ".")
}
