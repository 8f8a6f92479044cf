// Package canonical normalizes raw URL strings into the single canonical
// identity used as the unique key for candidate storefronts. Every component
// must key entities through Normalize; any divergence in normalization
// between components produces duplicate entities.
package canonical

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned for empty or unparsable input. Callers report it
// as the "invalid_url" rejection reason and must not retry.
var ErrInvalidURL = errors.New("invalid url")

var hostExpr = regexp.MustCompile(`^[a-z0-9]([a-z0-9.\-]*[a-z0-9])?(:\d+)?$`)

// Normalize reduces a raw URL to its canonical root-origin identity:
// scheme-stripped, lowercase host, leading "www." label removed, no trailing
// slash, path/query/fragment discarded. Pure function, no I/O.
//
// Normalize is a fixed point: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}

	// Default to https when no scheme is present so bare hosts parse with a
	// host component instead of a path.
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ".")

	// Strip a single leading "www." label. The remaining host must still be a
	// registrable name; "www.com" stays intact.
	if trimmed := strings.TrimPrefix(host, "www."); trimmed != host && strings.Contains(trimmed, ".") {
		host = trimmed
	}

	if host == "" || !strings.Contains(host, ".") || !hostExpr.MatchString(host) {
		return "", ErrInvalidURL
	}

	return host, nil
}

// BaseURL converts a canonical identity back into a fetchable https origin.
func BaseURL(canonicalURL string) string {
	return "https://" + canonicalURL
}

// DisplayName derives a default human label from the canonical identity by
// taking the leftmost registrable label. Used at discovery time before the
// classifier upgrades it.
func DisplayName(canonicalURL string) string {
	host := canonicalURL
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	return host
}
