package validation

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// URLValidator checks and normalizes feed source URLs.
type URLValidator struct {
	// AllowLocal permits loopback, private and link-local hosts.
	AllowLocal bool
	// MaxLength is the maximum allowed URL length
	MaxLength int
}

// NewURLValidator rejects local and private hosts.
func NewURLValidator() *URLValidator {
	return &URLValidator{MaxLength: 2048}
}

// NewPermissiveURLValidator accepts local hosts, for development and tests.
func NewPermissiveURLValidator() *URLValidator {
	return &URLValidator{AllowLocal: true, MaxLength: 2048}
}

// ValidateAndNormalize returns the canonical form of input: scheme and host
// lower-cased, the fragment dropped. A missing scheme defaults to https.
func (v *URLValidator) ValidateAndNormalize(input string) (string, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	if len(input) > v.MaxLength {
		return "", fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'` ") {
		return "", fmt.Errorf("URL contains invalid characters")
	}

	if !strings.Contains(input, "://") {
		input = "https://" + input
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("URL must use http or https protocol")
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("URL must have a valid hostname")
	}
	if u.User != nil {
		return "", fmt.Errorf("URL must not carry credentials")
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if !v.AllowLocal && IsLocalHost(u.Hostname()) {
		return "", fmt.Errorf("local host %q is not permitted", u.Hostname())
	}

	return u.String(), nil
}

// IsLocalHost reports whether host names this machine or a private network.
// Names are not resolved.
func IsLocalHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified()
}

// Origin returns scheme://host[:port] of rawURL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q has no origin", rawURL)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String(), nil
}
