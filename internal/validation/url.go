package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// BaseURLValidator checks the configured NeoWs base URL before any request
// is built from it.
type BaseURLValidator struct {
	// AllowInsecure permits plain http
	AllowInsecure bool
	// AllowLocalhost determines if localhost URLs are permitted
	AllowLocalhost bool
	// AllowPrivateIPs determines if private IP addresses are permitted
	AllowPrivateIPs bool
	MaxLength       int
}

// NewBaseURLValidator creates a validator with secure defaults
func NewBaseURLValidator() *BaseURLValidator {
	return &BaseURLValidator{
		AllowInsecure:   false,
		AllowLocalhost:  false,
		AllowPrivateIPs: false,
		MaxLength:       2048,
	}
}

// NewPermissiveBaseURLValidator allows local test servers and mirrors.
func NewPermissiveBaseURLValidator() *BaseURLValidator {
	return &BaseURLValidator{
		AllowInsecure:   true,
		AllowLocalhost:  true,
		AllowPrivateIPs: true,
		MaxLength:       2048,
	}
}

// ValidateAndNormalize validates a base URL and returns it without a
// trailing slash so endpoint paths can be appended directly.
func (v *BaseURLValidator) ValidateAndNormalize(input string) (string, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	if len(input) > v.MaxLength {
		return "", fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}

	if !strings.Contains(input, "://") {
		input = "https://" + input
	}

	parsedURL, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	switch parsedURL.Scheme {
	case "https":
	case "http":
		if !v.AllowInsecure {
			return "", fmt.Errorf("URL must use https")
		}
	default:
		return "", fmt.Errorf("URL must use http or https protocol")
	}

	if parsedURL.Host == "" {
		return "", fmt.Errorf("URL must have a valid hostname")
	}
	if parsedURL.User != nil {
		return "", fmt.Errorf("URL must not carry credentials")
	}
	// The API key is appended per request; a base URL with its own query
	// would end up with two.
	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return "", fmt.Errorf("URL must not contain a query or fragment")
	}
	if strings.Contains(parsedURL.Path, "..") {
		return "", fmt.Errorf("directory traversal patterns not allowed in URL path")
	}

	if err := v.validateHost(parsedURL.Hostname()); err != nil {
		return "", err
	}

	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	return parsedURL.String(), nil
}

func (v *BaseURLValidator) validateHost(hostname string) error {
	if !v.AllowLocalhost && isLocalhost(hostname) {
		return fmt.Errorf("localhost URLs are not permitted")
	}

	if !v.AllowPrivateIPs {
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("private IP addresses are not permitted")
		}
	}

	return nil
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost")
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// ValidateNEOID checks that id is safe to use as a single path segment of
// the lookup endpoint. NeoWs ids are numeric; the synthetic records use
// dashed names.
func ValidateNEOID(id string) error {
	if id == "" {
		return fmt.Errorf("object id cannot be empty")
	}
	if len(id) > 64 {
		return fmt.Errorf("object id too long")
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return fmt.Errorf("object id %q contains invalid character %q", id, r)
		}
	}
	return nil
}

// ValidateDate checks a YYYY-MM-DD calendar date as used for feed keys.
func ValidateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", date)
	}
	return nil
}
