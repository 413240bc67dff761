// Package privacy scrubs sensitive data from text that may leave the
// machine: broker and push-provider URLs, hostnames, credentials. It also
// generates the random system ID used to tell installations apart in error
// reports.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// Any scheme counts: push providers use their own (gotify://, ntfy://)
	// and those URLs embed tokens.
	urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://\S+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage replaces every URL in the message with an anonymized token.
// The rest of the text is left alone.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
}

// AnonymizeURL reduces a URL to a stable hash token. The hash input keeps
// the scheme, a host category, the port and the path structure, so the same
// endpoint always maps to the same token while nothing readable survives.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var normalizedParts []string
	if parsedURL.Scheme != "" {
		normalizedParts = append(normalizedParts, parsedURL.Scheme)
	}
	if host := parsedURL.Hostname(); host != "" {
		normalizedParts = append(normalizedParts, categorizeHost(host))
	}
	if parsedURL.Port() != "" {
		normalizedParts = append(normalizedParts, "port-"+parsedURL.Port())
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		normalizedParts = append(normalizedParts, anonymizePath(parsedURL.Path))
	}

	normalized := strings.Join(normalizedParts, ":")
	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeBrokerURL strips credentials and path from a broker address,
// keeping scheme, host and port for log readability. Plain host:port
// strings pass through untouched.
func SanitizeBrokerURL(raw string) string {
	schemeIdx := strings.Index(raw, "://")
	if schemeIdx < 0 {
		return raw
	}

	rest := raw[schemeIdx+len("://"):]
	if atIdx := strings.Index(rest, "@"); atIdx >= 0 {
		rest = rest[atIdx+1:]
	}
	if slashIdx := strings.Index(rest, "/"); slashIdx >= 0 {
		rest = rest[:slashIdx]
	}
	return raw[:schemeIdx+len("://")] + rest
}

// GenerateSystemID creates a random 12-hex-digit identifier formatted as
// XXXX-XXXX-XXXX. It is the only stable identifier error reports carry.
func GenerateSystemID() (string, error) {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	id := hex.EncodeToString(bytes)
	formatted := fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])
	return strings.ToUpper(formatted), nil
}

// IsValidSystemID reports whether id matches the XXXX-XXXX-XXXX format.
func IsValidSystemID(id string) bool {
	if len(id) != 14 {
		return false
	}
	if id[4] != '-' || id[9] != '-' {
		return false
	}
	for i, char := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !isHexChar(char) {
			return false
		}
	}
	return true
}

// categorizeHost maps a host to a coarse category so the anonymized hash
// still distinguishes localhost from LAN from internet endpoints.
func categorizeHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}
	if isPrivateIP(host) {
		return "private-ip"
	}
	if isIPAddress(host) {
		return "public-ip"
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// anonymizePath keeps the shape of a path, hashing each segment.
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	segments := strings.Split(path, "/")
	anonymized := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		if isNumeric(segment) {
			anonymized = append(anonymized, "numeric")
			continue
		}
		hash := sha256.Sum256([]byte(segment))
		anonymized = append(anonymized, fmt.Sprintf("seg-%x", hash[:4]))
	}
	return strings.Join(anonymized, "/")
}

func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:",
		"fe80:",
		"::1",
		"ff00:", "ff01:", "ff02:",
	}
	for _, prefix := range privateRanges {
		if strings.HasPrefix(strings.ToLower(host), prefix) {
			return true
		}
	}
	return false
}

func isIPAddress(host string) bool {
	if ipv4Pattern.MatchString(host) {
		return true
	}
	return strings.Contains(host, ":")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}
