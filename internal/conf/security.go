// Package conf provides security helper methods for URL handling in reverse proxy setups.
package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// GetBaseURL returns the base URL used in notification links.
// Priority order:
//  1. BaseURL field (if set, used as-is with trailing slash trimmed)
//  2. Constructed from Host + port
//  3. Empty string if no host is available
//
// This method does NOT fall back to localhost - callers should handle empty returns.
func (s *Security) GetBaseURL(port string) string {
	// Priority 1: Use BaseURL if set
	if baseURL := strings.TrimSuffix(strings.TrimSpace(s.BaseURL), "/"); baseURL != "" {
		return baseURL
	}

	// Priority 2: Construct from Host + port
	if s.Host == "" {
		return ""
	}

	// Omit the default HTTP port for cleaner URLs
	if port == "80" {
		return fmt.Sprintf("http://%s", s.Host)
	}

	return fmt.Sprintf("http://%s:%s", s.Host, port)
}

// GetExternalHost returns the external host:port for cases where the full
// host is needed (e.g., HTTP Host header checks).
// Priority order:
//  1. Host:port extracted from BaseURL (if valid)
//  2. Host field as fallback
//  3. Empty string if neither is available
func (s *Security) GetExternalHost() string {
	if baseURL := strings.TrimSpace(s.BaseURL); baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}

	return s.Host
}
