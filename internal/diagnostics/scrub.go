package diagnostics

import (
	"regexp"
	"strings"
)

// Keys whose values never leave the machine readable. Matched by substring
// on the lowercased key, so bearertokenhash falls under token and baseurl
// under url.
var sensitiveConfigKeys = []string{
	"password", "username", "token", "secret", "dsn", "url", "broker",
	"host", "topic", "subnet", "name", "latitude", "longitude",
}

var (
	bareEndpointPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}(:\d+)?$`)
	schemePattern       = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

// redactConfigYAML masks sensitive values in the raw config text line by
// line, keeping the file's structure readable in the dump.
func redactConfigYAML(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(parts[0]), "- ")))
		value := strings.TrimSpace(parts[1])
		if value == "" {
			continue
		}

		switch {
		case isSensitiveConfigKey(key):
			lines[i] = parts[0] + ": " + maskValue(value)
		case isRemoteEndpoint(value):
			lines[i] = parts[0] + ": " + maskEndpoint(value)
		}
	}
	return strings.Join(lines, "\n")
}

func isSensitiveConfigKey(key string) bool {
	for _, sensitive := range sensitiveConfigKeys {
		if strings.Contains(key, sensitive) {
			return true
		}
	}
	return false
}

// isRemoteEndpoint reports whether the value is an IP or URL pointing away
// from this machine. Loopback and wildcard listen addresses stay readable.
func isRemoteEndpoint(value string) bool {
	if !bareEndpointPattern.MatchString(value) && !schemePattern.MatchString(value) {
		return false
	}
	return !isLocalEndpoint(value)
}

func isLocalEndpoint(value string) bool {
	hostPart := schemePattern.ReplaceAllString(value, "")
	for _, local := range []string{"127.0.0.1", "0.0.0.0", "localhost", "::1", "[::1]"} {
		if strings.HasPrefix(hostPart, local) {
			return true
		}
	}
	return false
}

func maskValue(value string) string {
	return strings.Repeat("*", len(value))
}

// maskEndpoint keeps the scheme so the transport stays recognizable.
func maskEndpoint(value string) string {
	if loc := schemePattern.FindString(value); loc != "" {
		return loc + maskValue(value[len(loc):])
	}
	return maskValue(value)
}
