// Package secrets resolves credential values from the environment or from
// mounted secret files, keeping passwords and tokens out of config.yaml.
//
// A configured value is resolved in three steps:
//   - a "file:" prefix reads the secret from the named file
//   - ${VAR} and ${VAR:-default} references expand from the environment
//   - anything else passes through as a literal
package secrets

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/carebell/carebell-go/internal/errors"
)

// FilePrefix marks a value that names a secret file instead of holding the
// secret itself, matching the Docker and Kubernetes convention of mounting
// credentials under /run/secrets.
const FilePrefix = "file:"

// maxSecretFileSize caps how much of a secret file is read. Secrets are
// passwords and tokens, anything larger is a misconfigured path.
const maxSecretFileSize = 64 * 1024

// Resolve turns a configured credential value into the actual secret.
func Resolve(value string) (string, error) {
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, FilePrefix):
		return ReadFile(strings.TrimPrefix(value, FilePrefix))
	case strings.Contains(value, "${"):
		return ExpandString(value)
	default:
		return value, nil
	}
}

// ExpandString replaces ${VAR} and ${VAR:-default} references with values
// from the environment. An unset variable without a default is an error so
// a typoed name fails loudly instead of yielding an empty secret.
func ExpandString(s string) (string, error) {
	var missing []string
	expanded := os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", errors.Newf("undefined environment variables: %s", strings.Join(missing, ", ")).
			Category(errors.CategoryConfiguration).
			Context("operation", "expand-secret").
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from path, typically a mounted container secret.
// The trailing newline most secret tooling appends is stripped.
func ReadFile(path string) (string, error) {
	cleaned := filepath.Clean(path)

	info, err := os.Stat(cleaned)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "stat-secret-file").
			Context("file", cleaned).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", errors.Newf("secret file %s is not a regular file", cleaned).
			Category(errors.CategoryValidation).
			Context("file", cleaned).
			Build()
	}
	if info.Size() > maxSecretFileSize {
		return "", errors.Newf("secret file %s exceeds %d bytes", cleaned, maxSecretFileSize).
			Category(errors.CategoryLimit).
			Context("file", cleaned).
			Build()
	}
	if info.Mode().Perm()&0o077 != 0 {
		log.Printf("Warning: secret file %s is readable by other users (mode %04o)", cleaned, info.Mode().Perm())
	}

	data, err := os.ReadFile(cleaned)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "read-secret-file").
			Context("file", cleaned).
			Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", errors.Newf("secret file %s is empty", cleaned).
			Category(errors.CategoryValidation).
			Context("file", cleaned).
			Build()
	}
	return secret, nil
}
