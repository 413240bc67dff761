package telemetry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/privacy"
)

const systemIDFile = ".system_id"

// LoadOrCreateSystemID returns the persistent random installation ID stored
// in configDir, creating it on first use. The ID carries no machine or
// operator information.
func LoadOrCreateSystemID(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryFileIO).
			Context("config_dir", configDir).
			Build()
	}

	idPath := filepath.Join(configDir, systemIDFile)
	if data, err := os.ReadFile(idPath); err == nil {
		id := strings.TrimSpace(string(data))
		if privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(idPath, []byte(id), 0o644); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryFileIO).
			Context("path", idPath).
			Build()
	}
	return id, nil
}

// systemID resolves the ID from the first default config directory.
func systemID() (string, error) {
	paths, err := conf.GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", errors.Newf("no config directory available").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return LoadOrCreateSystemID(paths[0])
}
