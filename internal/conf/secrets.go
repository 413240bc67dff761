package conf

import (
	"fmt"

	"github.com/carebell/carebell-go/internal/secrets"
)

// resolveSecrets replaces credential values in settings with their resolved
// form so the rest of the program never sees file: prefixes or ${VAR}
// references. Runs after unmarshal so validation sees real values.
func resolveSecrets(settings *Settings) error {
	type field struct {
		key   string
		value *string
	}

	fields := []field{
		{"feeds.mqtt.password", &settings.Feeds.MQTT.Password},
		{"mqtt.password", &settings.MQTT.Password},
		{"sentry.dsn", &settings.Sentry.DSN},
		{"security.bearertokenhash", &settings.Security.BearerTokenHash},
	}
	for i := range settings.Notification.Providers {
		provider := &settings.Notification.Providers[i]
		prefix := fmt.Sprintf("notification.providers[%d]", i)
		fields = append(fields,
			field{prefix + ".url", &provider.URL},
			field{prefix + ".bearertoken", &provider.BearerToken},
			field{prefix + ".password", &provider.Password},
		)
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(*f.value)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", f.key, err)
		}
		*f.value = resolved
	}

	for i := range settings.Backup.Targets {
		target := &settings.Backup.Targets[i]
		raw, ok := target.Settings["password"].(string)
		if !ok {
			continue
		}
		resolved, err := secrets.Resolve(raw)
		if err != nil {
			return fmt.Errorf("resolving backup.targets[%d].settings.password: %w", i, err)
		}
		target.Settings["password"] = resolved
	}

	return nil
}
