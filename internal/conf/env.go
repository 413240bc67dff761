// env.go - Environment variable configuration and validation for CareBell-Go
package conf

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Playback configuration
		{"audio.device", "CAREBELL_AUDIO_DEVICE", nil},
		{"audio.volume", "CAREBELL_AUDIO_VOLUME", validateEnvVolume},
		{"audio.soundspath", "CAREBELL_SOUNDS_PATH", nil},

		// Announcement queue configuration
		{"announcer.pausems", "CAREBELL_PAUSE_MS", validateEnvMillis},
		{"announcer.interruptinflight", "CAREBELL_INTERRUPT_IN_FLIGHT", validateEnvBool},

		// Call tracking configuration
		{"tracker.transientwindowms", "CAREBELL_TRANSIENT_WINDOW_MS", validateEnvMillis},

		// Persistence configuration
		{"history.path", "CAREBELL_HISTORY_PATH", nil},
		{"registry.path", "CAREBELL_REGISTRY_PATH", nil},

		// Inbound feed configuration
		{"feeds.tcp.listen", "CAREBELL_FEED_LISTEN", validateEnvListenAddr},
		{"feeds.mqtt.broker", "CAREBELL_FEED_MQTT_BROKER", validateEnvBrokerURL},
		{"feeds.mqtt.topic", "CAREBELL_FEED_MQTT_TOPIC", nil},

		// Outbound MQTT configuration
		{"mqtt.broker", "CAREBELL_MQTT_BROKER", validateEnvBrokerURL},

		// HTTP API configuration
		{"webserver.port", "CAREBELL_PORT", validateEnvPort},

		// Error reporting configuration
		{"sentry.enabled", "CAREBELL_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "CAREBELL_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		// Bind the environment variable to the config key
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		// Validate the value if it's set and validation function is provided
		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvVolume(value string) error {
	volume, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid volume: %w", err)
	}
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %g", volume)
	}
	return nil
}

func validateEnvMillis(value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid milliseconds value: %w", err)
	}
	if ms < 0 {
		return fmt.Errorf("milliseconds must be non-negative, got %d", ms)
	}
	return nil
}

func validateEnvListenAddr(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	return nil
}

func validateEnvBrokerURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported broker scheme '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("broker URL has no host")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	// Set up key replacer for nested config keys
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables with validation
	// Return any errors to the caller for centralized handling
	return bindEnvVars()
}
