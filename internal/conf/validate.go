// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	// Validate Audio settings
	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Announcer settings
	if err := validateAnnouncerSettings(&settings.Announcer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Tracker settings
	if err := validateTrackerSettings(&settings.Tracker); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate History settings
	if err := validateHistorySettings(&settings.History); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Feed settings
	if err := validateFeedSettings(&settings.Feeds); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Notification settings
	if err := validateNotificationSettings(&settings.Notification); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate MQTT settings
	if err := validateMQTTSettings(&settings.MQTT); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Telemetry settings
	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Monitor settings
	if err := validateMonitorSettings(&settings.Monitor); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate WebServer settings
	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Security settings
	if err := validateSecuritySettings(&settings.Security); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Backup settings
	if err := validateBackupSettings(&settings.Backup); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// If there are any errors, return the ValidationError
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateAudioSettings validates the playback-specific settings
func validateAudioSettings(settings *AudioSettings) error {
	var errs []string

	// Check if volume is within valid range
	if settings.Volume < 0 || settings.Volume > 1 {
		errs = append(errs, "audio volume must be between 0.0 and 1.0")
	}

	// Check if sounds path is provided
	if settings.SoundsPath == "" {
		errs = append(errs, "audio sounds path must not be empty")
	}

	if settings.Night.Enabled {
		// Check if night volume is within valid range
		if settings.Night.Volume < 0 || settings.Night.Volume > 1 {
			errs = append(errs, "night volume must be between 0.0 and 1.0")
		}

		// Check if longitude is within valid range
		if settings.Night.Longitude < -180 || settings.Night.Longitude > 180 {
			errs = append(errs, "night longitude must be between -180 and 180")
		}

		// Check if latitude is within valid range
		if settings.Night.Latitude < -90 || settings.Night.Latitude > 90 {
			errs = append(errs, "night latitude must be between -90 and 90")
		}
	}

	// If there are any errors, return them as a single error
	if len(errs) > 0 {
		return fmt.Errorf("audio settings errors: %v", errs)
	}

	return nil
}

// validateAnnouncerSettings validates the announcement queue settings
func validateAnnouncerSettings(settings *AnnouncerSettings) error {
	var errs []string

	if settings.PauseMs < 0 {
		errs = append(errs, "announcer pause must be non-negative")
	}

	if settings.QueueSize < 1 {
		errs = append(errs, "announcer queue size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("announcer settings errors: %v", errs)
	}

	return nil
}

// validateTrackerSettings validates the call lifecycle settings
func validateTrackerSettings(settings *TrackerSettings) error {
	var errs []string

	if settings.TransientWindowMs < 0 {
		errs = append(errs, "tracker transient window must be non-negative")
	}

	if settings.StandbyPulses < 1 {
		errs = append(errs, "tracker standby pulses must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("tracker settings errors: %v", errs)
	}

	return nil
}

// validateHistorySettings validates the history file settings
func validateHistorySettings(settings *HistorySettings) error {
	var errs []string

	if settings.Path == "" {
		errs = append(errs, "history path must not be empty")
	}

	if settings.FlushMs < 0 {
		errs = append(errs, "history flush interval must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("history settings errors: %v", errs)
	}

	return nil
}

// validateFeedSettings validates the inbound feed settings
func validateFeedSettings(settings *FeedSettings) error {
	var errs []string

	if settings.TCP.Enabled {
		if settings.TCP.Listen == "" {
			errs = append(errs, "TCP feed listen address is required when enabled")
		} else if _, _, err := net.SplitHostPort(settings.TCP.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("invalid TCP feed listen address: %v", err))
		}
	}

	if settings.MQTT.Enabled {
		if err := validateBrokerURL(settings.MQTT.Broker); err != nil {
			errs = append(errs, fmt.Sprintf("MQTT feed broker: %v", err))
		}
		if settings.MQTT.Topic == "" {
			errs = append(errs, "MQTT feed topic is required when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("feed settings errors: %v", errs)
	}

	return nil
}

// validateNotificationSettings validates the notification center settings
func validateNotificationSettings(settings *NotificationSettings) error {
	var errs []string

	if settings.MaxStored < 1 {
		errs = append(errs, "notification maxstored must be at least 1")
	}

	if settings.MaxPerMinute < 1 {
		errs = append(errs, "notification maxperminute must be at least 1")
	}

	for i := range settings.Providers {
		p := &settings.Providers[i]
		if !p.Enabled {
			continue
		}
		switch p.Type {
		case "shoutrrr", "webhook":
		default:
			errs = append(errs, fmt.Sprintf("provider %q has unsupported type %q", p.Name, p.Type))
			continue
		}
		if p.URL == "" {
			errs = append(errs, fmt.Sprintf("provider %q URL is required when enabled", p.Name))
		}
		if p.Timeout != "" {
			if _, err := time.ParseDuration(p.Timeout); err != nil {
				errs = append(errs, fmt.Sprintf("provider %q has invalid timeout: %v", p.Name, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification settings errors: %v", errs)
	}

	return nil
}

// validateMQTTSettings validates the outbound MQTT settings
func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string

	if err := validateBrokerURL(settings.Broker); err != nil {
		errs = append(errs, err.Error())
	}

	if settings.TopicPrefix == "" {
		errs = append(errs, "MQTT topic prefix is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("MQTT settings errors: %v", errs)
	}

	return nil
}

// validateBrokerURL checks that a broker URL has a supported scheme and a host
func validateBrokerURL(broker string) error {
	if broker == "" {
		return errors.New("broker URL is required when enabled")
	}

	u, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}

	switch u.Scheme {
	case "tcp", "ssl", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported broker scheme %q, expected tcp, ssl, mqtt, mqtts, ws or wss", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("broker URL %q has no host", broker)
	}

	return nil
}

// validateTelemetrySettings validates the telemetry endpoint settings
func validateTelemetrySettings(settings *TelemetrySettings) error {
	if settings.Enabled {
		if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
			return fmt.Errorf("invalid telemetry listen address: %w", err)
		}
	}
	return nil
}

// validateMonitorSettings validates the resource monitor settings
func validateMonitorSettings(settings *MonitorSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string

	if settings.Interval < 1 {
		errs = append(errs, "monitor interval must be at least 1 second")
	}
	if settings.HysteresisPercent < 0 {
		errs = append(errs, "monitor hysteresis must not be negative")
	}

	checks := []struct {
		name       string
		thresholds ResourceThresholds
	}{
		{"cpu", settings.CPU},
		{"memory", settings.Memory},
		{"disk", settings.Disk},
	}
	for _, c := range checks {
		if !c.thresholds.Enabled {
			continue
		}
		if c.thresholds.Warning <= 0 || c.thresholds.Warning > 100 {
			errs = append(errs, fmt.Sprintf("monitor %s warning threshold must be between 0 and 100", c.name))
		}
		if c.thresholds.Critical <= 0 || c.thresholds.Critical > 100 {
			errs = append(errs, fmt.Sprintf("monitor %s critical threshold must be between 0 and 100", c.name))
		}
		if c.thresholds.Warning >= c.thresholds.Critical {
			errs = append(errs, fmt.Sprintf("monitor %s warning threshold must be below the critical threshold", c.name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("monitor settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateWebServerSettings validates the WebServer-specific settings
func validateWebServerSettings(settings *WebServerSettings) error {
	if settings.Enabled {
		// Check if port is provided when enabled
		if settings.Port == "" {
			return errors.New("WebServer port is required when enabled")
		}

		if settings.MaxConnections < 1 {
			return errors.New("WebServer max connections must be at least 1")
		}
	}

	return nil
}

// validateSecuritySettings validates the security-specific settings
func validateSecuritySettings(settings *Security) error {
	// A bearer token hash must be a bcrypt hash, not the raw token
	if settings.BearerTokenHash != "" && !strings.HasPrefix(settings.BearerTokenHash, "$2") {
		return errors.New("security.bearertokenhash must be a bcrypt hash, generate one with the token subcommand")
	}

	// Validate the subnet bypass setting against the allowed pattern
	if settings.AllowSubnetBypass.Enabled {
		subnets := strings.Split(settings.AllowSubnetBypass.Subnet, ",")
		for _, subnet := range subnets {
			_, _, err := net.ParseCIDR(strings.TrimSpace(subnet))
			if err != nil {
				return fmt.Errorf("invalid subnet format: %w", err)
			}
		}
	}

	return nil
}

// validateBackupSettings validates the history snapshot settings
func validateBackupSettings(settings *BackupConfig) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string

	if settings.Interval != "" {
		if _, err := time.ParseDuration(settings.Interval); err != nil {
			errs = append(errs, fmt.Sprintf("invalid backup interval: %v", err))
		}
	}

	if settings.Retention.MaxAge != "" {
		if _, err := ParseRetentionPeriod(settings.Retention.MaxAge); err != nil {
			errs = append(errs, fmt.Sprintf("invalid backup retention maxage: %v", err))
		}
	}

	if settings.Retention.MaxBackups < settings.Retention.MinBackups {
		errs = append(errs, "backup retention maxbackups must not be less than minbackups")
	}

	for i := range settings.Targets {
		t := &settings.Targets[i]
		if !t.Enabled {
			continue
		}
		switch t.Type {
		case "local", "ftp", "sftp":
		default:
			errs = append(errs, fmt.Sprintf("unsupported backup target type %q", t.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("backup settings errors: %v", errs)
	}

	return nil
}
