// config.go: This file contains the configuration for the CareBell-Go application. It defines the settings struct and functions to load and save the settings.
package conf

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// NightVolumeSettings attenuates playback between dusk and dawn at the
// configured location.
type NightVolumeSettings struct {
	Enabled   bool    // true to lower playback volume at night
	Volume    float64 // playback volume between dusk and dawn, 0.0 to 1.0
	Latitude  float64 // latitude of the site for dusk/dawn calculation
	Longitude float64 // longitude of the site for dusk/dawn calculation
}

// AudioSettings contains settings for announcement playback.
type AudioSettings struct {
	Device     string              // playback device name, "default" for system default
	Volume     float64             // master playback volume, 0.0 to 1.0
	SoundsPath string              // directory containing announcement sound files
	Unlock     bool                // true to require an explicit unlock before first playback
	Night      NightVolumeSettings // night-time volume attenuation
}

// AnnouncerSettings contains settings for the announcement queue.
type AnnouncerSettings struct {
	PauseMs           int  // silence between queued announcements in milliseconds
	InterruptInFlight bool // true to stop an in-flight announcement when its call completes
	QueueSize         int  // announcement queue buffer size
}

// TrackerSettings contains settings for call lifecycle tracking.
type TrackerSettings struct {
	TransientWindowMs int // duplicate-closure suppression window in milliseconds
	StandbyPulses     int // consecutive standby events before the latest call is auto-completed
}

// HistorySettings contains settings for the durable call history file.
type HistorySettings struct {
	Debug   bool   // true to enable history debug logging
	Path    string // path to the history JSON file
	FlushMs int    // dirty-flag flush interval in milliseconds
}

// RegistrySettings contains settings for the master-data registry.
type RegistrySettings struct {
	Path string // path to the code registry file (YAML or JSON)
}

// TCPFeedSettings contains settings for the newline-delimited JSON event feed.
type TCPFeedSettings struct {
	Enabled       bool   // true to enable the TCP event feed
	Listen        string // IP address and port to listen on
	Authoritative bool   // true if connection state drives hardware connectivity
}

// StdinFeedSettings contains settings for the stdin event feed.
type StdinFeedSettings struct {
	Enabled bool // true to read events from standard input
}

// MQTTFeedSettings contains settings for the inbound MQTT event feed.
type MQTTFeedSettings struct {
	Enabled  bool   // true to subscribe to the event topic
	Broker   string // MQTT broker (tcp://host:port or ssl://host:port)
	Topic    string // topic carrying decoded call events
	Username string // MQTT username
	Password string // MQTT password
}

// FeedSettings contains all inbound event transports.
type FeedSettings struct {
	TCP   TCPFeedSettings   // newline-delimited JSON over TCP
	Stdin StdinFeedSettings // newline-delimited JSON on stdin
	MQTT  MQTTFeedSettings  // JSON events over MQTT
}

// DesktopNotificationSettings contains settings for OS desktop notifications.
type DesktopNotificationSettings struct {
	Enabled bool // true to raise OS desktop notifications
}

// PushProviderConfig holds settings for a single push provider endpoint.
type PushProviderConfig struct {
	Name        string            `yaml:"name"`        // provider instance name for logs and filtering
	Type        string            `yaml:"type"`        // "shoutrrr" or "webhook"
	Enabled     bool              `yaml:"enabled"`     // true to enable this provider
	URL         string            `yaml:"url"`         // service URL (shoutrrr scheme or webhook endpoint)
	Types       []string          `yaml:"types"`       // notification types to deliver, empty for all
	Headers     map[string]string `yaml:"headers"`     // extra HTTP headers for webhook providers
	Timeout     string            `yaml:"timeout"`     // per-delivery timeout, e.g. "10s"
	BearerToken string            `yaml:"bearertoken"` // webhook bearer token, empty disables bearer auth
	Username    string            `yaml:"username"`    // webhook basic auth user
	Password    string            `yaml:"password"`    // webhook basic auth password
}

// NotificationSettings contains settings for the notification center.
type NotificationSettings struct {
	Debug        bool                        // true to enable notification debug logging
	MaxStored    int                         // maximum notifications kept in memory
	MaxPerMinute int                         // notification creation rate limit
	Desktop      DesktopNotificationSettings // OS desktop notifications
	Providers    []PushProviderConfig        `yaml:"providers"` // external push providers
}

// MQTTSettings contains settings for outbound MQTT publishing.
type MQTTSettings struct {
	Enabled     bool   // true to publish call lifecycle events
	Broker      string // MQTT broker (tcp://host:port or ssl://host:port)
	TopicPrefix string // topic prefix, e.g. "carebell"
	Username    string // MQTT username
	Password    string // MQTT password
	QoS         uint8  // publish QoS level (0, 1 or 2)
	Retain      bool   // true to publish retained messages
}

// TelemetrySettings contains settings for telemetry.
type TelemetrySettings struct {
	Enabled bool   // true to enable Prometheus compatible telemetry endpoint
	Listen  string // IP address and port to listen on
}

// ResourceThresholds holds warning and critical usage levels for one resource.
type ResourceThresholds struct {
	Enabled  bool    // true to check this resource
	Warning  float64 // usage percent that raises a warning alert
	Critical float64 // usage percent that raises a critical alert
}

// MonitorSettings contains settings for system resource monitoring.
type MonitorSettings struct {
	Enabled           bool               // true to monitor CPU, memory and disk usage
	Interval          int                // seconds between checks
	HysteresisPercent float64            // usage must drop this far below a threshold to clear an alert
	CriticalResend    int                // minutes between repeated critical disk alerts
	CPU               ResourceThresholds // CPU usage thresholds
	Memory            ResourceThresholds // memory usage thresholds
	Disk              ResourceThresholds // disk usage thresholds
	DiskPaths         []string           // extra paths to watch, the data directories are always included
}

// SentrySettings contains settings for opt-in crash and error reporting.
type SentrySettings struct {
	Enabled bool   // true to enable Sentry error reporting, disabled by default
	DSN     string // Sentry DSN, empty uses the built-in project
	Debug   bool   // true to enable Sentry SDK debug logging
}

// WebServerSettings contains settings for the HTTP API server.
type WebServerSettings struct {
	Debug          bool      // true to enable debug mode
	Enabled        bool      // true to enable web server
	Port           string    // port for web server
	MaxConnections int       // maximum concurrent client connections
	Log            LogConfig // logging configuration for web server
}

type AllowSubnetBypass struct {
	Enabled bool   // true to enable subnet bypass
	Subnet  string // skip token authentication in subnet
}

// Security handles authentication settings for the HTTP API.
type Security struct {
	Debug bool // true to enable debug mode

	// Host is the primary hostname used to form externally
	// reachable URLs in notifications.
	Host string

	// BaseURL overrides the URL constructed from Host and the
	// web server port, for reverse proxy setups.
	BaseURL string

	BearerTokenHash   string            // bcrypt hash of the API bearer token, empty disables auth
	AllowSubnetBypass AllowSubnetBypass // subnet bypass configuration
}

// Settings contains all configuration options for the CareBell-Go application.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build

	Main struct {
		Name      string    // name of CareBell-Go node, used to identify source of calls
		TimeAs24h bool      // true 24-hour time format, false 12-hour time format
		Log       LogConfig // logging configuration
	}

	Registry RegistrySettings // master-data registry configuration

	Audio AudioSettings // announcement playback settings

	Announcer AnnouncerSettings // announcement queue settings

	Tracker TrackerSettings // call lifecycle settings

	History HistorySettings // durable call history settings

	Feeds FeedSettings // inbound event transports

	Notification NotificationSettings // notification center settings

	MQTT MQTTSettings // outbound MQTT publishing

	Telemetry TelemetrySettings // telemetry settings

	Monitor MonitorSettings // system resource monitoring

	Sentry SentrySettings // crash and error reporting

	WebServer WebServerSettings // HTTP API server settings

	Security Security // security configuration

	Backup BackupConfig // Backup configuration
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // Path to the log file
	Rotation    RotationType // Type of log rotation
	MaxSize     int64        // Max size in bytes for RotationSize
	RotationDay string       // Day of the week for RotationWeekly (as a string: "Sunday", "Monday", etc.)
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// BackupRetention defines backup retention policy
type BackupRetention struct {
	MaxAge     string `yaml:"maxage"`     // Duration string like "30d", "6m", "1y"
	MaxBackups int    `yaml:"maxbackups"` // Maximum number of backups to keep
	MinBackups int    `yaml:"minbackups"` // Minimum number of backups to keep regardless of age
}

// BackupTarget defines settings for a backup target
type BackupTarget struct {
	Type     string         `yaml:"type"`     // "local", "ftp" or "sftp"
	Enabled  bool           `yaml:"enabled"`  // true to enable this target
	Settings map[string]any `yaml:"settings"` // Target-specific settings
}

// BackupConfig defines the configuration for history snapshots
type BackupConfig struct {
	Enabled   bool            `yaml:"enabled"`   // true to enable backup functionality
	Debug     bool            `yaml:"debug"`     // true to enable debug logging
	Interval  string          `yaml:"interval"`  // Duration between snapshots, e.g. "24h"
	Retention BackupRetention `yaml:"retention"` // Backup retention settings
	Targets   []BackupTarget  `yaml:"targets"`   // List of backup targets
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into GlobalConfig.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// Create a new settings struct
	settings := &Settings{}

	// Initialize viper and read config
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	// Unmarshal the config into settings
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	// Resolve credential references before validation sees them
	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	// Validate settings
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	// Save settings instance
	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Get OS specific config paths
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	// Assign config paths to Viper
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	// Bind environment variables, function defined in env.go
	if err := configureEnvironmentVariables(); err != nil {
		log.Printf("Warning: %v", err)
	}

	// Read configuration file
	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths() // Again, adjusted for error handling
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	// Create directories for config file
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	// Write default config file
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveSettings saves the current settings to the configuration file.
// It uses UpdateYAMLConfig to preserve the structure and comments of the
// existing config file.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	if settingsInstance == nil {
		return fmt.Errorf("no settings loaded")
	}

	// Create a copy of the settings so the file write happens outside the lock
	settingsCopy := *settingsInstance

	// Find the path of the current config file
	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	// Save the settings to the config file
	if err := UpdateYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	// Marshal the settings struct to YAML
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write the YAML data to a temporary file
	// This is done to ensure atomic write operation
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	// Ensure the temporary file is removed in case of any failure
	defer os.Remove(tempFileName)

	// Write the YAML data to the temporary file
	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	// Close the temporary file after writing
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	// Try to rename the temporary file to replace the original config file
	// This is typically an atomic operation on most filesystems
	if err := os.Rename(tempFileName, configPath); err != nil {
		// If rename fails (e.g., cross-device link), fall back to copy & delete
		// This might happen when the temp directory is on a different filesystem
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	// If we've reached this point, the operation was successful
	return nil
}

// GenerateRandomSecret generates a URL-safe base64 encoded random string
// suitable for use as an API bearer token. The output is 43 characters long,
// providing 256 bits of entropy.
func GenerateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Log the error and return a safe fallback or empty string
		log.Printf("Failed to generate random secret: %v", err)
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
