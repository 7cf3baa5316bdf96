// Package conf handles the configuration of examtrack, viper is used for
// reading and writing the config file and environment variable overrides.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// MainSettings contains general application settings
type MainSettings struct {
	Name     string // name of the deployment node/school
	TimeZone string // IANA timezone for report timestamps
	Log      LogConfig
}

// LogConfig defines the configuration for the main application log
type LogConfig struct {
	Enabled bool   // true to enable main app logging
	Path    string // path to log file
}

// WebServerSettings contains the HTTP server settings
type WebServerSettings struct {
	Enabled bool   // true to enable the HTTP server
	Host    string // host address to bind to
	Port    string // port to listen on
	Debug   bool   // true to enable debug logging of requests
}

// SecuritySettings contains authentication and push handshake settings
type SecuritySettings struct {
	JWTSecret        string        // HMAC secret used to verify bearer tokens
	TokenExpiry      time.Duration // validity window enforced on tokens
	HandshakeTimeout time.Duration // push connection must authenticate within this window
}

// SQLiteSettings contains the SQLite database settings
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite
	Path    string // path to the database file
}

// MySQLSettings contains the MySQL database settings
type MySQLSettings struct {
	Enabled  bool // true to enable MySQL
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects the datastore backend
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// NotificationSettings contains the durable notification store settings
type NotificationSettings struct {
	Debug              bool          // true to enable debug logging
	MaxStored          int           // cap on stored notifications per listing
	CleanupInterval    time.Duration // how often expired notifications are removed
	RateLimitWindow    time.Duration // window for notification creation rate limiting
	RateLimitMaxEvents int           // max notifications created per window
}

// PushSettings contains the live push layer settings
type PushSettings struct {
	HeartbeatInterval time.Duration // keep-alive interval on the stream
	MaxConnDuration   time.Duration // maximum lifetime of a single stream connection
	ChannelBuffer     int           // per-session notification channel buffer
}

// CorrectionSettings tunes the automatic flag triggers applied when an
// AI correction result is ingested.
type CorrectionSettings struct {
	LowConfidenceThreshold  float64 // AI result confidence below this raises a flag
	RollNumberMinConfidence float64 // detected roll number confidence below this raises a flag
}

// Settings contains all configuration options for examtrack
type Settings struct {
	Debug bool // true to enable debug mode

	Version   string // application version, ldflags
	BuildDate string // build date, ldflags

	Main         MainSettings
	WebServer    WebServerSettings
	Security     SecuritySettings
	Output       OutputSettings
	Notification NotificationSettings
	Push         PushSettings
	Correction   CorrectionSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/examtrack")
	viper.AddConfigPath("/etc/examtrack")

	viper.SetEnvPrefix("examtrack")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file is fine, defaults plus env cover everything
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// Setting returns the current settings instance, loading it if necessary.
func Setting() *Settings {
	settingsMutex.RLock()
	instance := settingsInstance
	settingsMutex.RUnlock()
	if instance != nil {
		return instance
	}

	instance, err := Load()
	if err != nil {
		return nil
	}
	return instance
}

// ValidateSettings checks config invariants that cannot be expressed as defaults.
func ValidateSettings(settings *Settings) error {
	if settings.WebServer.Enabled && settings.WebServer.Port == "" {
		return errors.New("webserver.port must not be empty when the server is enabled")
	}
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		return errors.New("only one datastore backend may be enabled")
	}
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return errors.New("a datastore backend must be enabled")
	}
	if settings.Security.JWTSecret == "" {
		return errors.New("security.jwtsecret must be configured")
	}
	if settings.Correction.RollNumberMinConfidence < 0 || settings.Correction.RollNumberMinConfidence > 1 {
		return fmt.Errorf("correction.rollnumberminconfidence out of range: %f", settings.Correction.RollNumberMinConfidence)
	}
	return nil
}
