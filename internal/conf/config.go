// Package conf handles the configuration of the emspush client, including
// reading the config file, environment variable overrides and providing
// accessors to the settings.
package conf

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Settings contains all runtime configuration for the client
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug level logging

	Main struct {
		Name string    `yaml:"name"` // installation name, used as provider client id prefix
		Log  LogConfig `yaml:"log"`  // main log file settings
	} `yaml:"main"`

	Backend   BackendSettings   `yaml:"backend"`
	Provider  ProviderSettings  `yaml:"provider"`
	Push      PushSettings      `yaml:"push"`
	Renderer  RendererSettings  `yaml:"renderer"`
	Sentry    SentrySettings    `yaml:"sentry"`
	Webserver WebserverSettings `yaml:"webserver"`
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// BackendSettings configures the expense backend REST API client
type BackendSettings struct {
	BaseURL     string        `yaml:"baseurl"`     // e.g. https://api.example.com/api/v1
	BearerToken string        `yaml:"bearertoken"` // session credential supplied by the auth subsystem
	Timeout     time.Duration `yaml:"timeout"`     // per request timeout
}

// ProviderSettings configures the push provider connection
type ProviderSettings struct {
	Broker            string        `yaml:"broker"`      // e.g. tcp://push.example.com:1883
	Username          string        `yaml:"username"`    // platform credential
	Password          string        `yaml:"password"`    // platform credential
	TopicPrefix       string        `yaml:"topicprefix"` // device topics are <prefix>/<token>
	ConnectTimeout    time.Duration `yaml:"connecttimeout"`
	RequestTimeout    time.Duration `yaml:"requesttimeout"` // token issue/delete timeout
	ReconnectCooldown time.Duration `yaml:"reconnectcooldown"`
	ReconnectDelay    time.Duration `yaml:"reconnectdelay"`
}

// PushSettings tunes the delivery pipeline
type PushSettings struct {
	Dedup struct {
		Window time.Duration `yaml:"window"` // grace window for collapsing duplicate deliveries
		Bucket time.Duration `yaml:"bucket"` // timestamp bucket for generated fallback tags
	} `yaml:"dedup"`
	GraceDelay       time.Duration `yaml:"gracedelay"`       // delay before clearing transient envelope state
	MaxNotifications int           `yaml:"maxnotifications"` // size bound for the local record mirror
	PageSize         int           `yaml:"pagesize"`         // backend list page size
	TokenStorePath   string        `yaml:"tokenstorepath"`   // sqlite file for the device token cache
}

// RendererSettings configures system notification rendering
type RendererSettings struct {
	URLs    []string      `yaml:"urls"` // shoutrrr service URLs; empty for log-only rendering
	Timeout time.Duration `yaml:"timeout"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"` // opt-in
	DSN     string `yaml:"dsn"`
}

// WebserverSettings configures the local HTTP surface for UI consumers
type WebserverSettings struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the global Settings instance. It looks
// for config.yaml in the current directory and the user config directory;
// a missing file is not an error, defaults and environment variables apply.
func Load() (*Settings, error) {
	setDefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, "emspush"))
	}

	viper.SetEnvPrefix("emspush")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("fatal error reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	once.Do(func() {
		if _, err := Load(); err != nil {
			log.Fatalf("error loading settings: %v", err)
		}
	})

	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// validateSettings checks cross-field constraints that viper cannot express
func validateSettings(s *Settings) error {
	if s.Push.Dedup.Window <= 0 {
		return fmt.Errorf("push.dedup.window must be positive, got %v", s.Push.Dedup.Window)
	}
	if s.Push.Dedup.Bucket <= 0 {
		return fmt.Errorf("push.dedup.bucket must be positive, got %v", s.Push.Dedup.Bucket)
	}
	if s.Push.PageSize <= 0 {
		return fmt.Errorf("push.pagesize must be positive, got %d", s.Push.PageSize)
	}
	if s.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive, got %v", s.Backend.Timeout)
	}
	return nil
}
