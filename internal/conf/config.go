// conf/config.go
package conf

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// CertificateSettings points at the client certificate used for the gateway
// and the feedback service. Either PKCS12 or CertFile/KeyFile is set.
type CertificateSettings struct {
	PKCS12   string // path to .p12 bundle exported from Keychain
	Password string // password of the .p12 bundle
	CertFile string // PEM certificate, alternative to PKCS12
	KeyFile  string // PEM private key, alternative to PKCS12
}

// APNsSettings contains the delivery engine settings.
type APNsSettings struct {
	Environment    string              // production or sandbox
	Certificate    CertificateSettings // client certificate
	Workers        int                 // number of gateway connections
	CacheCapacity  int                 // sent-notification cache entries per connection
	BatchSize      int                 // frames written between flushes
	Priority       int                 // 10 immediate, 5 power saving
	ExpirationTTL  time.Duration       // 0 means the gateway does not store the notification
	DequeueTimeout time.Duration
	WriteReadyPoll time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	StopGrace      time.Duration // how long stop waits for workers
	DrainDelay     time.Duration // how long push waits after the last token is enqueued
}

// PayloadSettings describes the notification payload shared by all tokens.
type PayloadSettings struct {
	Alert            string         // alert body
	AlertHTML        bool           // Alert is an HTML fragment
	ActionKey        string         // action-loc-key
	LocKey           string         // loc-key
	LocArgs          []string       // loc-args
	LaunchImage      string         // launch-image
	Badge            int            // negative leaves the badge untouched
	Sound            string         // sound file name, empty for silent
	ContentAvailable bool           // background fetch
	Custom           map[string]any // application fields next to aps
	MDM              string         // mdm push magic, replaces aps entirely
	ShrinkPostfix    string         // appended to a truncated alert body
}

// TokenSettings describes the device token source.
type TokenSettings struct {
	File           string // one hex token per line
	SkipKnownBad   bool   // skip tokens recorded in the token store
	RejectCacheTTL time.Duration
}

// FeedbackSettings controls the feedback service reader.
type FeedbackSettings struct {
	Enabled     bool          // read feedback after each push run
	ReadTimeout time.Duration // idle time before the stream is considered done
}

// MetricsSettings contains settings for the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   // true to serve /metrics
	Listen  string // IP address and port to listen on
}

// MQTTSettings contains settings for MQTT integration.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT (tcp://host:port)
	Topic    string // MQTT topic prefix
	ClientID string // MQTT client id, generated when empty
	Username string // MQTT username
	Password string // MQTT password
	QoS      int    // 0, 1 or 2
}

// DatabaseSettings contains the token store settings.
type DatabaseSettings struct {
	Enabled bool   // true to record invalid and expired tokens
	Type    string // sqlite or mysql
	Path    string // path to sqlite database

	MySQL struct {
		Username string // username for mysql database
		Password string // password for mysql database
		Database string // database name for mysql database
		Host     string // host for mysql database
		Port     string // port for mysql database
	} `mapstructure:"mysql" yaml:"mysql"`
}

// NotifySettings controls the run summary notification.
type NotifySettings struct {
	Enabled bool          // true to send a summary after each push run
	URLs    []string      // shoutrrr service URLs
	Title   string        // message title
	Timeout time.Duration // per send timeout
}

// SentrySettings contains settings for error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings is the root of the configuration.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"`
	BuildDate string `yaml:"-"`

	Main struct {
		Name     string // name of this sender, included in events
		LogPath  string // directory that receives the per-run log directories
		Timezone string // Local, UTC or IANA name
	}

	APNs     APNsSettings `mapstructure:"apns" yaml:"apns"`
	Payload  PayloadSettings
	Tokens   TokenSettings
	Feedback FeedbackSettings
	Metrics  MetricsSettings
	MQTT     MQTTSettings `mapstructure:"mqtt" yaml:"mqtt"`
	Database DatabaseSettings
	Notify   NotifySettings
	Sentry   SentrySettings

	Logging logger.LoggingConfig
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration from configFile, or from the first config.yaml
// found in the default paths when configFile is empty. A default config file
// is written when none exists.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	if err := initViper(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("config_file", v.ConfigFileUsed()).
			Build()
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	GetLogger().Debug("configuration loaded", logger.String("config_file", v.ConfigFileUsed()))
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("environment variable configuration issues", logger.Error(err))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryFileIO).
				Context("config_file", configFile).
				Context("operation", "read_config").
				Build()
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v, configPaths[0])
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read_config").
			Build()
	}
	return nil
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it.
func createDefaultConfig(v *viper.Viper, dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Context("operation", "create_config_dir").
			Build()
	}

	data, err := DefaultConfig()
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", configPath).
			Context("operation", "write_default_config").
			Build()
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read_embedded_config").
			Build()
	}
	return data, nil
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal_config").
			Build()
	}

	// Write to a temporary file in the same directory and rename it over
	// the target so readers never see a partial file.
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "create_temp_config").
			Build()
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "write_temp_config").
			Build()
	}
	if err := tempFile.Close(); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "close_temp_config").
			Build()
	}

	if err := moveFile(tempFileName, configPath); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", configPath).
			Context("operation", "replace_config").
			Build()
	}
	return nil
}

// ResolvedEnvironment returns the gateway environment, forcing sandbox in
// debug mode.
func (s *Settings) ResolvedEnvironment() string {
	if s.Debug {
		return EnvironmentSandbox
	}
	return s.APNs.Environment
}
