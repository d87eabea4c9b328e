// env.go - Environment variable configuration and validation for APNPush
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

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
		{"debug", "APNPUSH_DEBUG", validateEnvBool},
		{"main.logpath", "APNPUSH_LOG_PATH", nil},

		// Gateway
		{"apns.environment", "APNPUSH_ENVIRONMENT", validateEnvEnvironment},
		{"apns.certificate.pkcs12", "APNPUSH_CERTIFICATE_PATH", validateEnvFile},
		{"apns.certificate.password", "APNPUSH_CERTIFICATE_PASSWORD", nil},
		{"apns.workers", "APNPUSH_WORKERS", validateEnvPositiveInt},
		{"apns.cachecapacity", "APNPUSH_CACHE_CAPACITY", validateEnvPositiveInt},
		{"apns.draindelay", "APNPUSH_DRAIN_DELAY", validateEnvDuration},

		{"tokens.file", "APNPUSH_TOKEN_FILE", nil},
		{"payload.alert", "APNPUSH_ALERT", nil},

		// Integrations
		{"mqtt.password", "APNPUSH_MQTT_PASSWORD", nil},
		{"database.mysql.password", "APNPUSH_MYSQL_PASSWORD", nil},
		{"sentry.dsn", "APNPUSH_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
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

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvEnvironment(value string) error {
	switch value {
	case EnvironmentProduction, EnvironmentSandbox:
		return nil
	}
	return fmt.Errorf("must be one of: %s, %s", EnvironmentProduction, EnvironmentSandbox)
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("must not be negative, got %s", d)
	}
	return nil
}

// validateEnvFile only warns; the certificate loader reports the real error.
func validateEnvFile(value string) error {
	if _, err := os.Stat(value); os.IsNotExist(err) {
		return fmt.Errorf("warning: file does not exist: %s", value)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}
