// conf/validate.go

package conf

import (
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

	ve.Errors = append(ve.Errors, validateAPNsSettings(&settings.APNs)...)
	ve.Errors = append(ve.Errors, validatePayloadSettings(&settings.Payload)...)
	ve.Errors = append(ve.Errors, validateMetricsSettings(&settings.Metrics)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)

	if settings.Feedback.ReadTimeout < 0 {
		ve.Errors = append(ve.Errors, "feedback read timeout must not be negative")
	}
	ve.Errors = append(ve.Errors, validateDatabaseSettings(&settings.Database)...)
	if settings.Tokens.SkipKnownBad && !settings.Database.Enabled {
		ve.Errors = append(ve.Errors, "tokens.skipknownbad requires the database to be enabled")
	}
	if settings.Notify.Enabled && len(settings.Notify.URLs) == 0 {
		ve.Errors = append(ve.Errors, "at least one notify URL must be set when notify is enabled")
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry DSN must be set when sentry is enabled")
	}
	if settings.Main.Timezone != "" {
		if _, err := time.LoadLocation(settings.Main.Timezone); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("invalid timezone %q: %v", settings.Main.Timezone, err))
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAPNsSettings(s *APNsSettings) []string {
	var errs []string

	switch s.Environment {
	case EnvironmentProduction, EnvironmentSandbox:
	default:
		errs = append(errs, fmt.Sprintf("apns environment must be %s or %s, got %q",
			EnvironmentProduction, EnvironmentSandbox, s.Environment))
	}

	if s.Workers < 1 {
		errs = append(errs, "apns workers must be at least 1")
	}
	if s.CacheCapacity < 1 {
		errs = append(errs, "apns cache capacity must be at least 1")
	}
	if s.BatchSize < 1 {
		errs = append(errs, "apns batch size must be at least 1")
	}
	if s.Priority != 5 && s.Priority != 10 {
		errs = append(errs, "apns priority must be 5 or 10")
	}
	if s.ExpirationTTL < 0 {
		errs = append(errs, "apns expiration TTL must not be negative")
	}

	durations := map[string]time.Duration{
		"dequeue timeout":  s.DequeueTimeout,
		"write ready poll": s.WriteReadyPoll,
		"write timeout":    s.WriteTimeout,
		"connect timeout":  s.ConnectTimeout,
		"close timeout":    s.CloseTimeout,
		"stop grace":       s.StopGrace,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("apns %s must be positive", name))
		}
	}
	if s.DrainDelay < 0 {
		errs = append(errs, "apns drain delay must not be negative")
	}

	cert := s.Certificate
	if cert.PKCS12 != "" && (cert.CertFile != "" || cert.KeyFile != "") {
		errs = append(errs, "apns certificate: set either pkcs12 or certfile/keyfile, not both")
	}
	if (cert.CertFile == "") != (cert.KeyFile == "") {
		errs = append(errs, "apns certificate: certfile and keyfile must be set together")
	}

	return errs
}

func validatePayloadSettings(s *PayloadSettings) []string {
	var errs []string
	if s.MDM != "" && s.Alert != "" {
		errs = append(errs, "payload mdm cannot be combined with an alert")
	}
	if len(s.ShrinkPostfix) >= MaxPayloadSize {
		errs = append(errs, "payload shrink postfix is longer than a payload")
	}
	if _, ok := s.Custom["aps"]; ok {
		errs = append(errs, "payload custom fields must not contain the aps key")
	}
	return errs
}

func validateDatabaseSettings(s *DatabaseSettings) []string {
	if !s.Enabled {
		return nil
	}
	switch s.Type {
	case DatabaseSQLite, "":
		if s.Path == "" {
			return []string{"database path must be set when the sqlite database is enabled"}
		}
	case DatabaseMySQL:
		if s.MySQL.Host == "" || s.MySQL.Database == "" {
			return []string{"mysql host and database must be set when the mysql database is enabled"}
		}
	default:
		return []string{fmt.Sprintf("database type must be %s or %s, got %q", DatabaseSQLite, DatabaseMySQL, s.Type)}
	}
	return nil
}

func validateMetricsSettings(s *MetricsSettings) []string {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return []string{fmt.Sprintf("metrics listen address %q is invalid: %v", s.Listen, err)}
	}
	return nil
}

func validateMQTTSettings(s *MQTTSettings) []string {
	if !s.Enabled {
		return nil
	}

	var errs []string
	u, err := url.Parse(s.Broker)
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("mqtt broker URL is invalid: %v", err))
	case !isSupportedBrokerScheme(u.Scheme):
		errs = append(errs, fmt.Sprintf("mqtt broker scheme %q is not supported", u.Scheme))
	}
	if strings.TrimSpace(s.Topic) == "" {
		errs = append(errs, "mqtt topic must not be empty")
	}
	if s.QoS < 0 || s.QoS > 2 {
		errs = append(errs, "mqtt qos must be 0, 1 or 2")
	}
	return errs
}

func isSupportedBrokerScheme(scheme string) bool {
	switch scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
		return true
	}
	return false
}
