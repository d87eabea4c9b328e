package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.APNs = APNsSettings{
		Environment:    EnvironmentProduction,
		Workers:        10,
		CacheCapacity:  300,
		BatchSize:      32,
		Priority:       10,
		DequeueTimeout: 50 * time.Millisecond,
		WriteReadyPoll: 5 * time.Second,
		WriteTimeout:   30 * time.Second,
		ConnectTimeout: 30 * time.Second,
		CloseTimeout:   10 * time.Second,
		StopGrace:      60 * time.Second,
		DrainDelay:     3 * time.Minute,
	}
	s.Payload.Badge = -1
	s.Metrics.Listen = "127.0.0.1:9091"
	s.MQTT.Broker = "tcp://localhost:1883"
	s.MQTT.Topic = "apnpush"
	return s
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(s *Settings)
		errors int
	}{
		{"valid", func(*Settings) {}, 0},
		{"unknown environment", func(s *Settings) { s.APNs.Environment = "staging" }, 1},
		{"zero workers", func(s *Settings) { s.APNs.Workers = 0 }, 1},
		{"zero cache", func(s *Settings) { s.APNs.CacheCapacity = 0 }, 1},
		{"zero batch", func(s *Settings) { s.APNs.BatchSize = 0 }, 1},
		{"bad priority", func(s *Settings) { s.APNs.Priority = 7 }, 1},
		{"zero timeouts", func(s *Settings) {
			s.APNs.ConnectTimeout = 0
			s.APNs.CloseTimeout = 0
		}, 2},
		{"negative drain delay", func(s *Settings) { s.APNs.DrainDelay = -time.Second }, 1},
		{"both certificate kinds", func(s *Settings) {
			s.APNs.Certificate.PKCS12 = "a.p12"
			s.APNs.Certificate.CertFile = "a.pem"
			s.APNs.Certificate.KeyFile = "a.key"
		}, 1},
		{"cert without key", func(s *Settings) { s.APNs.Certificate.CertFile = "a.pem" }, 1},
		{"mdm with alert", func(s *Settings) {
			s.Payload.MDM = "magic"
			s.Payload.Alert = "hi"
		}, 1},
		{"aps in custom", func(s *Settings) { s.Payload.Custom = map[string]any{"aps": 1} }, 1},
		{"metrics bad listen", func(s *Settings) {
			s.Metrics.Enabled = true
			s.Metrics.Listen = "nope"
		}, 1},
		{"mqtt bad scheme and qos", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Broker = "http://localhost"
			s.MQTT.QoS = 3
		}, 2},
		{"skip known bad without database", func(s *Settings) { s.Tokens.SkipKnownBad = true }, 1},
		{"database without path", func(s *Settings) { s.Database.Enabled = true }, 1},
		{"unknown database type", func(s *Settings) {
			s.Database.Enabled = true
			s.Database.Type = "postgres"
		}, 1},
		{"mysql without host", func(s *Settings) {
			s.Database.Enabled = true
			s.Database.Type = DatabaseMySQL
			s.Database.MySQL.Database = "apnpush"
		}, 1},
		{"notify without urls", func(s *Settings) { s.Notify.Enabled = true }, 1},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, 1},
		{"bad timezone", func(s *Settings) { s.Main.Timezone = "Mars/Olympus" }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.errors == 0 {
				require.NoError(t, err)
				return
			}

			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Len(t, ve.Errors, tt.errors, ve.Errors)
		})
	}
}

func TestValidateEnvHelpers(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvBool("true"))
	assert.Error(t, validateEnvBool("yes"))
	assert.NoError(t, validateEnvEnvironment("sandbox"))
	assert.Error(t, validateEnvEnvironment("dev"))
	assert.NoError(t, validateEnvPositiveInt("3"))
	assert.Error(t, validateEnvPositiveInt("0"))
	assert.Error(t, validateEnvPositiveInt("x"))
	assert.NoError(t, validateEnvDuration("90s"))
	assert.Error(t, validateEnvDuration("-1s"))
	assert.Error(t, validateEnvDuration("soon"))
}
