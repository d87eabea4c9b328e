// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "apnpush")
	v.SetDefault("main.logpath", "logs/")
	v.SetDefault("main.timezone", "Local")

	v.SetDefault("apns.environment", EnvironmentProduction)
	v.SetDefault("apns.workers", 10)
	v.SetDefault("apns.cachecapacity", 300)
	v.SetDefault("apns.batchsize", 32)
	v.SetDefault("apns.priority", 10)
	v.SetDefault("apns.expirationttl", time.Duration(0))
	v.SetDefault("apns.dequeuetimeout", 50*time.Millisecond)
	v.SetDefault("apns.writereadypoll", 5*time.Second)
	v.SetDefault("apns.writetimeout", 30*time.Second)
	v.SetDefault("apns.connecttimeout", 30*time.Second)
	v.SetDefault("apns.closetimeout", 10*time.Second)
	v.SetDefault("apns.stopgrace", 60*time.Second)
	v.SetDefault("apns.draindelay", 3*time.Minute)

	v.SetDefault("payload.alerthtml", false)
	v.SetDefault("payload.badge", -1)
	v.SetDefault("payload.sound", "default")
	v.SetDefault("payload.shrinkpostfix", "...")

	v.SetDefault("tokens.file", "tokens.txt")
	v.SetDefault("tokens.skipknownbad", false)
	v.SetDefault("tokens.rejectcachettl", 10*time.Minute)

	v.SetDefault("feedback.enabled", false)
	v.SetDefault("feedback.readtimeout", 30*time.Second)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9091")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "apnpush")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.path", "apnpush.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")
	v.SetDefault("database.mysql.database", "apnpush")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.title", "APNPush run")
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("sentry.enabled", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
}
