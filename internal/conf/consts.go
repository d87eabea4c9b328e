// conf/consts.go hard coded constants
package conf

const (
	EnvironmentProduction = "production"
	EnvironmentSandbox    = "sandbox"

	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"

	// MaxPayloadSize is the gateway limit for the legacy binary interface.
	MaxPayloadSize = 256

	UnsentTokenFile  = "unsent_token.txt"
	InvalidTokenFile = "invalidToken.txt"
	RunLogFile       = "apn.log"
)
