// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "examtrack")
	viper.SetDefault("main.timezone", "UTC")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/examtrack.log")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.host", "0.0.0.0")
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.debug", false)

	viper.SetDefault("security.jwtsecret", "")
	viper.SetDefault("security.tokenexpiry", 24*time.Hour)
	viper.SetDefault("security.handshaketimeout", 10*time.Second)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "examtrack.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "examtrack")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "examtrack")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("notification.debug", false)
	viper.SetDefault("notification.maxstored", 1000)
	viper.SetDefault("notification.cleanupinterval", time.Hour)
	viper.SetDefault("notification.ratelimitwindow", time.Minute)
	viper.SetDefault("notification.ratelimitmaxevents", 100)

	viper.SetDefault("push.heartbeatinterval", 30*time.Second)
	viper.SetDefault("push.maxconnduration", 30*time.Minute)
	viper.SetDefault("push.channelbuffer", 10)

	viper.SetDefault("correction.lowconfidencethreshold", 0.5)
	viper.SetDefault("correction.rollnumberminconfidence", 0.75)
}
