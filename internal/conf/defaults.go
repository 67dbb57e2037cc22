// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "emspush")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/emspush.log")

	viper.SetDefault("backend.baseurl", "http://localhost:8000/api/v1")
	viper.SetDefault("backend.bearertoken", "")
	viper.SetDefault("backend.timeout", 10*time.Second)

	viper.SetDefault("provider.broker", "tcp://localhost:1883")
	viper.SetDefault("provider.username", "")
	viper.SetDefault("provider.password", "")
	viper.SetDefault("provider.topicprefix", "push/device")
	viper.SetDefault("provider.connecttimeout", 30*time.Second)
	viper.SetDefault("provider.requesttimeout", 10*time.Second)
	viper.SetDefault("provider.reconnectcooldown", 5*time.Second)
	viper.SetDefault("provider.reconnectdelay", 1*time.Second)

	viper.SetDefault("push.dedup.window", 30*time.Second)
	viper.SetDefault("push.dedup.bucket", 1*time.Minute)
	viper.SetDefault("push.gracedelay", 1*time.Second)
	viper.SetDefault("push.maxnotifications", 1000)
	viper.SetDefault("push.pagesize", 20)
	viper.SetDefault("push.tokenstorepath", "emspush.db")

	viper.SetDefault("renderer.urls", []string{})
	viper.SetDefault("renderer.timeout", 10*time.Second)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
}
