// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "CareBell-Go")
	viper.SetDefault("main.timeas24h", true)
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "carebell.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.rotationday", time.Sunday)

	viper.SetDefault("registry.path", "registry.yaml")

	viper.SetDefault("audio.device", "default")
	viper.SetDefault("audio.volume", 1.0)
	viper.SetDefault("audio.soundspath", "sounds/")
	viper.SetDefault("audio.unlock", false)
	viper.SetDefault("audio.night.enabled", false)
	viper.SetDefault("audio.night.volume", 0.5)
	viper.SetDefault("audio.night.latitude", 0.000)
	viper.SetDefault("audio.night.longitude", 0.000)

	viper.SetDefault("announcer.pausems", 3500)
	viper.SetDefault("announcer.interruptinflight", false)
	viper.SetDefault("announcer.queuesize", 64)

	viper.SetDefault("tracker.transientwindowms", 1500)
	viper.SetDefault("tracker.standbypulses", 5)

	viper.SetDefault("history.debug", false)
	viper.SetDefault("history.path", "history.json")
	viper.SetDefault("history.flushms", 1000)

	viper.SetDefault("feeds.tcp.enabled", true)
	viper.SetDefault("feeds.tcp.listen", "127.0.0.1:8700")
	viper.SetDefault("feeds.tcp.authoritative", true)
	viper.SetDefault("feeds.stdin.enabled", false)
	viper.SetDefault("feeds.mqtt.enabled", false)
	viper.SetDefault("feeds.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("feeds.mqtt.topic", "carebell/events")
	viper.SetDefault("feeds.mqtt.username", "")
	viper.SetDefault("feeds.mqtt.password", "")

	viper.SetDefault("notification.debug", false)
	viper.SetDefault("notification.maxstored", 1000)
	viper.SetDefault("notification.maxperminute", 30)
	viper.SetDefault("notification.desktop.enabled", true)
	viper.SetDefault("notification.providers", []map[string]any{})

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topicprefix", "carebell")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", 60)
	viper.SetDefault("monitor.hysteresispercent", 5.0)
	viper.SetDefault("monitor.criticalresend", 30)
	viper.SetDefault("monitor.cpu.enabled", true)
	viper.SetDefault("monitor.cpu.warning", 85.0)
	viper.SetDefault("monitor.cpu.critical", 95.0)
	viper.SetDefault("monitor.memory.enabled", true)
	viper.SetDefault("monitor.memory.warning", 85.0)
	viper.SetDefault("monitor.memory.critical", 95.0)
	viper.SetDefault("monitor.disk.enabled", true)
	viper.SetDefault("monitor.disk.warning", 85.0)
	viper.SetDefault("monitor.disk.critical", 95.0)
	viper.SetDefault("monitor.diskpaths", []string{})

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.debug", false)

	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.maxconnections", 256)
	viper.SetDefault("webserver.log.enabled", false)
	viper.SetDefault("webserver.log.path", "webserver.log")
	viper.SetDefault("webserver.log.rotation", RotationDaily)
	viper.SetDefault("webserver.log.maxsize", 1048576)
	viper.SetDefault("webserver.log.rotationday", time.Sunday)

	viper.SetDefault("backup.enabled", false)
	viper.SetDefault("backup.debug", false)
	viper.SetDefault("backup.interval", "24h")
	viper.SetDefault("backup.retention.maxage", "30d")
	viper.SetDefault("backup.retention.maxbackups", 14)
	viper.SetDefault("backup.retention.minbackups", 3)
}
