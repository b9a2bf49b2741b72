package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch reloads the config file on change and passes the new logger level to apply.
// Storage settings are not hot-reloaded.
func Watch(v *viper.Viper, log *slog.Logger, apply func(level string)) {
	if v == nil || apply == nil {
		return
	}

	if log == nil {
		log = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		level := v.GetString("logger.level")
		log.Info("config file changed", slog.String("file", e.Name), slog.String("logger_level", level))
		apply(level)
	})
	v.WatchConfig()
}
