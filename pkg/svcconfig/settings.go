package svcconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the daemon-wide configuration: everything that is not a
// per-service description. Unlike ServiceDescription, this genuinely has
// the shape a configuration-overlay library is for — defaults, a file,
// environment variables and flags all contribute to the same flat set of
// scalar keys.
type Settings struct {
	ServiceDirs   []string      `mapstructure:"service-dirs"`
	BootService   string        `mapstructure:"boot-service"`
	ControlSocket string        `mapstructure:"control-socket"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFormat     string        `mapstructure:"log-format"`
	LogFile       string        `mapstructure:"log-file"`
	MetricsAddr   string        `mapstructure:"metrics-addr"`
	EventBusURL   string        `mapstructure:"event-bus-url"`
	ShutdownGrace time.Duration `mapstructure:"shutdown-grace"`
	IsPID1        bool          `mapstructure:"pid1"`
}

// LoadSettings layers defaults, an optional config file, LATTICE_*
// environment variables, and any flags already bound onto v (the daemon's
// cobra command binds its flags into the same viper instance before
// calling this).
func LoadSettings(v *viper.Viper, configFile string) (Settings, error) {
	v.SetDefault("service-dirs", []string{"/etc/lattice/services"})
	v.SetDefault("boot-service", "boot")
	v.SetDefault("control-socket", "/run/lattice/control.sock")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")
	v.SetDefault("metrics-addr", "")
	v.SetDefault("shutdown-grace", 10*time.Second)

	v.SetEnvPrefix("LATTICE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("svcconfig: reading %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("svcconfig: decoding settings: %w", err)
	}
	return s, nil
}
