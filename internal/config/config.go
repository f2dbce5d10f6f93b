// Package config loads settings from flags, environment and an optional
// YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "SOLAX"

	DefaultHTTPAddr      = ":9090"
	DefaultPollInterval  = 5 * time.Minute
	MinPollInterval      = 30 * time.Second
	DefaultUTCCorrection = 7 * time.Hour
)

// Config is the complete application configuration
type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string
	Once     bool

	TokenID       string
	SerialNumber  string
	BaseURL       string
	PollInterval  time.Duration
	UTCCorrection time.Duration

	MQTT          MQTTConfig
	HomeAssistant HAConfig
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled    bool
	Broker     string
	Port       int
	Username   string
	Password   string
	ClientID   string
	RetryDelay time.Duration
}

// HAConfig contains Home Assistant MQTT discovery settings
type HAConfig struct {
	DiscoveryPrefix string
	BaseTopic       string
	DeviceID        string
	DeviceName      string
}

// Load reads configuration. Precedence: flags, SOLAX_* environment
// variables, the YAML file named by --config, defaults.
func Load(args []string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("solaxcloud", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "path to a YAML configuration file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("http-addr", "", "address for the metrics and health endpoints")
	fs.Duration("poll-interval", 0, "interval between SolaX Cloud refreshes")
	fs.Bool("once", false, "refresh once, print the resolved values and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	for key, flag := range map[string]string{
		"log_level":     "log-level",
		"http_addr":     "http-addr",
		"poll_interval": "poll-interval",
		"once":          "once",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", *configFile, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "prod")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("once", false)
	v.SetDefault("token_id", "")
	v.SetDefault("serial_number", "")
	v.SetDefault("base_url", "https://www.solaxcloud.com")
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("utc_correction", DefaultUTCCorrection)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.retry_delay", 5*time.Second)

	v.SetDefault("homeassistant.discovery_prefix", "homeassistant")
	v.SetDefault("homeassistant.base_topic", "")
	v.SetDefault("homeassistant.device_id", "")
	v.SetDefault("homeassistant.device_name", "")
}

func fromViper(v *viper.Viper) (Config, error) {
	level, err := ParseLogLevel(v.GetString("log_level"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:        strings.TrimSpace(v.GetString("app_env")),
		LogLevel:      level,
		HTTPAddr:      strings.TrimSpace(v.GetString("http_addr")),
		Once:          v.GetBool("once"),
		TokenID:       strings.TrimSpace(v.GetString("token_id")),
		SerialNumber:  strings.TrimSpace(v.GetString("serial_number")),
		BaseURL:       strings.TrimRight(strings.TrimSpace(v.GetString("base_url")), "/"),
		PollInterval:  v.GetDuration("poll_interval"),
		UTCCorrection: v.GetDuration("utc_correction"),
		MQTT: MQTTConfig{
			Enabled:    v.GetBool("mqtt.enabled"),
			Broker:     strings.TrimSpace(v.GetString("mqtt.broker")),
			Port:       v.GetInt("mqtt.port"),
			Username:   v.GetString("mqtt.username"),
			Password:   v.GetString("mqtt.password"),
			ClientID:   strings.TrimSpace(v.GetString("mqtt.client_id")),
			RetryDelay: v.GetDuration("mqtt.retry_delay"),
		},
		HomeAssistant: HAConfig{
			DiscoveryPrefix: strings.TrimSpace(v.GetString("homeassistant.discovery_prefix")),
			BaseTopic:       strings.TrimSpace(v.GetString("homeassistant.base_topic")),
			DeviceID:        strings.TrimSpace(v.GetString("homeassistant.device_id")),
			DeviceName:      strings.TrimSpace(v.GetString("homeassistant.device_name")),
		},
	}

	applyDerivedDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDerivedDefaults(cfg *Config) {
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "solaxcloud-" + uuid.NewString()[:8]
	}
	if cfg.HomeAssistant.DeviceID == "" {
		cfg.HomeAssistant.DeviceID = cfg.SerialNumber
	}
	if cfg.HomeAssistant.BaseTopic == "" {
		cfg.HomeAssistant.BaseTopic = "solaxcloud/" + cfg.SerialNumber
	}
	if cfg.HomeAssistant.DeviceName == "" {
		cfg.HomeAssistant.DeviceName = "SolaX " + cfg.SerialNumber
	}
}

// Validate checks required settings and ranges
func (c Config) Validate() error {
	var errs []error

	switch c.AppEnv {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("invalid app_env %q (allowed: dev, prod)", c.AppEnv))
	}
	if c.TokenID == "" {
		errs = append(errs, errors.New("token_id must be set (SOLAX_TOKEN_ID)"))
	}
	if c.SerialNumber == "" {
		errs = append(errs, errors.New("serial_number must be set (SOLAX_SERIAL_NUMBER)"))
	}
	if c.PollInterval < MinPollInterval {
		errs = append(errs, fmt.Errorf("poll_interval %s is below the minimum of %s", c.PollInterval, MinPollInterval))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker must be set when mqtt is enabled"))
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			errs = append(errs, fmt.Errorf("invalid mqtt.port %d", c.MQTT.Port))
		}
	}

	return errors.Join(errs...)
}

// ParseLogLevel maps a level name to slog.Level
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q (allowed: debug, info, warn, error)", s)
	}
}
