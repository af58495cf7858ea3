// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Bot       BotConfig       `mapstructure:"bot"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Timer     TimerConfig     `mapstructure:"timer"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// Courts is the number of courts seeded into the memory store.
	Courts int `mapstructure:"courts"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// HTTPConfig holds the read-model HTTP server configuration.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// CORSOrigins lists browser origins allowed to read the board.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// EngineConfig holds assignment engine pacing.
type EngineConfig struct {
	RecheckBackoff          time.Duration `mapstructure:"recheck_backoff"`
	FinishSettleDelay       time.Duration `mapstructure:"finish_settle_delay"`
	CancelOnCourtDeactivate bool          `mapstructure:"cancel_on_court_deactivate"`
}

// TimerConfig holds countdown and elapsed-time settings.
type TimerConfig struct {
	CountdownSeconds int           `mapstructure:"countdown_seconds"`
	Tick             time.Duration `mapstructure:"tick"`
}

// RealtimeConfig holds change-notification bridge settings.
type RealtimeConfig struct {
	Channel         string        `mapstructure:"channel"`
	GamesDebounce   time.Duration `mapstructure:"games_debounce"`
	UsersDebounce   time.Duration `mapstructure:"users_debounce"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. BOT_TOKEN, DATABASE_HOST, ENGINE_RECHECK_BACKOFF
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.courts", 3)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "courtqueue")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "courtqueue")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("bot.token", "")
	v.SetDefault("admin.ids", []int64{})
	v.SetDefault("whitelist.chats", []int64{})

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})

	v.SetDefault("engine.recheck_backoff", "500ms")
	v.SetDefault("engine.finish_settle_delay", "1s")
	v.SetDefault("engine.cancel_on_court_deactivate", true)

	v.SetDefault("timer.countdown_seconds", 5)
	v.SetDefault("timer.tick", "1s")

	v.SetDefault("realtime.channel", "court_queue_changes")
	v.SetDefault("realtime.games_debounce", "300ms")
	v.SetDefault("realtime.users_debounce", "500ms")
	v.SetDefault("realtime.liveness_timeout", "10s")
	v.SetDefault("realtime.poll_interval", "10s")
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Timer.CountdownSeconds <= 0 {
		return fmt.Errorf("timer.countdown_seconds must be positive")
	}
	if c.Timer.Tick <= 0 {
		return fmt.Errorf("timer.tick must be positive")
	}
	return nil
}

// IsAdmin checks if a Telegram user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
