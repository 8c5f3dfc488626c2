package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/llm"
	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. SLOP_SERVER_HTTP_ADDRESS.
const EnvPrefix = "SLOP"

type Config struct {
	Server        ServerConfig         `mapstructure:"server"`
	Database      DatabaseConfig       `mapstructure:"database"`
	Redis         RedisConfig          `mapstructure:"redis"`
	LLM           LLMConfig            `mapstructure:"llm"`
	Game          GameConfig           `mapstructure:"game"`
	Scoring       game.ScoringPolicy   `mapstructure:"scoring"`
	Auth          AuthConfig           `mapstructure:"auth"`
	Log           logger.Options       `mapstructure:"log"`
	Telemetry     telemetry.Config     `mapstructure:"telemetry"`
	Personalities []models.Personality `mapstructure:"personalities"`
}

type ServerConfig struct {
	HTTPAddress    string        `mapstructure:"http_address"`
	GRPCAddress    string        `mapstructure:"grpc_address"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // memory, postgres, gorm or sqlite
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type LLMConfig struct {
	Provider   string `mapstructure:"provider"` // openai or canned
	llm.Config `mapstructure:",squash"`
	// Timeout bounds a whole RequestScript call, retries included.
	Timeout time.Duration `mapstructure:"timeout"`
}

type GameConfig struct {
	RoundsPerTeam     int           `mapstructure:"rounds_per_team"`
	GuessTimerSeconds int           `mapstructure:"guess_timer_seconds"`
	MaxPlayersPerTeam int           `mapstructure:"max_players_per_team"`
	ContentTone       string        `mapstructure:"content_tone"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

type AuthConfig struct {
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.grpc_address", ":9090")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.heartbeat", 60*time.Second)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "slop")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "slop")
	v.SetDefault("database.sqlite.path", "slop.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", 24*time.Hour)

	v.SetDefault("llm.provider", "canned")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.9)
	v.SetDefault("llm.max_tokens", 600)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.attempt_timeout", 20*time.Second)
	v.SetDefault("llm.timeout", 30*time.Second)

	defaults := models.DefaultSettings()
	v.SetDefault("game.rounds_per_team", defaults.RoundsPerTeam)
	v.SetDefault("game.guess_timer_seconds", defaults.GuessTimerSeconds)
	v.SetDefault("game.max_players_per_team", defaults.MaxPlayersPerTeam)
	v.SetDefault("game.content_tone", string(defaults.ContentTone))
	v.SetDefault("game.idle_timeout", 2*time.Hour)

	scoring := game.DefaultScoring()
	v.SetDefault("scoring.prompt_guess_points", scoring.PromptGuessPoints)
	v.SetDefault("scoring.acting_team_points", scoring.ActingTeamPoints)
	v.SetDefault("scoring.personality_points", scoring.PersonalityPoints)

	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "slop")
}

// LoadConfig reads config.yaml from path when present, then applies SLOP_
// environment overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Personalities) == 0 {
		cfg.Personalities = models.DefaultPersonalities()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory", "postgres", "gorm", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	switch c.LLM.Provider {
	case "canned":
	case "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.Game.RoundsPerTeam <= 0 {
		errs = append(errs, fmt.Errorf("game.rounds_per_team must be positive, got %d", c.Game.RoundsPerTeam))
	}
	if c.Game.MaxPlayersPerTeam <= 0 {
		errs = append(errs, fmt.Errorf("game.max_players_per_team must be positive, got %d", c.Game.MaxPlayersPerTeam))
	}
	if c.Game.GuessTimerSeconds < 0 {
		errs = append(errs, fmt.Errorf("game.guess_timer_seconds must not be negative, got %d", c.Game.GuessTimerSeconds))
	}
	if _, err := models.ParseContentTone(c.Game.ContentTone); err != nil {
		errs = append(errs, fmt.Errorf("game.content_tone: %w", err))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if _, err := c.Catalog(); err != nil {
		errs = append(errs, fmt.Errorf("personalities: %w", err))
	}
	return errors.Join(errs...)
}

// Settings returns the defaults applied to new games.
func (c *Config) Settings() models.GameSettings {
	return models.GameSettings{
		RoundsPerTeam:     c.Game.RoundsPerTeam,
		GuessTimerSeconds: c.Game.GuessTimerSeconds,
		MaxPlayersPerTeam: c.Game.MaxPlayersPerTeam,
		ContentTone:       models.ContentTone(c.Game.ContentTone),
	}
}

// Catalog builds the personality catalog.
func (c *Config) Catalog() (*models.PersonalityCatalog, error) {
	return models.NewPersonalityCatalog(c.Personalities...)
}
