// Package config loads the daemon configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/heartbeat"
	"github.com/phenomenon0/gameweek/pkg/pricing"
	"github.com/phenomenon0/gameweek/pkg/scoring"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Environment overrides for secrets.
const (
	EnvPostgresDSN    = "GAMEWEEK_POSTGRES_DSN"
	EnvRedisAddr      = "GAMEWEEK_REDIS_ADDR"
	EnvTelegramToken  = "GAMEWEEK_TELEGRAM_TOKEN"
	EnvTelegramChatID = "GAMEWEEK_TELEGRAM_CHAT_ID"
	EnvAdminToken     = "GAMEWEEK_ADMIN_TOKEN"
	EnvFeedAPIKey     = "GAMEWEEK_FEED_API_KEY"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Feed      FeedConfig      `yaml:"feed"`
	Game      GameConfig      `yaml:"game"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AdminToken   string        `yaml:"admin_token"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

type LogConfig struct {
	Level       string `yaml:"level"`    // debug, info, warn, error
	Encoding    string `yaml:"encoding"` // json or console
	Development bool   `yaml:"development"`
}

// PostgresConfig selects the postgres store. An empty DSN uses the in-memory store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the cross-process heartbeat lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// FeedConfig picks the fixture source: the HTTP feed at BaseURL, or a
// season file at StaticFile.
type FeedConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	StaticFile string        `yaml:"static_file"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second
	Burst      int           `yaml:"burst"`
	Timeout    time.Duration `yaml:"timeout"`
}

type GameConfig struct {
	StartingGold     int64          `yaml:"starting_gold"`
	NoPickPenalty    int64          `yaml:"no_pick_penalty"`
	LockGuard        time.Duration  `yaml:"lock_guard"`
	PlaceholderClose time.Duration  `yaml:"placeholder_close"`
	BonusAllowance   map[string]int `yaml:"bonus_allowance"`
}

type PricingConfig struct {
	Baseline int `yaml:"baseline"`
}

type ScoringConfig struct {
	Win           float64 `yaml:"win"`
	Draw          float64 `yaml:"draw"`
	Loss          float64 `yaml:"loss"`
	HandicapShift int     `yaml:"handicap_shift"`
	LoyaltyPrefix string  `yaml:"loyalty_prefix"`
	LoyaltyBonus  float64 `yaml:"loyalty_bonus"`
}

type HeartbeatConfig struct {
	// Schedule is a six-field cron spec (with seconds). Empty disables the
	// in-process trigger and leaves beats to the /keep-alive endpoint.
	Schedule        string        `yaml:"schedule"`
	ReminderLead    time.Duration `yaml:"reminder_lead"`
	InterimInterval time.Duration `yaml:"interim_interval"`
	MinInterval     time.Duration `yaml:"min_interval"`
	Burst           int           `yaml:"burst"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Redis: RedisConfig{
			LockKey: "gameweek:heartbeat",
			LockTTL: 5 * time.Minute,
		},
		Feed: FeedConfig{
			RateLimit: 5,
			Burst:     5,
			Timeout:   15 * time.Second,
		},
		Game: GameConfig{
			StartingGold:     380,
			NoPickPenalty:    10,
			LockGuard:        365 * 24 * time.Hour,
			PlaceholderClose: 365 * 24 * time.Hour,
			BonusAllowance: map[string]int{
				string(bonus.DoubleUp):       2,
				string(bonus.GoalDifference): 2,
				string(bonus.Handicap):       2,
			},
		},
		Pricing: PricingConfig{
			Baseline: pricing.DefaultBaseline,
		},
		Scoring: ScoringConfig{
			Win:           3,
			Draw:          1,
			Loss:          0,
			HandicapShift: 2,
			LoyaltyPrefix: "Lei",
			LoyaltyBonus:  0.1,
		},
		Heartbeat: HeartbeatConfig{
			Schedule:        "0 */5 * * * *",
			ReminderLead:    24 * time.Hour,
			InterimInterval: 30 * time.Minute,
			MinInterval:     10 * time.Second,
			Burst:           1,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv(EnvTelegramChatID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTelegramChatID, err)
		}
		c.Telegram.ChatID = id
	}
	if v := os.Getenv(EnvAdminToken); v != "" {
		c.Server.AdminToken = v
	}
	if v := os.Getenv(EnvFeedAPIKey); v != "" {
		c.Feed.APIKey = v
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Feed.BaseURL == "" && c.Feed.StaticFile == "" {
		errs = append(errs, errors.New("feed: base_url or static_file is required"))
	}
	if c.Feed.BaseURL != "" && c.Feed.StaticFile != "" {
		errs = append(errs, errors.New("feed: base_url and static_file are exclusive"))
	}
	if c.Game.StartingGold <= 0 {
		errs = append(errs, errors.New("game: starting_gold must be positive"))
	}
	if c.Game.NoPickPenalty < 0 {
		errs = append(errs, errors.New("game: no_pick_penalty must not be negative"))
	}
	for name, n := range c.Game.BonusAllowance {
		if _, err := bonus.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("game: bonus_allowance: %w", err))
		}
		if n < 0 {
			errs = append(errs, fmt.Errorf("game: bonus_allowance %s must not be negative", name))
		}
	}
	if c.Pricing.Baseline <= 0 {
		errs = append(errs, errors.New("pricing: baseline must be positive"))
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram: chat_id is required with a token"))
	}
	return errors.Join(errs...)
}

// GameRules converts the game and scoring sections to engine rules.
func (c *Config) GameRules() *game.Config {
	allowance := make(map[bonus.Kind]int, len(c.Game.BonusAllowance))
	for name, n := range c.Game.BonusAllowance {
		allowance[bonus.Kind(name)] = n
	}
	return &game.Config{
		StartingGold:     decimal.NewFromInt(c.Game.StartingGold),
		NoPickPenalty:    decimal.NewFromInt(c.Game.NoPickPenalty),
		LockGuard:        c.Game.LockGuard,
		PlaceholderClose: c.Game.PlaceholderClose,
		BonusAllowance:   allowance,
		Scoring: &scoring.Policy{
			Win:           decimal.NewFromFloat(c.Scoring.Win),
			Draw:          decimal.NewFromFloat(c.Scoring.Draw),
			Loss:          decimal.NewFromFloat(c.Scoring.Loss),
			HandicapShift: c.Scoring.HandicapShift,
			LoyaltyPrefix: c.Scoring.LoyaltyPrefix,
			LoyaltyBonus:  decimal.NewFromFloat(c.Scoring.LoyaltyBonus),
		},
	}
}

// PricingRules returns the pricer configuration.
func (c *Config) PricingRules() *pricing.Config {
	return &pricing.Config{Baseline: c.Pricing.Baseline}
}

// HeartbeatTiming returns the heartbeat configuration.
func (c *Config) HeartbeatTiming() *heartbeat.Config {
	return &heartbeat.Config{
		ReminderLead:    c.Heartbeat.ReminderLead,
		InterimInterval: c.Heartbeat.InterimInterval,
		MinInterval:     c.Heartbeat.MinInterval,
		Burst:           c.Heartbeat.Burst,
	}
}
