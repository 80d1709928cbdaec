// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/nebula-market/internal/ledger"
	"github.com/rovshanmuradov/nebula-market/internal/logger"
	"github.com/rovshanmuradov/nebula-market/internal/market"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

type TokenConfig struct {
	Name     string `mapstructure:"name"`
	Symbol   string `mapstructure:"symbol"`
	Decimals int    `mapstructure:"decimals"`
}

type CurveConfig struct {
	InitialPrice string `mapstructure:"initial_price"`
	Slope        string `mapstructure:"slope"`
}

type StorageConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxAge      int    `mapstructure:"max_age"`
	MaxBackups  int    `mapstructure:"max_backups"`
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
	Pretty      bool   `mapstructure:"pretty"`
}

type Config struct {
	Token          TokenConfig    `mapstructure:"token"`
	Curve          CurveConfig    `mapstructure:"curve"`
	ReferralCutBps uint32         `mapstructure:"referral_cut_bps"`
	Storage        StorageConfig  `mapstructure:"storage"`
	Database       DatabaseConfig `mapstructure:"database"`
	Kafka          KafkaConfig    `mapstructure:"kafka"`
	MetricsAddr    string         `mapstructure:"metrics_addr"`
	Log            LogConfig      `mapstructure:"log"`
	ExportDir      string         `mapstructure:"export_dir"`
	Script         string         `mapstructure:"script"`
	Retries        int            `mapstructure:"retries"`
}

const (
	DefaultReferralCutBps = 500
	DefaultRetries        = 5
	DefaultDecimals       = 0
)

const envPrefix = "NEBULA_MARKET"

func LoadConfig(path string) (*Config, error) {
	// .env рядом с конфигом необязателен
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := map[string]interface{}{
		"token.name":          "lost in nebulas",
		"token.symbol":        "lnb",
		"token.decimals":      DefaultDecimals,
		"curve.initial_price": "",
		"curve.slope":         "",
		"referral_cut_bps":    DefaultReferralCutBps,
		"storage.dir":         "data/state",
		"storage.in_memory":   false,
		"database.driver":     "sqlite",
		"database.dsn":        "data/market.db",
		"kafka.brokers":       []string{},
		"kafka.topic":         "market-events",
		"metrics_addr":        "",
		"log.file":            "logs/market.log",
		"log.max_size":        100,
		"log.max_age":         7,
		"log.max_backups":     3,
		"log.compress":        true,
		"log.development":     false,
		"log.pretty":          false,
		"export_dir":          "exports",
		"script":              "",
		"retries":             DefaultRetries,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.Token.Symbol == "" {
		return errors.New("token.symbol is empty")
	}
	if cfg.Token.Decimals < 0 || cfg.Token.Decimals > 36 {
		return errors.New("invalid token.decimals")
	}
	if _, err := cfg.MarketConfig(); err != nil {
		return err
	}
	switch cfg.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver != "" && cfg.Database.DSN == "" {
		return errors.New("database.dsn is empty")
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		return errors.New("kafka.topic is empty")
	}
	if !cfg.Storage.InMemory && cfg.Storage.Dir == "" {
		return errors.New("storage.dir is empty")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	return nil
}

// MarketConfig parses the curve parameters.
func (c *Config) MarketConfig() (market.Config, error) {
	price, err := numeric.Parse(c.Curve.InitialPrice)
	if err != nil {
		return market.Config{}, fmt.Errorf("invalid curve.initial_price: %w", err)
	}
	slope, err := numeric.Parse(c.Curve.Slope)
	if err != nil {
		return market.Config{}, fmt.Errorf("invalid curve.slope: %w", err)
	}
	if price.Sign() <= 0 || slope.Sign() <= 0 {
		return market.Config{}, errors.New("curve.initial_price and curve.slope must be positive")
	}
	if c.ReferralCutBps > 10000 {
		return market.Config{}, errors.New("referral_cut_bps exceeds 10000")
	}
	return market.Config{
		InitialPrice:   price,
		Slope:          slope,
		ReferralCutBps: c.ReferralCutBps,
	}, nil
}

func (c *Config) TokenInfo() ledger.Info {
	return ledger.Info{
		Name:     c.Token.Name,
		Symbol:   c.Token.Symbol,
		Decimals: uint8(c.Token.Decimals),
	}
}

func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		LogFile:     c.Log.File,
		MaxSize:     c.Log.MaxSize,
		MaxAge:      c.Log.MaxAge,
		MaxBackups:  c.Log.MaxBackups,
		Compress:    c.Log.Compress,
		Development: c.Log.Development,
		Pretty:      c.Log.Pretty,
	}
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	// список брокеров приходит строкой через запятую
	envBrokers := v.GetString("KAFKA_BROKERS")
	if envBrokers == "" {
		return
	}
	var clean []string
	for _, b := range strings.Split(envBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			clean = append(clean, b)
		}
	}
	if len(clean) > 0 {
		cfg.Kafka.Brokers = clean
	}
}
