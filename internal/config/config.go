package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"obsim/internal/depth"
)

const (
	ModeAutonomous = "autonomous"
	ModeOnDemand   = "on_demand"
)

type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Mode           string        `yaml:"mode"`
	Symbol         string        `yaml:"symbol"`
	LogLevel       string        `yaml:"log_level"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	SeriesFile     string        `yaml:"series_file"`
	Seed           uint64        `yaml:"seed"`
	Book           BookConfig    `yaml:"book"`
}

// BookConfig mirrors depth.Params in yaml-friendly types.
type BookConfig struct {
	MaxLevels      int     `yaml:"max_levels"`
	PricePrecision int32   `yaml:"price_precision"`
	SizePrecision  int32   `yaml:"size_precision"`
	TickSize       string  `yaml:"tick_size"`
	SpreadMin      float64 `yaml:"spread_min"`
	SpreadMax      float64 `yaml:"spread_max"`
	SizeMin        float64 `yaml:"size_min"`
	SizeMax        float64 `yaml:"size_max"`
	SpacingAlpha   float64 `yaml:"spacing_alpha"`
	ResizeAlpha    float64 `yaml:"resize_alpha"`
	ResizeDraws    int     `yaml:"resize_draws"`
}

func defaults() Config {
	p := depth.DefaultParams()
	return Config{
		Host:           "127.0.0.1",
		Port:           40000,
		Mode:           ModeAutonomous,
		Symbol:         "BTC-USDT",
		LogLevel:       "info",
		UpdateInterval: 100 * time.Millisecond,
		Book: BookConfig{
			MaxLevels:      p.MaxLevels,
			PricePrecision: p.PricePrecision,
			SizePrecision:  p.SizePrecision,
			TickSize:       p.TickSize.String(),
			SpreadMin:      p.SpreadMin,
			SpreadMax:      p.SpreadMax,
			SizeMin:        p.SizeMin,
			SizeMax:        p.SizeMax,
			SpacingAlpha:   p.SpacingAlpha,
			ResizeAlpha:    p.ResizeAlpha,
			ResizeDraws:    p.ResizeDraws,
		},
	}
}

// Default returns the configuration used when no file is given.
func Default() Config { return defaults() }

// Load reads path over the defaults, expanding ${VAR} references first.
func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks and normalizes cfg.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case ModeAutonomous, "":
		c.Mode = ModeAutonomous
	case ModeOnDemand, "on-demand", "passive":
		c.Mode = ModeOnDemand
	default:
		return fmt.Errorf(`mode must be %q or %q`, ModeAutonomous, ModeOnDemand)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if c.Mode == ModeAutonomous && c.UpdateInterval <= 0 {
		return errors.New("update_interval must be positive")
	}
	if _, err := c.BookParams(); err != nil {
		return fmt.Errorf("book: %w", err)
	}
	return nil
}

func (c Config) OnDemand() bool { return c.Mode == ModeOnDemand }

func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// BookParams converts the book section into engine parameters.
func (c Config) BookParams() (depth.Params, error) {
	tick, err := decimal.NewFromString(c.Book.TickSize)
	if err != nil {
		return depth.Params{}, fmt.Errorf("tick_size %q: %w", c.Book.TickSize, err)
	}
	p := depth.Params{
		MaxLevels:      c.Book.MaxLevels,
		PricePrecision: c.Book.PricePrecision,
		SizePrecision:  c.Book.SizePrecision,
		TickSize:       tick,
		SpreadMin:      c.Book.SpreadMin,
		SpreadMax:      c.Book.SpreadMax,
		SizeMin:        c.Book.SizeMin,
		SizeMax:        c.Book.SizeMax,
		SpacingAlpha:   c.Book.SpacingAlpha,
		ResizeAlpha:    c.Book.ResizeAlpha,
		ResizeDraws:    c.Book.ResizeDraws,
	}
	return p, p.Validate()
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "critical":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
