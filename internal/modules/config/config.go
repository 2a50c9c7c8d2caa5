package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"auto_ig/internal/orchestrator"
	"auto_ig/internal/series"
	"auto_ig/internal/strategy"
	"auto_ig/internal/trades"
	broker "auto_ig/internal/modules/broker/service"
	feed "auto_ig/internal/modules/feed/service"
	"auto_ig/pkg/logger"
	"auto_ig/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

type Service struct {
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	PublicPort int    `yaml:"public_port"`
	AdminPort  int    `yaml:"admin_port"`
}

func (s Service) AdminAddr() string  { return fmt.Sprintf("%s:%d", s.Host, s.AdminPort) }
func (s Service) PublicAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.PublicPort) }

// Config ...
type Config struct {
	Service Service        `yaml:"service"`
	Log     logger.Config  `yaml:"log"`
	Tracing tracing.Config `yaml:"tracing"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB string `yaml:"db_dsn"`

	// Live switches the broker from the demo to the live gateway.
	Live bool          `yaml:"live"`
	IG   broker.Config `yaml:"ig"`
	Feed feed.Config   `yaml:"feed"`

	Series       series.Config       `yaml:"series"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Strategy     strategy.Config     `yaml:"strategy"`
	Trades       trades.Config       `yaml:"trades"`

	// SizeFromBalance derives the stake from the account balance at startup.
	SizeFromBalance bool `yaml:"size_from_balance"`
}

// NewConfig loads .env, then configs/<CONFIG_FILE or values_local.yaml>.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	return Load("configs/" + configFileName)
}

// Load reads a YAML file over the defaults and applies the environment on top.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	config := defaults()
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "decode config file %s", path)
	}
	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func defaults() Config {
	var c Config
	c.Service = Service{Name: "auto_ig", PublicPort: 8081, AdminPort: 8080}
	c.Log = logger.Config{Level: "info"}
	c.Tracing = tracing.Config{Host: "localhost", Port: 6831}
	c.Feed.Enabled = true
	c.SizeFromBalance = true
	return c
}

func (c *Config) applyEnv() {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		c.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		c.DB = dsn
	}
	c.Telegram.ChatID = int64(intFromEnv("TELEGRAM_CHAT_ID", int(c.Telegram.ChatID)))

	c.IG.APIKey = getenvDefault("IG_API_KEY", c.IG.APIKey)
	c.IG.Username = getenvDefault("IG_USERNAME", c.IG.Username)
	c.IG.Password = getenvDefault("IG_PASSWORD", c.IG.Password)
	c.Live = boolFromEnv("IG_LIVE", c.Live)
	if c.IG.BaseURL == "" {
		c.IG.BaseURL = broker.DemoURL
		if c.Live {
			c.IG.BaseURL = broker.LiveURL
		}
	}
	c.Feed.URL = getenvDefault("FEED_URL", c.Feed.URL)
	c.Feed.Enabled = boolFromEnv("FEED_ENABLED", c.Feed.Enabled)

	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Development = boolFromEnv("LOG_DEVELOPMENT", c.Log.Development)
	c.Tracing.Enabled = boolFromEnv("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Host = getenvDefault("JAEGER_HOST", c.Tracing.Host)
	c.Tracing.Port = intFromEnv("JAEGER_PORT", c.Tracing.Port)

	if v := os.Getenv("EPICS"); v != "" {
		c.Orchestrator.Epics = splitList(v)
	}
	c.Orchestrator.PollInterval = durationFromEnv("POLL_INTERVAL", c.Orchestrator.PollInterval.String())
	c.Orchestrator.DataDir = getenvDefault("DATA_DIR", c.Orchestrator.DataDir)
	c.Trades.MaxConcurrent = intFromEnv("MAX_CONCURRENT_TRADES", c.Trades.MaxConcurrent)
	c.Trades.MaxSpread = floatFromEnv("MAX_SPREAD", c.Trades.MaxSpread)
	c.Trades.Size = floatFromEnv("TRADE_SIZE", c.Trades.Size)
	c.SizeFromBalance = boolFromEnv("SIZE_FROM_BALANCE", c.SizeFromBalance)
	if v := os.Getenv("STRATEGIES"); v != "" {
		c.Strategy.Enabled = splitList(v)
	}
}

func (c *Config) validate() error {
	if len(c.Orchestrator.Epics) == 0 {
		return errors.New("config: orchestrator.epics is empty")
	}
	for _, f := range c.Orchestrator.Fetch {
		if !f.Timeframe.Valid() {
			return errors.Errorf("config: unknown timeframe %q in orchestrator.fetch", f.Timeframe)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
