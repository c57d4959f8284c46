package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	defaultConfigDir  = "configs"
)

const (
	DriverKraken = "kraken"
	DriverPaper  = "paper"

	PriceSourceREST = "rest"
	PriceSourceWS   = "ws"

	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Args приходят из cmd: режим запуска и флаги командной строки.
type Args struct {
	ConfigFile  string
	Flags       *pflag.FlagSet
	ForceDryRun bool
	WebEnabled  bool
	SkipDotEnv  bool
}

// Config ...
type Config struct {
	Pair       string `mapstructure:"pair" yaml:"pair"`
	BaseAsset  string `mapstructure:"base_asset" yaml:"base_asset"`
	QuoteAsset string `mapstructure:"quote_asset" yaml:"quote_asset"`
	Timezone   string `mapstructure:"timezone" yaml:"timezone"`

	Strategy struct {
		DropPct     float64 `mapstructure:"drop_pct" yaml:"drop_pct"`         // 0.05 => 5% от baseline
		RisePct     float64 `mapstructure:"rise_pct" yaml:"rise_pct"`         // 0.05 => 5% от входа
		MinTrade    float64 `mapstructure:"min_trade" yaml:"min_trade"`       // в валюте котировки
		MaxPosition float64 `mapstructure:"max_position" yaml:"max_position"` // в валюте котировки
	} `mapstructure:"strategy" yaml:"strategy"`

	Trading struct {
		Enabled          bool `mapstructure:"enabled" yaml:"enabled"`
		LoopSleepSeconds int  `mapstructure:"loop_sleep_seconds" yaml:"loop_sleep_seconds"`
	} `mapstructure:"trading" yaml:"trading"`

	Paths struct {
		StateFile string `mapstructure:"state_file" yaml:"state_file"`
		TradesCSV string `mapstructure:"trades_csv" yaml:"trades_csv"`
	} `mapstructure:"paths" yaml:"paths"`

	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		ToFile bool   `mapstructure:"to_file" yaml:"to_file"`
		File   string `mapstructure:"file" yaml:"file"`
	} `mapstructure:"log" yaml:"log"`

	Exchange struct {
		Driver       string        `mapstructure:"driver" yaml:"driver"`
		APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
		APISecret    string        `mapstructure:"api_secret" yaml:"api_secret"`
		BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
		WSURL        string        `mapstructure:"ws_url" yaml:"ws_url"`
		WSSymbol     string        `mapstructure:"ws_symbol" yaml:"ws_symbol"`
		PriceSource  string        `mapstructure:"price_source" yaml:"price_source"`
		WSStaleAfter time.Duration `mapstructure:"ws_stale_after" yaml:"ws_stale_after"`
		Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	} `mapstructure:"exchange" yaml:"exchange"`

	Paper struct {
		QuoteBalance float64 `mapstructure:"quote_balance" yaml:"quote_balance"`
		BaseBalance  float64 `mapstructure:"base_balance" yaml:"base_balance"`
	} `mapstructure:"paper" yaml:"paper"`

	Store struct {
		Backend string `mapstructure:"backend" yaml:"backend"`
	} `mapstructure:"store" yaml:"store"`

	DB string `mapstructure:"db_dsn" yaml:"db_dsn"`

	Redis struct {
		Addr     string `mapstructure:"addr" yaml:"addr"`
		Password string `mapstructure:"password" yaml:"password"`
		DB       int    `mapstructure:"db" yaml:"db"`
	} `mapstructure:"redis" yaml:"redis"`

	S3 struct {
		Bucket    string `mapstructure:"bucket" yaml:"bucket"`
		Region    string `mapstructure:"region" yaml:"region"`
		Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
		AccessKey string `mapstructure:"access_key" yaml:"access_key"`
		SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
		Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	} `mapstructure:"s3" yaml:"s3"`

	Telegram struct {
		Token  string `mapstructure:"token" yaml:"token"`
		ChatID int64  `mapstructure:"chat_id" yaml:"chat_id"`
	} `mapstructure:"telegram" yaml:"telegram"`

	Tracing struct {
		Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
		Host       string  `mapstructure:"host" yaml:"host"`
		Port       int     `mapstructure:"port" yaml:"port"`
		SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	} `mapstructure:"tracing" yaml:"tracing"`

	Service struct {
		Web  bool   `mapstructure:"web" yaml:"web"`
		Host string `mapstructure:"host" yaml:"host"`
		Port int    `mapstructure:"port" yaml:"port"`
	} `mapstructure:"service" yaml:"service"`

	Status struct {
		PublishInterval time.Duration `mapstructure:"publish_interval" yaml:"publish_interval"`
	} `mapstructure:"status" yaml:"status"`
}

// envBindings — ключ viper -> имя переменной окружения.
var envBindings = map[string]string{
	"pair":                       "PAIR",
	"base_asset":                 "BASE_ASSET",
	"quote_asset":                "QUOTE_ASSET",
	"timezone":                   "TIMEZONE",
	"strategy.drop_pct":          "PRICE_DROP_THRESHOLD",
	"strategy.rise_pct":          "PRICE_RISE_THRESHOLD",
	"strategy.min_trade":         "MIN_TRADE_AMOUNT",
	"strategy.max_position":      "MAX_POSITION_SIZE",
	"trading.enabled":            "TRADING_ENABLED",
	"trading.loop_sleep_seconds": "LOOP_SLEEP_SECONDS",
	"paths.state_file":           "BOT_STATE_FILE",
	"paths.trades_csv":           "TRADES_CSV",
	"log.level":                  "LOG_LEVEL",
	"log.to_file":                "LOG_TO_FILE",
	"log.file":                   "LOG_FILE",
	"exchange.driver":            "EXCHANGE_DRIVER",
	"exchange.api_key":           "KRAKEN_API_KEY",
	"exchange.api_secret":        "KRAKEN_API_SECRET",
	"exchange.base_url":          "KRAKEN_BASE_URL",
	"exchange.ws_url":            "KRAKEN_WS_URL",
	"exchange.ws_symbol":         "KRAKEN_WS_SYMBOL",
	"exchange.price_source":      "PRICE_SOURCE",
	"exchange.ws_stale_after":    "WS_STALE_AFTER",
	"exchange.timeout":           "EXCHANGE_TIMEOUT",
	"paper.quote_balance":        "PAPER_QUOTE_BALANCE",
	"paper.base_balance":         "PAPER_BASE_BALANCE",
	"store.backend":              "STATE_BACKEND",
	"db_dsn":                     "DATABASE_DSN",
	"redis.addr":                 "REDIS_ADDR",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"s3.bucket":                  "S3_BUCKET",
	"s3.region":                  "S3_REGION",
	"s3.endpoint":                "S3_ENDPOINT",
	"s3.access_key":              "S3_ACCESS_KEY",
	"s3.secret_key":              "S3_SECRET_KEY",
	"s3.prefix":                  "S3_PREFIX",
	"telegram.token":             "TELEGRAM_TOKEN",
	"telegram.chat_id":           "TELEGRAM_CHAT_ID",
	"tracing.enabled":            "TRACING_ENABLED",
	"tracing.host":               "JAEGER_HOST",
	"tracing.port":               "JAEGER_PORT",
	"tracing.sample_rate":        "TRACING_SAMPLE_RATE",
	"service.host":               "HOST",
	"service.port":               "PORT",
	"status.publish_interval":    "STATUS_PUBLISH_INTERVAL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pair", "XMRUSD")
	v.SetDefault("base_asset", "")
	v.SetDefault("quote_asset", "")
	v.SetDefault("timezone", "PDT")

	v.SetDefault("strategy.drop_pct", 0.05)
	v.SetDefault("strategy.rise_pct", 0.05)
	v.SetDefault("strategy.min_trade", 10.0)
	v.SetDefault("strategy.max_position", 100.0)

	v.SetDefault("trading.enabled", true)
	v.SetDefault("trading.loop_sleep_seconds", 30)

	v.SetDefault("paths.state_file", ".bot_state.json")
	v.SetDefault("paths.trades_csv", "trades.csv")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.to_file", false)
	v.SetDefault("log.file", "trading_bot.log")

	v.SetDefault("exchange.driver", DriverKraken)
	v.SetDefault("exchange.base_url", "https://api.kraken.com")
	v.SetDefault("exchange.ws_url", "wss://ws.kraken.com/v2")
	v.SetDefault("exchange.ws_symbol", "")
	v.SetDefault("exchange.price_source", PriceSourceREST)
	v.SetDefault("exchange.ws_stale_after", "90s")
	v.SetDefault("exchange.timeout", "10s")

	v.SetDefault("paper.quote_balance", 100.0)
	v.SetDefault("paper.base_balance", 0.0)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("db_dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "ledger")

	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("service.web", false)
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.port", 8000)

	v.SetDefault("status.publish_interval", "15s")
}

// NewConfig: defaults < yaml-файл < env (.env подхватывается godotenv) < флаги.
func NewConfig(args Args) (*Config, error) {
	if !args.SkipDotEnv {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", env)
		}
	}

	configFile := args.ConfigFile
	if configFile == "" {
		if name := os.Getenv(configFilePathENV); name != "" {
			configFile = defaultConfigDir + "/" + name
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configFile)
		}
	}

	if args.Flags != nil {
		if err := v.BindPFlags(args.Flags); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if args.ForceDryRun {
		cfg.Trading.Enabled = false
	}
	if args.WebEnabled {
		cfg.Service.Web = true
	}
	cfg.fillAssets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillAssets() {
	base, quote := splitPair(c.Pair)
	if c.BaseAsset == "" {
		c.BaseAsset = base
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = quote
	}
	if c.Exchange.WSSymbol == "" {
		c.Exchange.WSSymbol = c.BaseAsset + "/" + c.QuoteAsset
	}
}

// splitPair: "XMR/USD", "XMR-USD", "XMRUSD" -> ("XMR", "USD").
func splitPair(pair string) (string, string) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(p, sep, 2); len(parts) == 2 {
			return parts[0], parts[1]
		}
	}
	for _, q := range []string{"USDT", "USDC", "USD", "EUR", "GBP", "BTC"} {
		if strings.HasSuffix(p, q) && len(p) > len(q) {
			return strings.TrimSuffix(p, q), q
		}
	}
	if len(p) == 6 {
		return p[:3], p[3:]
	}
	return p, "USD"
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pair) == "" {
		return errors.New("pair is required")
	}
	if c.Strategy.DropPct <= 0 || c.Strategy.DropPct >= 1 {
		return errors.Errorf("strategy.drop_pct must be in (0, 1), got %v", c.Strategy.DropPct)
	}
	if c.Strategy.RisePct <= 0 {
		return errors.Errorf("strategy.rise_pct must be > 0, got %v", c.Strategy.RisePct)
	}
	if c.Strategy.MinTrade < 0 {
		return errors.Errorf("strategy.min_trade must be >= 0, got %v", c.Strategy.MinTrade)
	}
	if c.Strategy.MaxPosition < c.Strategy.MinTrade {
		return errors.Errorf("strategy.max_position (%v) must be >= min_trade (%v)", c.Strategy.MaxPosition, c.Strategy.MinTrade)
	}
	if c.Trading.LoopSleepSeconds <= 0 {
		return errors.Errorf("trading.loop_sleep_seconds must be > 0, got %d", c.Trading.LoopSleepSeconds)
	}
	switch c.Exchange.Driver {
	case DriverKraken, DriverPaper:
	default:
		return errors.Errorf("unknown exchange.driver %q", c.Exchange.Driver)
	}
	switch c.Exchange.PriceSource {
	case PriceSourceREST, PriceSourceWS:
	default:
		return errors.Errorf("unknown exchange.price_source %q", c.Exchange.PriceSource)
	}
	switch c.Store.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.DB == "" {
			return errors.New("store.backend=postgres requires db_dsn")
		}
	default:
		return errors.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) LoopSleep() time.Duration {
	return time.Duration(c.Trading.LoopSleepSeconds) * time.Second
}

// Location — часовой пояс для меток времени и часового статуса.
// "PDT" (по умолчанию) — фиксированный UTC-7.
func (c *Config) Location() *time.Location {
	switch strings.ToUpper(strings.TrimSpace(c.Timezone)) {
	case "", "PDT":
		return time.FixedZone("PDT", -7*60*60)
	case "UTC":
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("PDT", -7*60*60)
	}
	return loc
}

// Dump — эффективный конфиг в yaml без секретов (для стартового лога).
func (c *Config) Dump() string {
	cp := *c
	cp.Exchange.APIKey = mask(cp.Exchange.APIKey)
	cp.Exchange.APISecret = mask(cp.Exchange.APISecret)
	cp.Redis.Password = mask(cp.Redis.Password)
	cp.S3.AccessKey = mask(cp.S3.AccessKey)
	cp.S3.SecretKey = mask(cp.S3.SecretKey)
	cp.Telegram.Token = mask(cp.Telegram.Token)
	cp.DB = mask(cp.DB)

	bs, err := yaml.Marshal(&cp)
	if err != nil {
		return fmt.Sprintf("<config dump failed: %v>", err)
	}
	return string(bs)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
