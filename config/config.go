package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	EnvMasterKey   = "INVEST_MASTER_KEY"
	EnvDatabaseDSN = "INVEST_DATABASE_DSN"
	EnvLogLevel    = "INVEST_LOG_LEVEL"

	DefaultFile   = "config.yaml"
	GeneratedFile = "config.gen.yaml"
)

type Config struct {
	ServerAddr         string
	TLSDomains         []string
	CertCache          string
	DatabaseDSN        string
	MasterKey          string
	MainnetURL         string
	TestnetURL         string
	ExchangeTimeout    time.Duration
	RateLimit          float64
	RateLimitBurst     int
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMultiplier    float64
	ResolverCacheTTL   time.Duration
	SyncLookback       time.Duration
	DCASweepInterval   time.Duration
	DCADefaultSlippage decimal.Decimal
	JournalDir         string
	LogLevel           string
	LogFormat          string
}

type ConfigTmp struct {
	Server   ServerTmp   `yaml:"server"`
	Database DatabaseTmp `yaml:"database"`
	Exchange ExchangeTmp `yaml:"exchange"`
	Retry    RetryTmp    `yaml:"retry"`
	Resolver ResolverTmp `yaml:"resolver"`
	Sync     SyncTmp     `yaml:"sync"`
	DCA      DCATmp      `yaml:"dca"`
	Journal  JournalTmp  `yaml:"journal"`
	Log      LogTmp      `yaml:"log"`
}

type ServerTmp struct {
	Addr       string   `yaml:"addr,omitempty"`
	TLSDomains []string `yaml:"tls_domains,omitempty"`
	CertCache  string   `yaml:"cert_cache,omitempty"`
}

type DatabaseTmp struct {
	DSN string `yaml:"dsn,omitempty"`
}

type ExchangeTmp struct {
	MainnetURL     string        `yaml:"mainnet_url,omitempty"`
	TestnetURL     string        `yaml:"testnet_url,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	RateLimit      float64       `yaml:"rate_limit,omitempty"`
	RateLimitBurst int           `yaml:"rate_limit_burst,omitempty"`
}

type RetryTmp struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	Multiplier  float64       `yaml:"multiplier,omitempty"`
}

type ResolverTmp struct {
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`
}

type SyncTmp struct {
	Lookback time.Duration `yaml:"lookback,omitempty"`
}

type DCATmp struct {
	SweepInterval      time.Duration `yaml:"sweep_interval,omitempty"`
	DefaultSlippageStr string        `yaml:"default_slippage,omitempty"`
}

type JournalTmp struct {
	Dir string `yaml:"dir,omitempty"`
}

type LogTmp struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Flags command line options.
type Flags struct {
	ConfigPath string
	Setup      bool
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("invest-simply", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive configuration wizard")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Get parses the process flags and loads the configuration.
func Get() (Config, Flags, error) {
	flags, err := ParseFlags(os.Args[1:])
	if err != nil {
		return Config{}, Flags{}, err
	}
	path := flags.ConfigPath
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	cfg, err := Load(path)
	return cfg, flags, err
}

// Load reads the yaml file at path (optional), then .env and the environment.
// Secrets are only read from the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // .env is optional

	var tmp ConfigTmp
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(f, &tmp); err != nil {
			return Config{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
		}
	}

	cfg, err := fromTmp(tmp)
	if err != nil {
		return Config{}, err
	}

	cfg.MasterKey = os.Getenv(EnvMasterKey)
	if dsn := os.Getenv(EnvDatabaseDSN); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, nil
}

func fromTmp(c ConfigTmp) (Config, error) {
	cfg := Config{
		ServerAddr:       orDefault(c.Server.Addr, ":8080"),
		TLSDomains:       c.Server.TLSDomains,
		CertCache:        orDefault(c.Server.CertCache, "cert-cache"),
		DatabaseDSN:      orDefault(c.Database.DSN, "data/invest.db"),
		MainnetURL:       c.Exchange.MainnetURL,
		TestnetURL:       c.Exchange.TestnetURL,
		ExchangeTimeout:  durationOr(c.Exchange.Timeout, 10*time.Second),
		RateLimit:        c.Exchange.RateLimit,
		RateLimitBurst:   c.Exchange.RateLimitBurst,
		RetryMaxAttempts: c.Retry.MaxAttempts,
		RetryBaseDelay:   durationOr(c.Retry.BaseDelay, 500*time.Millisecond),
		RetryMultiplier:  c.Retry.Multiplier,
		ResolverCacheTTL: durationOr(c.Resolver.CacheTTL, 30*time.Second),
		SyncLookback:     durationOr(c.Sync.Lookback, 90*24*time.Hour),
		DCASweepInterval: durationOr(c.DCA.SweepInterval, time.Minute),
		JournalDir:       orDefault(c.Journal.Dir, "./wal/gaps"),
		LogLevel:         orDefault(c.Log.Level, "info"),
		LogFormat:        orDefault(c.Log.Format, "console"),
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = 2
	}

	if c.DCA.DefaultSlippageStr == "" {
		cfg.DCADefaultSlippage = decimal.NewFromInt(1) // Default value
	} else {
		slippage, err := decimal.NewFromString(c.DCA.DefaultSlippageStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'dca.default_slippage' param in yaml config (must be a decimal), error: %w", err)
		}
		if slippage.IsNegative() || slippage.GreaterThan(decimal.NewFromInt(50)) {
			return Config{}, fmt.Errorf("incorrect 'dca.default_slippage' param in yaml config (must be between 0 and 50)")
		}
		cfg.DCADefaultSlippage = slippage
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("incorrect 'log.format' param in yaml config: %s (json or console)", cfg.LogFormat)
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
