package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/spirits-cli/internal/budget"
	"github.com/sells-group/spirits-cli/internal/domains"
	"github.com/sells-group/spirits-cli/internal/gate"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Redis       RedisConfig       `yaml:"redis" mapstructure:"redis"`
	SerpAPI     SerpAPIConfig     `yaml:"serpapi" mapstructure:"serpapi"`
	ScrapingBee ScrapingBeeConfig `yaml:"scrapingbee" mapstructure:"scrapingbee"`
	Extractor   ExtractorConfig   `yaml:"extractor" mapstructure:"extractor"`
	Crawler     CrawlerConfig     `yaml:"crawler" mapstructure:"crawler"`
	Budget      budget.Limits     `yaml:"budget" mapstructure:"budget"`
	Domains     domains.Config    `yaml:"domains" mapstructure:"domains"`
	Gate        GateConfig        `yaml:"gate" mapstructure:"gate"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" mapstructure:"scheduler"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// RedisConfig configures the task queue broker.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// SerpAPIConfig holds search API settings.
type SerpAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ScrapingBeeConfig holds the paid fetcher settings.
type ScrapingBeeConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ExtractorConfig holds the AI extraction service settings.
type ExtractorConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CrawlerConfig tunes the SmartCrawler.
type CrawlerConfig struct {
	MatchThreshold float64       `yaml:"match_threshold" mapstructure:"match_threshold"`
	MaxSources     int           `yaml:"max_sources" mapstructure:"max_sources"`
	CacheTTL       time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// GateConfig points at an optional quality-gate override file.
type GateConfig struct {
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// SchedulerConfig bounds the periodic sweeps.
type SchedulerConfig struct {
	EnrichLimit int `yaml:"enrich_limit" mapstructure:"enrich_limit"`
	QueueLimit  int `yaml:"queue_limit" mapstructure:"queue_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPIRITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets get empty defaults so AutomaticEnv sees the
	// keys when no config file mentions them.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "spirits.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("serpapi.key", "")
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("scrapingbee.key", "")
	v.SetDefault("scrapingbee.base_url", "https://app.scrapingbee.com/api/v1")
	v.SetDefault("extractor.token", "")
	v.SetDefault("extractor.base_url", "http://localhost:8000")
	v.SetDefault("crawler.match_threshold", 0.6)
	v.SetDefault("crawler.max_sources", 3)
	v.SetDefault("crawler.cache_ttl", "168h")
	v.SetDefault("budget.max_urls_per_product", 5)
	v.SetDefault("budget.max_searches_per_product", 3)
	v.SetDefault("budget.max_enrichment_time", "120s")
	v.SetDefault("budget.max_session_searches", 6)
	v.SetDefault("budget.max_session_sources", 8)
	v.SetDefault("budget.max_session_time", "180s")
	v.SetDefault("scheduler.enrich_limit", 50)
	v.SetDefault("scheduler.queue_limit", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Gate.ConfigPath != "" {
		if err := gate.LoadConfigFile(cfg.Gate.ConfigPath); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Validate checks the configuration for a run mode: "run" (one-shot
// discovery), "schedule" (beat and workers), or "serve" (HTTP API).
// All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	if c.Crawler.MatchThreshold < 0 || c.Crawler.MatchThreshold > 1 {
		problems = append(problems, "crawler.match_threshold must be between 0 and 1")
	}
	if c.Crawler.MaxSources < 1 || c.Crawler.MaxSources > 10 {
		problems = append(problems, "crawler.max_sources must be between 1 and 10")
	}

	switch mode {
	case "run":
		if c.SerpAPI.Key == "" {
			problems = append(problems, "serpapi.key is required")
		}
	case "schedule":
		if c.SerpAPI.Key == "" {
			problems = append(problems, "serpapi.key is required")
		}
		if c.Redis.Addr == "" {
			problems = append(problems, "redis.addr is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
