package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the brief generation service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"` // fallback when server.jwt_secret is unset
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	AuthEnabled bool   `mapstructure:"auth_enabled"`
}

// LLMConfig contains the generative provider configuration
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai or mock
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

// ResearchConfig tunes the orchestration engine
type ResearchConfig struct {
	DefaultDepth         int           `mapstructure:"default_depth"`
	ResultsPerRound      int           `mapstructure:"results_per_round"`
	SummariesPerRound    int           `mapstructure:"summaries_per_round"`
	MaxAttempts          int           `mapstructure:"max_attempts"` // per fetch/summarize call
	RetryBackoff         time.Duration `mapstructure:"retry_backoff"`
	MaxConcurrentSummary int           `mapstructure:"max_concurrent_summaries"`
	MaxConcurrentJobs    int           `mapstructure:"max_concurrent_jobs"`
	JobTimeout           time.Duration `mapstructure:"job_timeout"`
	SearchTimeout        time.Duration `mapstructure:"search_timeout"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	LLMTimeout           time.Duration `mapstructure:"llm_timeout"`
	FetchContent         bool          `mapstructure:"fetch_content"` // enrich results with full page text
	ContextFindings      int           `mapstructure:"context_findings"`
}

// Normalize clamps engine settings into workable ranges.
func (r ResearchConfig) Normalize() ResearchConfig {
	if r.DefaultDepth <= 0 {
		r.DefaultDepth = 2
	}
	if r.ResultsPerRound <= 0 {
		r.ResultsPerRound = 5
	}
	if r.SummariesPerRound <= 0 {
		r.SummariesPerRound = 3
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.RetryBackoff <= 0 {
		r.RetryBackoff = 500 * time.Millisecond
	}
	if r.MaxConcurrentSummary <= 0 {
		r.MaxConcurrentSummary = 3
	}
	if r.MaxConcurrentJobs <= 0 {
		r.MaxConcurrentJobs = 4
	}
	if r.JobTimeout <= 0 {
		r.JobTimeout = 15 * time.Minute
	}
	if r.SearchTimeout <= 0 {
		r.SearchTimeout = 30 * time.Second
	}
	if r.FetchTimeout <= 0 {
		r.FetchTimeout = 20 * time.Second
	}
	if r.LLMTimeout <= 0 {
		r.LLMTimeout = 120 * time.Second
	}
	if r.ContextFindings <= 0 {
		r.ContextFindings = 3
	}
	return r
}

// SourcesConfig contains search and page-fetch provider settings
type SourcesConfig struct {
	Tavily      TavilyConfig      `mapstructure:"tavily"`
	Serper      SerperConfig      `mapstructure:"serper"`
	Rate        RateConfig        `mapstructure:"rate"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	FetchPolicy FetchPolicyConfig `mapstructure:"fetch_policy"`
}

// TavilyConfig contains Tavily search API settings
type TavilyConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// SerperConfig contains Serper search API settings
type SerperConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// RateConfig bounds outgoing search API calls per provider
type RateConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// FetcherConfig selects and tunes the page-content fetcher
type FetcherConfig struct {
	Type      string        `mapstructure:"type"` // http or chromedp
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

// StorageConfig contains persistence backends
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN assembles a postgres connection string from the URL or host parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// MemoryConfig controls the per-user research context store
type MemoryConfig struct {
	Backend      string        `mapstructure:"backend"` // redis or inmemory
	HistoryLimit int           `mapstructure:"history_limit"`
	TTL          time.Duration `mapstructure:"ttl"` // 0 = keep forever
}

func (m MemoryConfig) Normalize() MemoryConfig {
	if m.Backend == "" {
		m.Backend = "redis"
	}
	if m.HistoryLimit <= 0 {
		m.HistoryLimit = 10
	}
	return m
}

// TelemetryConfig contains observability settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
}

// SchedulerConfig controls the standing-topic refresh loop
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

func (s SchedulerConfig) Normalize() SchedulerConfig {
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 2 * time.Minute
	}
	return s
}

// LoadConfig reads configuration from the given file, or searches the usual
// locations when path is empty. Environment variables prefixed with BRIEFGEN
// override file values (e.g. BRIEFGEN_LLM_API_KEY).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("server.auth_enabled", false)
	viper.SetDefault("llm.provider", "mock")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("research.default_depth", 2)
	viper.SetDefault("research.results_per_round", 5)
	viper.SetDefault("research.summaries_per_round", 3)
	viper.SetDefault("research.max_attempts", 3)
	viper.SetDefault("research.retry_backoff", "500ms")
	viper.SetDefault("research.max_concurrent_jobs", 4)
	viper.SetDefault("sources.rate.per_second", 2)
	viper.SetDefault("sources.rate.burst", 4)
	viper.SetDefault("sources.fetcher.type", "http")
	viper.SetDefault("memory.backend", "redis")
	viper.SetDefault("memory.history_limit", 10)
	viper.SetDefault("scheduler.interval", "1h")
	viper.SetDefault("scheduler.lock_ttl", "2m")

	if path == "" {
		viper.AddConfigPath("./config") // path to look for the config file in
		viper.AddConfigPath(".")        // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("BRIEFGEN")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (BRIEFGEN_*)

	err := viper.ReadInConfig() // find and read the config file
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Research = config.Research.Normalize()
	config.Memory = config.Memory.Normalize()
	config.Scheduler = config.Scheduler.Normalize()
	if err := config.Sources.FetchPolicy.Validate(); err != nil {
		panic(err)
	}
	config.Sources.FetchPolicy = config.Sources.FetchPolicy.Normalize()
	if config.Memory.Backend == "redis" {
		if err := config.Storage.Redis.Validate(); err != nil {
			panic(err)
		}
	}

	return &config
}
