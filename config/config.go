package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Price providers understood by pkg/dataflows.
const (
	ProviderYahoo    = "yahoo"
	ProviderFMP      = "fmp"
	ProviderLongport = "longport"
	ProviderCSV      = "csv"
)

type Config struct {
	ProjectDir   string `json:"project_dir" yaml:"project_dir"`
	ResultsDir   string `json:"results_dir" yaml:"results_dir"`
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	DataCacheDir string `json:"data_cache_dir" yaml:"data_cache_dir"`
	DBPath       string `json:"db_path" yaml:"db_path"`

	ServerAddr string `json:"server_addr" yaml:"server_addr"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogFile    string `json:"log_file" yaml:"log_file"`
	Debug      bool   `json:"debug" yaml:"debug"`

	// Market data
	PriceProvider      string  `json:"price_provider" yaml:"price_provider"`
	BenchmarkSymbol    string  `json:"benchmark_symbol" yaml:"benchmark_symbol"`
	OnlineTools        bool    `json:"online_tools" yaml:"online_tools"`
	CacheEnabled       bool    `json:"cache_enabled" yaml:"cache_enabled"`
	CacheTTLSeconds    int     `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	APITimeoutSeconds  int     `json:"api_timeout_seconds" yaml:"api_timeout_seconds"`
	RateLimitPerSecond float64 `json:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	MaxRetries         int     `json:"max_retries" yaml:"max_retries"`
	MaxConcurrency     int     `json:"max_concurrency" yaml:"max_concurrency"`

	// Forecasting
	ForecastMinSamples   int  `json:"forecast_min_samples" yaml:"forecast_min_samples"`
	DefaultForecastDays  int  `json:"default_forecast_days" yaml:"default_forecast_days"`
	ForecastKeepCrossing bool `json:"forecast_keep_crossing" yaml:"forecast_keep_crossing"`

	// Backtesting
	SizingMode     string  `json:"sizing_mode" yaml:"sizing_mode"`
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	PositionSize   float64 `json:"position_size" yaml:"position_size"`
	Allocation     float64 `json:"allocation" yaml:"allocation"`
	RiskFreeRate   float64 `json:"risk_free_rate" yaml:"risk_free_rate"`

	// Financial Modeling Prep
	FMPAPIKey  string `json:"fmp_api_key" yaml:"fmp_api_key"`
	FMPBaseURL string `json:"fmp_base_url" yaml:"fmp_base_url"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key" yaml:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret" yaml:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token" yaml:"longport_access_token"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	return DefaultConfigWithRoot(currentDir)
}

// DefaultConfigWithRoot places every working directory under root, then
// applies .env and environment overrides.
func DefaultConfigWithRoot(root string) *Config {
	cfg := &Config{
		ProjectDir:   root,
		ResultsDir:   filepath.Join(root, "results"),
		DataDir:      filepath.Join(root, "data"),
		DataCacheDir: filepath.Join(root, "data", "cache"),
		DBPath:       filepath.Join(root, "data", "cortexquant.db"),

		ServerAddr: ":8000",
		LogLevel:   "info",

		PriceProvider:      ProviderYahoo,
		BenchmarkSymbol:    "^GSPC",
		OnlineTools:        true,
		CacheEnabled:       true,
		CacheTTLSeconds:    1800,
		APITimeoutSeconds:  30,
		RateLimitPerSecond: 2,
		MaxRetries:         3,
		MaxConcurrency:     4,

		ForecastMinSamples:  10,
		DefaultForecastDays: 30,

		SizingMode:     "fixed",
		InitialCapital: 100000,
		PositionSize:   10000,
		Allocation:     0.10,

		FMPBaseURL: "https://financialmodelingprep.com/api/v3",
	}

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()
	return cfg
}

func (c *Config) loadFromEnv() {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = v
			}
		}
	}

	setString("PROJECT_DIR", &c.ProjectDir)
	setString("RESULTS_DIR", &c.ResultsDir)
	setString("DATA_DIR", &c.DataDir)
	setString("DATA_CACHE_DIR", &c.DataCacheDir)
	setString("CORTEXQUANT_DB_PATH", &c.DBPath)

	setString("CORTEXQUANT_ADDR", &c.ServerAddr)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("LOG_FILE", &c.LogFile)
	setBool("CORTEXQUANT_DEBUG", &c.Debug)

	setString("PRICE_PROVIDER", &c.PriceProvider)
	setString("BENCHMARK_SYMBOL", &c.BenchmarkSymbol)
	setBool("ONLINE_TOOLS", &c.OnlineTools)
	setBool("CACHE_ENABLED", &c.CacheEnabled)
	setInt("CACHE_TTL", &c.CacheTTLSeconds)
	setInt("API_TIMEOUT", &c.APITimeoutSeconds)
	setFloat("RATE_LIMIT_PER_SECOND", &c.RateLimitPerSecond)
	setInt("MAX_RETRIES", &c.MaxRetries)
	setInt("MAX_CONCURRENCY", &c.MaxConcurrency)

	setInt("FORECAST_MIN_SAMPLES", &c.ForecastMinSamples)
	setInt("FORECAST_DAYS", &c.DefaultForecastDays)
	setBool("FORECAST_KEEP_CROSSING", &c.ForecastKeepCrossing)

	setString("SIZING_MODE", &c.SizingMode)
	setFloat("INITIAL_CAPITAL", &c.InitialCapital)
	setFloat("POSITION_SIZE", &c.PositionSize)
	setFloat("ALLOCATION", &c.Allocation)
	setFloat("RISK_FREE_RATE", &c.RiskFreeRate)

	setString("FMP_API_KEY", &c.FMPAPIKey)
	setString("FMP_BASE_URL", &c.FMPBaseURL)

	setString("LONGPORT_APP_KEY", &c.LongportAppKey)
	setString("LONGPORT_APP_SECRET", &c.LongportAppSecret)
	setString("LONGPORT_ACCESS_TOKEN", &c.LongportAccessToken)
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch c.PriceProvider {
	case ProviderYahoo, ProviderFMP, ProviderLongport, ProviderCSV:
	default:
		return fmt.Errorf("unknown price provider %q", c.PriceProvider)
	}
	switch c.SizingMode {
	case "fixed", "unlimited", "percent":
	default:
		return fmt.Errorf("unknown sizing mode %q", c.SizingMode)
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.PositionSize <= 0 {
		return fmt.Errorf("position_size must be positive, got %v", c.PositionSize)
	}
	if c.Allocation <= 0 || c.Allocation > 1 {
		return fmt.Errorf("allocation must be in (0, 1], got %v", c.Allocation)
	}
	if c.ForecastMinSamples < 2 {
		return fmt.Errorf("forecast_min_samples must be at least 2, got %d", c.ForecastMinSamples)
	}
	if c.DefaultForecastDays <= 0 {
		return fmt.Errorf("default_forecast_days must be positive, got %d", c.DefaultForecastDays)
	}
	if c.RateLimitPerSecond < 0 || c.MaxRetries < 0 || c.CacheTTLSeconds < 0 {
		return fmt.Errorf("rate limit, retries and cache ttl must not be negative")
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir}
	if c.DBPath != "" {
		dirs = append(dirs, filepath.Dir(c.DBPath))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
