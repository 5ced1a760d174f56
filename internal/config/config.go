// Package config defines the top-level configuration for the weather bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WEATHERBOT_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Entry      EntryConfig      `toml:"entry"`
	Sizing     SizingConfig     `toml:"sizing"`
	Portfolio  PortfolioConfig  `toml:"portfolio"`
	Runner     RunnerConfig     `toml:"runner"`
	Cities     CitiesConfig     `toml:"cities"`
	Storage    StorageConfig    `toml:"storage"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and client limits.
type PolymarketConfig struct {
	ClobHost          string   `toml:"clob_host"`
	GammaHost         string   `toml:"gamma_host"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	HTTPTimeout       duration `toml:"http_timeout"`
}

// DiscoveryConfig controls which weather markets the Gamma scan surfaces.
type DiscoveryConfig struct {
	TagSlug      string   `toml:"tag_slug"`
	EventLimit   int      `toml:"event_limit"`
	MinYesPrice  float64  `toml:"min_yes_price"`
	MaxYesPrice  float64  `toml:"max_yes_price"`
	MinVolume    float64  `toml:"min_volume"`
	DaysAhead    int      `toml:"days_ahead"`
	MinLocalHour int      `toml:"min_local_hour"`
	Cities       []string `toml:"cities"`
}

// ScoringConfig holds the scorer's volume breakpoints and history limits.
type ScoringConfig struct {
	VolumeHigh float64  `toml:"volume_high"`
	VolumeMid  float64  `toml:"volume_mid"`
	VolumeLow  float64  `toml:"volume_low"`
	HistoryTTL duration `toml:"history_ttl"`
	MaxHistory int      `toml:"max_history"`
}

// BandConfig is an entry price band with its minimum score.
type BandConfig struct {
	MinYesPrice float64 `toml:"min_yes_price"`
	MaxYesPrice float64 `toml:"max_yes_price"`
	MinScore    int     `toml:"min_score"`
}

// EntryConfig holds the entry gate for each day-of-week regime.
type EntryConfig struct {
	Weekday        BandConfig `toml:"weekday"`
	Weekend        BandConfig `toml:"weekend"`
	WeekendEnabled bool       `toml:"weekend_enabled"`
	TakeProfit     float64    `toml:"take_profit"`
}

// SizingConfig bounds the fraction of available capital put into one position.
type SizingConfig struct {
	MinFraction float64 `toml:"min_fraction"`
	MaxFraction float64 `toml:"max_fraction"`
}

// PortfolioConfig holds capital and exposure limits.
type PortfolioConfig struct {
	InitialCapital    float64 `toml:"initial_capital"`
	MaxPositions      int     `toml:"max_positions"`
	MaxRegionExposure float64 `toml:"max_region_exposure"`
	HistoryCap        int     `toml:"history_cap"`
	CheckpointEvery   int     `toml:"checkpoint_every"`
}

// RunnerConfig holds loop timing and breaker policy.
type RunnerConfig struct {
	AutoStart          bool     `toml:"auto_start"`
	CycleInterval      duration `toml:"cycle_interval"`
	RefreshInterval    duration `toml:"refresh_interval"`
	VerifyFloor        int      `toml:"verify_floor"`
	DiscoveryBreaker   int      `toml:"discovery_breaker"`
	RepriceBreaker     int      `toml:"reprice_breaker"`
	InvertedPriceAbove float64  `toml:"inverted_price_above"`
	DisplayLimit       int      `toml:"display_limit"`
	HighScore          int      `toml:"high_score"`
}

// CitiesConfig maps city slugs to exposure regions and fixed UTC offsets.
type CitiesConfig struct {
	Regions    map[string]string `toml:"regions"`
	UTCOffsets map[string]int    `toml:"utc_offsets"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
	LockKey    string   `toml:"lock_key"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds archive scheduling parameters.
type PipelineConfig struct {
	ArchiveCron string `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	StatusPushInterval duration `toml:"status_push_interval"`

	// APIKey guards the bot control endpoints; empty disables auth.
	APIKey         string  `toml:"api_key"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values the bot was tuned with.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:          "https://clob.polymarket.com",
			GammaHost:         "https://gamma-api.polymarket.com",
			RequestsPerSecond: 8,
			Burst:             4,
			HTTPTimeout:       duration{10 * time.Second},
		},
		Discovery: DiscoveryConfig{
			TagSlug:      "weather",
			EventLimit:   200,
			MinYesPrice:  0.03,
			MaxYesPrice:  0.12,
			MinVolume:    200,
			DaysAhead:    1,
			MinLocalHour: 11,
			Cities: []string{
				"chicago", "dallas", "atlanta", "miami", "nyc",
				"seattle", "london", "wellington", "toronto", "seoul",
				"ankara", "paris", "sao-paulo", "buenos-aires",
				"los-angeles", "houston", "phoenix", "denver", "boston",
			},
		},
		Scoring: ScoringConfig{
			VolumeHigh: 500,
			VolumeMid:  300,
			VolumeLow:  200,
			HistoryTTL: duration{time.Hour},
			MaxHistory: 50,
		},
		Entry: EntryConfig{
			Weekday:        BandConfig{MinYesPrice: 0.06, MaxYesPrice: 0.12, MinScore: 60},
			Weekend:        BandConfig{MinYesPrice: 0.06, MaxYesPrice: 0.10, MinScore: 75},
			WeekendEnabled: false,
			TakeProfit:     0.15,
		},
		Sizing: SizingConfig{
			MinFraction: 0.010,
			MaxFraction: 0.020,
		},
		Portfolio: PortfolioConfig{
			InitialCapital:    100,
			MaxPositions:      20,
			MaxRegionExposure: 0.25,
			HistoryCap:        500,
			CheckpointEvery:   120,
		},
		Runner: RunnerConfig{
			AutoStart:          true,
			CycleInterval:      duration{30 * time.Second},
			RefreshInterval:    duration{10 * time.Second},
			VerifyFloor:        15,
			DiscoveryBreaker:   5,
			RepriceBreaker:     2,
			InvertedPriceAbove: 0.50,
			DisplayLimit:       20,
			HighScore:          60,
		},
		Cities: CitiesConfig{
			Regions: map[string]string{
				"chicago": "midwest", "denver": "midwest",
				"dallas": "south", "houston": "south", "atlanta": "south",
				"miami": "south", "phoenix": "south",
				"boston": "northeast", "nyc": "northeast",
				"seattle": "pacific", "los-angeles": "pacific",
				"london": "europe", "paris": "europe", "ankara": "europe",
				"wellington": "southern", "buenos-aires": "southern", "sao-paulo": "southern",
				"seoul":   "asia",
				"toronto": "north_america",
			},
			UTCOffsets: map[string]int{
				"chicago": -6, "dallas": -6, "atlanta": -5, "miami": -5,
				"nyc": -5, "boston": -5, "toronto": -5,
				"seattle": -8, "los-angeles": -8,
				"houston": -6, "phoenix": -7, "denver": -7,
				"london": 0, "paris": 1, "ankara": 3, "seoul": 9,
				"wellington": 13, "sao-paulo": -3, "buenos-aires": -3,
			},
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "data/weatherbot.db",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			QuoteTTL:   duration{time.Hour},
			LockKey:    "weatherbot:runner",
			LockTTL:    duration{time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "weatherbot-data",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			ArchiveCron: "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			StatusPushInterval: duration{5 * time.Second},
			RateLimitRPS:       10,
			RateLimitBurst:     20,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "position_liquidated", "breaker_open", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":     true,
	"headless": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validDrivers enumerates the accepted values for Storage.Driver.
var validDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"none":     true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, headless)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}
	if c.Polymarket.Burst < 1 {
		errs = append(errs, "polymarket: burst must be >= 1")
	}

	// Discovery
	if c.Discovery.MinYesPrice < 0 || c.Discovery.MaxYesPrice > 1 || c.Discovery.MinYesPrice > c.Discovery.MaxYesPrice {
		errs = append(errs, fmt.Sprintf("discovery: yes band [%g, %g] is invalid", c.Discovery.MinYesPrice, c.Discovery.MaxYesPrice))
	}
	if c.Discovery.DaysAhead < 0 {
		errs = append(errs, "discovery: days_ahead must be >= 0")
	}
	if c.Discovery.MinLocalHour < 0 || c.Discovery.MinLocalHour > 23 {
		errs = append(errs, "discovery: min_local_hour must be 0-23")
	}
	if len(c.Discovery.Cities) == 0 {
		errs = append(errs, "discovery: cities must not be empty")
	}

	// Scoring
	if !(c.Scoring.VolumeHigh >= c.Scoring.VolumeMid && c.Scoring.VolumeMid >= c.Scoring.VolumeLow) {
		errs = append(errs, "scoring: volume thresholds must satisfy high >= mid >= low")
	}
	if c.Scoring.HistoryTTL.Duration <= 0 {
		errs = append(errs, "scoring: history_ttl must be > 0")
	}
	if c.Scoring.MaxHistory < 2 {
		errs = append(errs, "scoring: max_history must be >= 2")
	}

	// Entry
	errs = append(errs, c.Entry.Weekday.validate("entry.weekday")...)
	if c.Entry.WeekendEnabled {
		errs = append(errs, c.Entry.Weekend.validate("entry.weekend")...)
	}
	if c.Entry.TakeProfit <= 0 || c.Entry.TakeProfit >= 1 {
		errs = append(errs, "entry: take_profit must be in (0, 1)")
	}

	// Sizing
	if c.Sizing.MinFraction <= 0 || c.Sizing.MaxFraction > 1 || c.Sizing.MinFraction > c.Sizing.MaxFraction {
		errs = append(errs, "sizing: fractions must satisfy 0 < min_fraction <= max_fraction <= 1")
	}

	// Portfolio
	if c.Portfolio.InitialCapital <= 0 {
		errs = append(errs, "portfolio: initial_capital must be > 0")
	}
	if c.Portfolio.MaxPositions < 1 {
		errs = append(errs, "portfolio: max_positions must be >= 1")
	}
	if c.Portfolio.MaxRegionExposure <= 0 || c.Portfolio.MaxRegionExposure > 1 {
		errs = append(errs, "portfolio: max_region_exposure must be in (0, 1]")
	}
	if c.Portfolio.HistoryCap < 1 {
		errs = append(errs, "portfolio: history_cap must be >= 1")
	}
	if c.Portfolio.CheckpointEvery < 1 {
		errs = append(errs, "portfolio: checkpoint_every must be >= 1")
	}

	// Runner
	if c.Runner.CycleInterval.Duration <= 0 {
		errs = append(errs, "runner: cycle_interval must be > 0")
	}
	if c.Runner.RefreshInterval.Duration <= 0 {
		errs = append(errs, "runner: refresh_interval must be > 0")
	}
	if c.Runner.DiscoveryBreaker < 1 || c.Runner.RepriceBreaker < 1 {
		errs = append(errs, "runner: breaker thresholds must be >= 1")
	}
	if c.Runner.DisplayLimit < 1 {
		errs = append(errs, "runner: display_limit must be >= 1")
	}

	// Storage
	driver := strings.ToLower(c.Storage.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: sqlite, postgres, none)", c.Storage.Driver))
	}
	if driver == "sqlite" && strings.TrimSpace(c.Storage.SQLitePath) == "" {
		errs = append(errs, "storage: sqlite_path must not be empty for the sqlite driver")
	}

	// Supabase
	if driver == "postgres" {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockKey == "" {
			errs = append(errs, "redis: lock_key must not be empty")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be >= 1s")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
			errs = append(errs, "server: rate_limit_burst must be > 0 when rate_limit_rps is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (b BandConfig) validate(section string) []string {
	var errs []string
	if b.MinYesPrice <= 0 || b.MaxYesPrice >= 1 || b.MinYesPrice > b.MaxYesPrice {
		errs = append(errs, fmt.Sprintf("%s: yes band [%g, %g] is invalid", section, b.MinYesPrice, b.MaxYesPrice))
	}
	if b.MinScore < 0 || b.MinScore > 100 {
		errs = append(errs, fmt.Sprintf("%s: min_score must be 0-100", section))
	}
	return errs
}
