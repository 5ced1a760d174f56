package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "WEATHERBOT_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WEATHERBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WEATHERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYMARKET_GAMMA_HOST")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "POLYMARKET_REQUESTS_PER_SECOND")
	setInt(&cfg.Polymarket.Burst, "POLYMARKET_BURST")
	setDuration(&cfg.Polymarket.HTTPTimeout, "POLYMARKET_HTTP_TIMEOUT")

	// ── Discovery ──
	setFloat64(&cfg.Discovery.MinYesPrice, "DISCOVERY_MIN_YES_PRICE")
	setFloat64(&cfg.Discovery.MaxYesPrice, "DISCOVERY_MAX_YES_PRICE")
	setFloat64(&cfg.Discovery.MinVolume, "DISCOVERY_MIN_VOLUME")
	setInt(&cfg.Discovery.DaysAhead, "DISCOVERY_DAYS_AHEAD")
	setInt(&cfg.Discovery.MinLocalHour, "DISCOVERY_MIN_LOCAL_HOUR")
	setStringSlice(&cfg.Discovery.Cities, "DISCOVERY_CITIES")

	// ── Scoring ──
	setFloat64(&cfg.Scoring.VolumeHigh, "SCORING_VOLUME_HIGH")
	setFloat64(&cfg.Scoring.VolumeMid, "SCORING_VOLUME_MID")
	setFloat64(&cfg.Scoring.VolumeLow, "SCORING_VOLUME_LOW")
	setDuration(&cfg.Scoring.HistoryTTL, "SCORING_HISTORY_TTL")

	// ── Entry ──
	setFloat64(&cfg.Entry.Weekday.MinYesPrice, "ENTRY_WEEKDAY_MIN_YES_PRICE")
	setFloat64(&cfg.Entry.Weekday.MaxYesPrice, "ENTRY_WEEKDAY_MAX_YES_PRICE")
	setInt(&cfg.Entry.Weekday.MinScore, "ENTRY_WEEKDAY_MIN_SCORE")
	setFloat64(&cfg.Entry.Weekend.MinYesPrice, "ENTRY_WEEKEND_MIN_YES_PRICE")
	setFloat64(&cfg.Entry.Weekend.MaxYesPrice, "ENTRY_WEEKEND_MAX_YES_PRICE")
	setInt(&cfg.Entry.Weekend.MinScore, "ENTRY_WEEKEND_MIN_SCORE")
	setBool(&cfg.Entry.WeekendEnabled, "ENTRY_WEEKEND_ENABLED")
	setFloat64(&cfg.Entry.TakeProfit, "ENTRY_TAKE_PROFIT")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.MinFraction, "SIZING_MIN_FRACTION")
	setFloat64(&cfg.Sizing.MaxFraction, "SIZING_MAX_FRACTION")

	// ── Portfolio ──
	setFloat64(&cfg.Portfolio.InitialCapital, "PORTFOLIO_INITIAL_CAPITAL")
	setInt(&cfg.Portfolio.MaxPositions, "PORTFOLIO_MAX_POSITIONS")
	setFloat64(&cfg.Portfolio.MaxRegionExposure, "PORTFOLIO_MAX_REGION_EXPOSURE")

	// ── Runner ──
	setBool(&cfg.Runner.AutoStart, "RUNNER_AUTO_START")
	setDuration(&cfg.Runner.CycleInterval, "RUNNER_CYCLE_INTERVAL")
	setDuration(&cfg.Runner.RefreshInterval, "RUNNER_REFRESH_INTERVAL")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setStr(&cfg.Storage.SQLitePath, "STORAGE_SQLITE_PATH")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setStr(&cfg.Pipeline.ArchiveCron, "PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-assigned port
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimitRPS, "SERVER_RATE_LIMIT_RPS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
