package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Per-venue fields have no env form; venues live in the file only.
func applyEnvOverrides(cfg *Config) {
	// ── Book / profit ──
	setDuration(&cfg.Book.FreshFor, "ARB_BOOK_FRESH_FOR")
	setDecimal(&cfg.Profit.Slippage, "ARB_PROFIT_SLIPPAGE")

	// ── Risk ──
	setDecimal(&cfg.Risk.DepthMultiple, "ARB_RISK_DEPTH_MULTIPLE")
	setInt(&cfg.Risk.DepthLevels, "ARB_RISK_DEPTH_LEVELS")
	setDecimal(&cfg.Risk.ThresholdFloor, "ARB_RISK_THRESHOLD_FLOOR")
	setDecimal(&cfg.Risk.ThresholdCeil, "ARB_RISK_THRESHOLD_CEIL")
	setDecimal(&cfg.Risk.MaxVWAPSlippage, "ARB_RISK_MAX_VWAP_SLIPPAGE")
	setDecimal(&cfg.Risk.MinTradeSize, "ARB_RISK_MIN_TRADE_SIZE")
	setDecimal(&cfg.Risk.ImbalancePct, "ARB_RISK_IMBALANCE_PCT")
	setInt(&cfg.Risk.VolWindow, "ARB_RISK_VOL_WINDOW")
	setDuration(&cfg.Risk.VolMaxAge, "ARB_RISK_VOL_MAX_AGE")
	setFloat64(&cfg.Risk.VolElevatedAbove, "ARB_RISK_VOL_ELEVATED_ABOVE")

	// ── Scan ──
	setDuration(&cfg.Scan.CrossVenueFloor, "ARB_SCAN_CROSS_VENUE_FLOOR")
	setDuration(&cfg.Scan.TriangularFloor, "ARB_SCAN_TRIANGULAR_FLOOR")
	setDuration(&cfg.Scan.FallbackEvery, "ARB_SCAN_FALLBACK_EVERY")
	setDecimal(&cfg.Scan.RequestSize, "ARB_SCAN_REQUEST_SIZE")

	// ── Executor ──
	setDuration(&cfg.Executor.FillTimeout, "ARB_EXECUTOR_FILL_TIMEOUT")
	setDecimal(&cfg.Executor.FillTolerance, "ARB_EXECUTOR_FILL_TOLERANCE")

	// ── Fees ──
	setDecimal(&cfg.Fees.FallbackTaker, "ARB_FEES_FALLBACK_TAKER")
	setDuration(&cfg.Fees.RefreshEvery, "ARB_FEES_REFRESH_EVERY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARB_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMax, "ARB_REDIS_STREAM_MAX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARB_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxConns, "ARB_POSTGRES_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "ARB_POSTGRES_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARB_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ARB_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveAfter, "ARB_S3_ARCHIVE_AFTER")
	setDuration(&cfg.S3.SweepEvery, "ARB_S3_SWEEP_EVERY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARB_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Throttle, "ARB_NOTIFY_THROTTLE")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARB_MODE")
	setStr(&cfg.LogLevel, "ARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
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
