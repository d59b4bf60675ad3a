// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARB_* environment variables.
// Percentages are fractional throughout (0.005 = 0.5%); decimal fields are
// TOML strings so values stay exact.
type Config struct {
	Venues   []VenueConfig  `toml:"venue"`
	Book     BookConfig     `toml:"book"`
	Profit   ProfitConfig   `toml:"profit"`
	Risk     RiskConfig     `toml:"risk"`
	Scan     ScanConfig     `toml:"scan"`
	Executor ExecutorConfig `toml:"executor"`
	Fees     FeeConfig      `toml:"fees"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Paper    PaperConfig    `toml:"paper"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig describes one venue: its depth stream and the pairs it lists.
// The union of venue listings is the trading universe the path catalog is
// built from.
type VenueConfig struct {
	Name        string          `toml:"name"`
	WsURL       string          `toml:"ws_url"`
	Subscribe   []string        `toml:"subscribe"` // raw subscription payloads sent after connect
	Pairs       []string        `toml:"pairs"`     // "BASE/QUOTE" notation
	TakerFee    decimal.Decimal `toml:"taker_fee"`
	FillTimeout duration        `toml:"fill_timeout"` // overrides executor.fill_timeout when set
}

// BookConfig holds snapshot cache parameters.
type BookConfig struct {
	// FreshFor is the freshness window; snapshots older than this at read
	// time are rejected as stale.
	FreshFor duration `toml:"fresh_for"`
}

// ProfitConfig holds profit engine parameters.
type ProfitConfig struct {
	// Slippage is the fractional per-leg slippage allowance deducted
	// alongside taker fees.
	Slippage decimal.Decimal `toml:"slippage"`
}

// RiskConfig holds risk gate and volatility tracker parameters.
type RiskConfig struct {
	DepthMultiple   decimal.Decimal `toml:"depth_multiple"`
	DepthLevels     int             `toml:"depth_levels"`
	ThresholdFloor  decimal.Decimal `toml:"threshold_floor"`
	ThresholdCeil   decimal.Decimal `toml:"threshold_ceil"`
	MaxVWAPSlippage decimal.Decimal `toml:"max_vwap_slippage"`
	MinTradeSize    decimal.Decimal `toml:"min_trade_size"`
	ImbalancePct    decimal.Decimal `toml:"imbalance_pct"`

	VolWindow        int      `toml:"vol_window"`
	VolMaxAge        duration `toml:"vol_max_age"`
	VolElevatedAbove float64  `toml:"vol_elevated_above"`
}

// ScanConfig holds scheduler cadences.
type ScanConfig struct {
	CrossVenueFloor duration        `toml:"cross_venue_floor"`
	TriangularFloor duration        `toml:"triangular_floor"`
	FallbackEvery   duration        `toml:"fallback_every"`
	RequestSize     decimal.Decimal `toml:"request_size"`
}

// ExecutorConfig holds execution coordinator parameters.
type ExecutorConfig struct {
	FillTimeout   duration        `toml:"fill_timeout"`
	FillTolerance decimal.Decimal `toml:"fill_tolerance"`
}

// FeeConfig holds fee schedule refresh parameters.
type FeeConfig struct {
	// FallbackTaker applies to books no venue rate covers.
	FallbackTaker decimal.Decimal `toml:"fallback_taker"`
	RefreshEvery  duration        `toml:"refresh_every"`
}

// RedisConfig holds Redis connection and event stream parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	StreamMax  int64  `toml:"stream_max"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds object storage parameters for the execution archive.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	ArchiveAfter   duration `toml:"archive_after"`
	SweepEvery     duration `toml:"sweep_every"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Throttle          duration `toml:"throttle"`
}

// PaperConfig seeds the paper venue adapter's starting balances, keyed by
// venue name then asset (e.g. [paper.balances.kraken] USDT = "10000").
type PaperConfig struct {
	Balances map[string]map[string]decimal.Decimal `toml:"balances"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "250ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Book: BookConfig{
			FreshFor: duration{500 * time.Millisecond},
		},
		Profit: ProfitConfig{
			Slippage: decimal.RequireFromString("0.0005"),
		},
		Risk: RiskConfig{
			DepthMultiple:    decimal.RequireFromString("2.5"),
			DepthLevels:      5,
			ThresholdFloor:   decimal.RequireFromString("0.004"),
			ThresholdCeil:    decimal.RequireFromString("0.01"),
			MaxVWAPSlippage:  decimal.RequireFromString("0.001"),
			MinTradeSize:     decimal.RequireFromString("10"),
			ImbalancePct:     decimal.RequireFromString("0.01"),
			VolWindow:        120,
			VolMaxAge:        duration{5 * time.Minute},
			VolElevatedAbove: 0.002,
		},
		Scan: ScanConfig{
			CrossVenueFloor: duration{100 * time.Millisecond},
			TriangularFloor: duration{250 * time.Millisecond},
			FallbackEvery:   duration{2 * time.Second},
			RequestSize:     decimal.RequireFromString("1000"),
		},
		Executor: ExecutorConfig{
			FillTimeout:   duration{30 * time.Second},
			FillTolerance: decimal.RequireFromString("0.995"),
		},
		Fees: FeeConfig{
			FallbackTaker: decimal.RequireFromString("0.001"),
			RefreshEvery:  duration{10 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			StreamMax:  10000,
		},
		Postgres: PostgresConfig{
			DSN:           "postgres://postgres@localhost:5432/arbengine?sslmode=disable",
			MaxConns:      10,
			MinConns:      2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbengine-archive",
			ForcePathStyle: true,
			ArchiveAfter:   duration{30 * 24 * time.Hour},
			SweepEvery:     duration{6 * time.Hour},
		},
		Notify: NotifyConfig{
			Events:   []string{"remediation_failed", "stranded", "error"},
			Throttle: duration{time.Minute},
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":  true,
	"trade": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, trade)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Venues) == 0 {
		errs = append(errs, "at least one [[venue]] must be configured")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		tag := fmt.Sprintf("venue[%d]", i)
		if v.Name == "" {
			errs = append(errs, tag+": name must not be empty")
		} else {
			tag = "venue " + v.Name
			if seen[v.Name] {
				errs = append(errs, tag+": duplicate name")
			}
			seen[v.Name] = true
		}
		if v.WsURL == "" {
			errs = append(errs, tag+": ws_url must not be empty")
		}
		if len(v.Pairs) == 0 {
			errs = append(errs, tag+": pairs must not be empty")
		}
		for _, p := range v.Pairs {
			if !strings.Contains(p, "/") {
				errs = append(errs, fmt.Sprintf("%s: malformed pair %q (want BASE/QUOTE)", tag, p))
			}
		}
		if v.TakerFee.IsNegative() {
			errs = append(errs, tag+": taker_fee must not be negative")
		}
	}

	if c.Book.FreshFor.Duration <= 0 {
		errs = append(errs, "book: fresh_for must be > 0")
	}
	if c.Profit.Slippage.IsNegative() {
		errs = append(errs, "profit: slippage must not be negative")
	}

	if c.Risk.DepthMultiple.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "risk: depth_multiple must be > 0")
	}
	if c.Risk.DepthLevels < 1 {
		errs = append(errs, "risk: depth_levels must be >= 1")
	}
	if c.Risk.ThresholdFloor.IsNegative() {
		errs = append(errs, "risk: threshold_floor must not be negative")
	}
	if c.Risk.ThresholdCeil.LessThan(c.Risk.ThresholdFloor) {
		errs = append(errs, "risk: threshold_ceil must be >= threshold_floor")
	}
	if c.Risk.MinTradeSize.IsNegative() {
		errs = append(errs, "risk: min_trade_size must not be negative")
	}
	if c.Risk.ImbalancePct.IsNegative() {
		errs = append(errs, "risk: imbalance_pct must not be negative")
	}
	if c.Risk.VolWindow < 2 {
		errs = append(errs, "risk: vol_window must be >= 2")
	}

	if c.Scan.CrossVenueFloor.Duration <= 0 {
		errs = append(errs, "scan: cross_venue_floor must be > 0")
	}
	if c.Scan.TriangularFloor.Duration <= 0 {
		errs = append(errs, "scan: triangular_floor must be > 0")
	}
	if c.Scan.FallbackEvery.Duration <= 0 {
		errs = append(errs, "scan: fallback_every must be > 0")
	}
	if c.Scan.RequestSize.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "scan: request_size must be > 0")
	}

	if c.Executor.FillTimeout.Duration <= 0 {
		errs = append(errs, "executor: fill_timeout must be > 0")
	}
	one := decimal.NewFromInt(1)
	if c.Executor.FillTolerance.LessThanOrEqual(decimal.Zero) || c.Executor.FillTolerance.GreaterThan(one) {
		errs = append(errs, "executor: fill_tolerance must be in (0, 1]")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		errs = append(errs, "postgres: dsn must not be empty")
	}
	if c.Postgres.MaxConns < 1 {
		errs = append(errs, "postgres: max_conns must be >= 1")
	}
	if c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, "postgres: min_conns must be in [0, max_conns]")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveAfter.Duration <= 0 {
			errs = append(errs, "s3: archive_after must be > 0 when enabled")
		}
		if c.S3.SweepEvery.Duration <= 0 {
			errs = append(errs, "s3: sweep_every must be > 0 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
