// Package config loads the vetting engine's runtime configuration from
// environment variables (spec §6): start from defaults, then walk a fixed
// list of recognized env vars, overriding and range-checking each one. Soft
// parameters fall back to the default and log a warning on a bad value.
// Load itself always returns a nil error; hard invariants (threshold
// orderings and scoring weights) are checked by the thresholds package,
// whose Validate and NewResolver return an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"nonprofitvet/internal/errs"
	"nonprofitvet/internal/logging"
)

// Config holds every runtime-tunable knob named in spec §6 that is not a
// scoring/red-flag threshold (those live in package thresholds).
type Config struct {
	DataDir string

	DataMaxAgeDays      int
	DiscoveryMaxAgeDays int
	CacheMaxAgeDays     int

	RateLimit      time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxXMLSizeBytes int64

	FuzzyMatchThreshold float64

	PortfolioAllowPrefixes []string
	PortfolioExcludedEINs  []string
	PortfolioIncludedEINs  []string
	PortfolioFitEnabled    bool

	Debug bool
}

// Defaults matches the base values named throughout spec §6.
func Defaults() Config {
	return Config{
		DataDir: "./data",

		DataMaxAgeDays:      7,
		DiscoveryMaxAgeDays: 30,
		CacheMaxAgeDays:     30,

		RateLimit:       200 * time.Millisecond,
		MaxRetries:      3,
		RetryBackoff:    2 * time.Second,
		MaxXMLSizeBytes: 25 * 1024 * 1024,

		FuzzyMatchThreshold: 0.85,

		PortfolioFitEnabled: true,

		Debug: false,
	}
}

const (
	maxXMLSizeHardCapBytes = 50 * 1024 * 1024
	minRateLimitMs         = 200
	maxRetriesHardCap      = 10
	minRetryBackoffMs      = 100
)

// Load builds a Config starting from Defaults and applying recognized
// environment variables on top. Soft (non-invariant) values fall back to
// the default on a parse failure or an out-of-bounds value, logging a
// warning; DataDir and the portfolio lists have no hard bounds to enforce.
func Load() (Config, error) {
	cfg := Defaults()
	cfg.applyEnvOverrides()
	logging.Configure(cfg.Debug)
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VETTING_DATA_DIR"); v != "" {
		c.DataDir = v
	}

	if v, ok := envInt("DATA_MAX_AGE_DAYS"); ok {
		if v > 0 {
			c.DataMaxAgeDays = v
		} else {
			logging.Warnf(logging.CategoryConfig, "DATA_MAX_AGE_DAYS must be positive, using default %d", c.DataMaxAgeDays)
		}
	}
	if v, ok := envInt("DISCOVERY_MAX_AGE_DAYS"); ok {
		if v > 0 {
			c.DiscoveryMaxAgeDays = v
		} else {
			logging.Warnf(logging.CategoryConfig, "DISCOVERY_MAX_AGE_DAYS must be positive, using default %d", c.DiscoveryMaxAgeDays)
		}
	}
	if v, ok := envInt("CACHE_MAX_AGE_DAYS"); ok {
		if v > 0 {
			c.CacheMaxAgeDays = v
		} else {
			logging.Warnf(logging.CategoryConfig, "CACHE_MAX_AGE_DAYS must be positive, using default %d", c.CacheMaxAgeDays)
		}
	}

	if v, ok := envInt("RATE_LIMIT_MS"); ok {
		if v >= minRateLimitMs {
			c.RateLimit = time.Duration(v) * time.Millisecond
		} else {
			logging.Warnf(logging.CategoryConfig, "rateLimitMs must be >= %d, using default %s", minRateLimitMs, c.RateLimit)
		}
	}
	if v, ok := envInt("MAX_RETRIES"); ok {
		if v >= 0 && v <= maxRetriesHardCap {
			c.MaxRetries = v
		} else {
			logging.Warnf(logging.CategoryConfig, "maxRetries must be in [0,%d], using default %d", maxRetriesHardCap, c.MaxRetries)
		}
	}
	if v, ok := envInt("RETRY_BACKOFF_MS"); ok {
		if v >= minRetryBackoffMs {
			c.RetryBackoff = time.Duration(v) * time.Millisecond
		} else {
			logging.Warnf(logging.CategoryConfig, "retryBackoffMs must be >= %d, using default %s", minRetryBackoffMs, c.RetryBackoff)
		}
	}
	if v, ok := envInt64("MAX_XML_SIZE_BYTES"); ok {
		if v > 0 && v <= maxXMLSizeHardCapBytes {
			c.MaxXMLSizeBytes = v
		} else {
			logging.Warnf(logging.CategoryConfig, "maxXmlSizeBytes must be in (0,%d], using default %d", maxXMLSizeHardCapBytes, c.MaxXMLSizeBytes)
		}
	}

	if v, ok := envFloat("FUZZY_MATCH_THRESHOLD"); ok {
		if v >= 0 && v <= 1 {
			c.FuzzyMatchThreshold = v
		} else {
			logging.Warnf(logging.CategoryConfig, "fuzzyMatchThreshold must be in [0,1], using default %v", c.FuzzyMatchThreshold)
		}
	}

	if v := os.Getenv("PORTFOLIO_ALLOW_NTEE_PREFIXES"); v != "" {
		c.PortfolioAllowPrefixes = splitCSV(v)
	}
	if v := os.Getenv("PORTFOLIO_EXCLUDED_EINS"); v != "" {
		c.PortfolioExcludedEINs = splitCSV(v)
	}
	if v := os.Getenv("PORTFOLIO_INCLUDED_EINS"); v != "" {
		c.PortfolioIncludedEINs = splitCSV(v)
	}
	if v := os.Getenv("PORTFOLIO_FIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.PortfolioFitEnabled = b
		} else {
			logging.Warnf(logging.CategoryConfig, "PORTFOLIO_FIT_ENABLED must be a bool, using default %v", c.PortfolioFitEnabled)
		}
	}

	if v := os.Getenv("VETTING_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warnf(logging.CategoryConfig, "%s: invalid integer %q, ignoring", name, v)
		return 0, false
	}
	return n, true
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logging.Warnf(logging.CategoryConfig, "%s: invalid integer %q, ignoring", name, v)
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logging.Warnf(logging.CategoryConfig, "%s: invalid float %q, ignoring", name, v)
		return 0, false
	}
	return f, true
}

// ValidateHard checks the handful of hard-invariant fields Load itself is
// responsible for (as opposed to thresholds.Validate, which covers scoring
// thresholds). Returns errs.ErrConfigOutOfRange wrapped with detail.
func (c Config) ValidateHard() error {
	if c.MaxXMLSizeBytes <= 0 || c.MaxXMLSizeBytes > maxXMLSizeHardCapBytes {
		return fmt.Errorf("%w: maxXmlSizeBytes=%d", errs.ErrConfigOutOfRange, c.MaxXMLSizeBytes)
	}
	if c.FuzzyMatchThreshold < 0 || c.FuzzyMatchThreshold > 1 {
		return fmt.Errorf("%w: fuzzyMatchThreshold=%v", errs.ErrConfigOutOfRange, c.FuzzyMatchThreshold)
	}
	if c.MaxRetries < 0 || c.MaxRetries > maxRetriesHardCap {
		return fmt.Errorf("%w: maxRetries=%d", errs.ErrConfigOutOfRange, c.MaxRetries)
	}
	return nil
}
