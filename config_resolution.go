package main

import (
	"strconv"
	"time"

	"github.com/lakelink/lakelink/client"
)

type configCLIInputs struct {
	Set map[string]bool

	Server            string
	UserID            string
	ExplainMode       string
	Timeout           string
	MaxRetries        int
	InitialBackoff    string
	MaxBackoff        string
	BackoffMultiplier float64
}

type resolvedConfig struct {
	Server      string
	UserID      string
	ExplainMode string
	Timeout     time.Duration
	Retry       client.RetryPolicy
}

func defaultResolvedConfig() resolvedConfig {
	return resolvedConfig{
		Server:      "lk://localhost:15002",
		ExplainMode: "simple",
		Timeout:     5 * time.Minute,
		Retry:       client.DefaultRetryPolicy(),
	}
}

// resolveEffectiveConfig merges the configuration sources with precedence
// CLI flags > environment variables > config file > defaults. cli.Set marks
// the flags the user actually passed, so zero values stay distinguishable
// from "not set". Invalid values are reported through warn and skipped.
func resolveEffectiveConfig(fileCfg *FileConfig, cli configCLIInputs, getenv func(string) string, warn func(string)) resolvedConfig {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if warn == nil {
		warn = func(string) {}
	}
	if cli.Set == nil {
		cli.Set = map[string]bool{}
	}

	cfg := defaultResolvedConfig()

	parseDuration := func(what, v string, dst *time.Duration) {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			warn("Invalid " + what + " duration: " + err.Error())
		}
	}

	if fileCfg != nil {
		if fileCfg.Server != "" {
			cfg.Server = fileCfg.Server
		}
		if fileCfg.UserID != "" {
			cfg.UserID = fileCfg.UserID
		}
		if fileCfg.ExplainMode != "" {
			cfg.ExplainMode = fileCfg.ExplainMode
		}
		if fileCfg.Timeout != "" {
			parseDuration("timeout", fileCfg.Timeout, &cfg.Timeout)
		}
		if fileCfg.Retry.MaxRetries != nil {
			cfg.Retry.MaxRetries = *fileCfg.Retry.MaxRetries
		}
		if fileCfg.Retry.InitialBackoff != "" {
			parseDuration("initial_backoff", fileCfg.Retry.InitialBackoff, &cfg.Retry.InitialBackoff)
		}
		if fileCfg.Retry.MaxBackoff != "" {
			parseDuration("max_backoff", fileCfg.Retry.MaxBackoff, &cfg.Retry.MaxBackoff)
		}
		if fileCfg.Retry.BackoffMultiplier != 0 {
			cfg.Retry.BackoffMultiplier = fileCfg.Retry.BackoffMultiplier
		}
	}

	if v := getenv("LAKELINK_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := getenv("LAKELINK_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := getenv("LAKELINK_EXPLAIN_MODE"); v != "" {
		cfg.ExplainMode = v
	}
	if v := getenv("LAKELINK_TIMEOUT"); v != "" {
		parseDuration("LAKELINK_TIMEOUT", v, &cfg.Timeout)
	}
	if v := getenv("LAKELINK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Retry.MaxRetries = n
		} else {
			warn("Invalid LAKELINK_MAX_RETRIES: " + v)
		}
	}
	if v := getenv("LAKELINK_INITIAL_BACKOFF"); v != "" {
		parseDuration("LAKELINK_INITIAL_BACKOFF", v, &cfg.Retry.InitialBackoff)
	}
	if v := getenv("LAKELINK_MAX_BACKOFF"); v != "" {
		parseDuration("LAKELINK_MAX_BACKOFF", v, &cfg.Retry.MaxBackoff)
	}
	if v := getenv("LAKELINK_BACKOFF_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Retry.BackoffMultiplier = f
		} else {
			warn("Invalid LAKELINK_BACKOFF_MULTIPLIER: " + v)
		}
	}

	if cli.Set["server"] {
		cfg.Server = cli.Server
	}
	if cli.Set["user"] {
		cfg.UserID = cli.UserID
	}
	if cli.Set["mode"] {
		cfg.ExplainMode = cli.ExplainMode
	}
	if cli.Set["timeout"] {
		parseDuration("-timeout", cli.Timeout, &cfg.Timeout)
	}
	if cli.Set["max-retries"] {
		cfg.Retry.MaxRetries = cli.MaxRetries
	}
	if cli.Set["initial-backoff"] {
		parseDuration("-initial-backoff", cli.InitialBackoff, &cfg.Retry.InitialBackoff)
	}
	if cli.Set["max-backoff"] {
		parseDuration("-max-backoff", cli.MaxBackoff, &cfg.Retry.MaxBackoff)
	}
	if cli.Set["backoff-multiplier"] {
		cfg.Retry.BackoffMultiplier = cli.BackoffMultiplier
	}

	return cfg
}
