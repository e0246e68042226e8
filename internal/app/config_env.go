package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides overrides cfg fields with environment variables that are
// set. It runs after the config file and before explicit flags, so env sits
// between the two in precedence. Malformed numbers and durations are errors.
func ApplyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.DiscordToken = v
	}
	if v := os.Getenv("FOIBOT_PREFIX"); v != "" {
		cfg.Prefix = v
	}
	if v := os.Getenv("HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
	if v := os.Getenv("SITE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}

	if err := envInt(&cfg.MaxAttempts, "FETCH_MAX_ATTEMPTS"); err != nil {
		return err
	}
	if err := envInt(&cfg.MaxResults, "SEARCH_MAX_RESULTS"); err != nil {
		return err
	}
	if err := envDuration(&cfg.FetchTimeout, "FETCH_TIMEOUT"); err != nil {
		return err
	}
	if err := envDuration(&cfg.SearchTimeout, "SEARCH_TIMEOUT"); err != nil {
		return err
	}

	// Booleans override when env present and truthy/falsey
	if s := strings.ToLower(strings.TrimSpace(os.Getenv("VERBOSE"))); s != "" {
		switch s {
		case "1", "true", "yes", "on":
			cfg.Verbose = true
		case "0", "false", "no", "off":
			cfg.Verbose = false
		}
	}
	return nil
}

func envInt(dst *int, key string) error {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(dst *time.Duration, key string) error {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
