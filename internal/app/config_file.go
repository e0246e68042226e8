package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/foibot/internal/extract"
)

// FileConfig represents the single-file configuration schema. Durations are
// Go duration strings such as "20s".
type FileConfig struct {
	Discord struct {
		Token  string `yaml:"token" json:"token"`
		Prefix string `yaml:"prefix" json:"prefix"`
	} `yaml:"discord" json:"discord"`

	Health struct {
		Addr string `yaml:"addr" json:"addr"`
	} `yaml:"health" json:"health"`

	Site struct {
		BaseURL           string `yaml:"baseURL" json:"baseURL"`
		QueryTemplate     string `yaml:"queryTemplate" json:"queryTemplate"`
		AttachmentPattern string `yaml:"attachmentPattern" json:"attachmentPattern"`
	} `yaml:"site" json:"site"`

	Fetch struct {
		UserAgent      string `yaml:"userAgent" json:"userAgent"`
		MaxAttempts    int    `yaml:"maxAttempts" json:"maxAttempts"`
		Timeout        string `yaml:"timeout" json:"timeout"`
		BackoffInitial string `yaml:"backoffInitial" json:"backoffInitial"`
		BackoffMax     string `yaml:"backoffMax" json:"backoffMax"`
		MaxConcurrent  int    `yaml:"maxConcurrent" json:"maxConcurrent"`
	} `yaml:"fetch" json:"fetch"`

	Search struct {
		MaxResults int    `yaml:"maxResults" json:"maxResults"`
		Timeout    string `yaml:"timeout" json:"timeout"`
		File       string `yaml:"file" json:"file"`
	} `yaml:"search" json:"search"`

	Selectors []extract.Selectors `yaml:"selectors" json:"selectors"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays the values set in fc onto cfg. Call it on a
// DefaultConfig before env and flags are applied.
func ApplyFileConfig(cfg *Config, fc FileConfig) error {
	if cfg == nil {
		return nil
	}
	setString := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}

	setString(&cfg.DiscordToken, fc.Discord.Token)
	setString(&cfg.Prefix, fc.Discord.Prefix)
	setString(&cfg.HealthAddr, fc.Health.Addr)
	setString(&cfg.BaseURL, fc.Site.BaseURL)
	setString(&cfg.QueryTemplate, fc.Site.QueryTemplate)
	setString(&cfg.AttachmentPattern, fc.Site.AttachmentPattern)
	setString(&cfg.UserAgent, fc.Fetch.UserAgent)
	setString(&cfg.SearchFile, fc.Search.File)
	setInt(&cfg.MaxAttempts, fc.Fetch.MaxAttempts)
	setInt(&cfg.MaxConcurrent, fc.Fetch.MaxConcurrent)
	setInt(&cfg.MaxResults, fc.Search.MaxResults)

	durations := []struct {
		dst  *time.Duration
		val  string
		name string
	}{
		{&cfg.FetchTimeout, fc.Fetch.Timeout, "fetch.timeout"},
		{&cfg.BackoffInitial, fc.Fetch.BackoffInitial, "fetch.backoffInitial"},
		{&cfg.BackoffMax, fc.Fetch.BackoffMax, "fetch.backoffMax"},
		{&cfg.SearchTimeout, fc.Search.Timeout, "search.timeout"},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.val) == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if len(fc.Selectors) > 0 {
		cfg.Selectors = append([]extract.Selectors(nil), fc.Selectors...)
	}
	if fc.Verbose {
		cfg.Verbose = true
	}
	return nil
}

// ValidateConfig rejects settings the application cannot start with. In
// offline mode the Discord token may be omitted.
func ValidateConfig(cfg Config) error {
	if !cfg.Offline && strings.TrimSpace(cfg.DiscordToken) == "" {
		return errors.New("config: discord token is required (or set DISCORD_BOT_TOKEN)")
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		return errors.New("config: command prefix is empty")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: site base url must be an absolute http(s) url: %q", cfg.BaseURL)
	}
	if !strings.Contains(cfg.QueryTemplate, "{query}") {
		return fmt.Errorf("config: query template %q lacks {query}", cfg.QueryTemplate)
	}
	if cfg.AttachmentPattern != "" {
		if _, err := regexp.Compile(cfg.AttachmentPattern); err != nil {
			return fmt.Errorf("config: attachment pattern: %w", err)
		}
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("config: fetch.maxAttempts must be positive")
	}
	if cfg.MaxResults <= 0 {
		return errors.New("config: search.maxResults must be positive")
	}
	if cfg.FetchTimeout < 0 || cfg.SearchTimeout < 0 || cfg.BackoffInitial < 0 || cfg.BackoffMax < 0 || cfg.MaxConcurrent < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	for i, s := range cfg.Selectors {
		if strings.TrimSpace(s.Item) == "" {
			return fmt.Errorf("config: selectors[%d] (%s): item selector is required", i, s.Name)
		}
	}
	return nil
}
