package app

import (
	"time"

	"github.com/hyperifyio/foibot/internal/bot"
	"github.com/hyperifyio/foibot/internal/extract"
	"github.com/hyperifyio/foibot/internal/fetch"
	"github.com/hyperifyio/foibot/internal/health"
	"github.com/hyperifyio/foibot/internal/search"
)

// Config holds runtime configuration for the application.
type Config struct {
	// Discord
	DiscordToken string
	Prefix       string

	// Liveness endpoint
	HealthAddr string

	// Site
	BaseURL           string
	QueryTemplate     string
	AttachmentPattern string
	Selectors         []extract.Selectors

	// Fetch
	UserAgent      string
	MaxAttempts    int
	FetchTimeout   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxConcurrent  int

	// Search
	MaxResults    int
	SearchTimeout time.Duration
	// SearchFile replaces the network with a saved results page.
	SearchFile string

	// Behavior
	// Offline skips the chat connection; the token is not required.
	Offline bool
	Verbose bool
}

// DefaultConfig returns the settings used when nothing else is configured.
func DefaultConfig() Config {
	b := fetch.DefaultBackoff()
	return Config{
		Prefix:         bot.DefaultPrefix,
		HealthAddr:     health.DefaultAddr,
		BaseURL:        search.DefaultBaseURL,
		QueryTemplate:  search.DefaultQueryTemplate,
		UserAgent:      fetch.DefaultUserAgent,
		MaxAttempts:    3,
		FetchTimeout:   20 * time.Second,
		BackoffInitial: b.Initial,
		BackoffMax:     b.Max,
		MaxConcurrent:  4,
		MaxResults:     search.DefaultMaxResults,
		SearchTimeout:  search.DefaultTimeout,
	}
}
