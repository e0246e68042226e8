package app

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/foibot/internal/bot"
	"github.com/hyperifyio/foibot/internal/detect"
	"github.com/hyperifyio/foibot/internal/extract"
	"github.com/hyperifyio/foibot/internal/fetch"
	"github.com/hyperifyio/foibot/internal/health"
	"github.com/hyperifyio/foibot/internal/search"
)

// App runs the chat bot and the liveness endpoint side by side.
type App struct {
	cfg      Config
	searcher *search.Searcher
	bot      *bot.Bot
	health   *health.Server
	session  *discordgo.Session
}

// NewFetcher returns the page source described by cfg: a saved file when
// SearchFile is set, otherwise a retrying HTTP client.
func NewFetcher(cfg Config) search.Fetcher {
	if cfg.SearchFile != "" {
		return &search.FileSource{Path: cfg.SearchFile}
	}
	headers := fetch.DefaultHeaders()
	if cfg.UserAgent != "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}
	b := fetch.DefaultBackoff()
	if cfg.BackoffInitial > 0 {
		b.Initial = cfg.BackoffInitial
	}
	if cfg.BackoffMax > 0 {
		b.Max = cfg.BackoffMax
	}
	return &fetch.Client{
		HTTPClient:        newSiteHTTPClient(cfg.MaxConcurrent),
		Headers:           headers,
		MaxAttempts:       cfg.MaxAttempts,
		PerRequestTimeout: cfg.FetchTimeout,
		Backoff:           b,
		MaxConcurrent:     cfg.MaxConcurrent,
	}
}

// NewSearcher assembles fetcher, extractor and detector into a Searcher.
func NewSearcher(cfg Config) (*search.Searcher, error) {
	e, err := extract.New(cfg.BaseURL, extract.Options{Selectors: cfg.Selectors})
	if err != nil {
		return nil, err
	}
	d, err := detect.New(cfg.BaseURL, detect.Options{AttachmentPattern: cfg.AttachmentPattern})
	if err != nil {
		return nil, err
	}
	return search.New(search.Config{
		BaseURL:       cfg.BaseURL,
		QueryTemplate: cfg.QueryTemplate,
		MaxResults:    cfg.MaxResults,
		Timeout:       cfg.SearchTimeout,
	}, NewFetcher(cfg), e, d)
}

// New validates cfg and builds every component. No connection is made.
func New(cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	s, err := NewSearcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("init searcher: %w", err)
	}
	a := &App{cfg: cfg, searcher: s}

	var transport bot.Transport = logTransport{}
	if !cfg.Offline {
		a.session, err = bot.NewDiscordSession(cfg.DiscordToken)
		if err != nil {
			return nil, err
		}
		transport = bot.NewDiscordTransport(a.session)
	}
	a.bot, err = bot.New(cfg.Prefix, s, transport)
	if err != nil {
		return nil, err
	}
	a.health = health.NewServer(cfg.HealthAddr, a.bot)
	return a, nil
}

// Searcher exposes the configured searcher.
func (a *App) Searcher() *search.Searcher { return a.searcher }

// Bot exposes the command dispatcher.
func (a *App) Bot() *bot.Bot { return a.bot }

// Run serves until ctx is cancelled or a component fails; either way both
// components are stopped before it returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.health.Run(ctx); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	if a.session != nil {
		g.Go(func() error {
			return a.bot.RunDiscord(ctx, a.session)
		})
	} else {
		log.Warn().Msg("offline mode: not connecting to discord")
	}
	log.Info().Str("version", VersionString()).Str("health", a.cfg.HealthAddr).Str("site", a.cfg.BaseURL).Msg("foibot started")
	return g.Wait()
}

// logTransport stands in for the chat platform in offline mode.
type logTransport struct{}

func (logTransport) Send(_ context.Context, channelID string, r bot.Reply) (string, error) {
	log.Info().Str("channel", channelID).Str("content", r.Content).Msg("reply")
	return "offline", nil
}

func (logTransport) Edit(_ context.Context, channelID, messageID string, r bot.Reply) error {
	ev := log.Info().Str("channel", channelID).Str("message", messageID).Str("content", r.Content)
	if r.Embed != nil {
		ev = ev.Str("title", r.Embed.Title).Int("fields", len(r.Embed.Fields))
	}
	ev.Msg("reply edited")
	return nil
}
