package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/foibot/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, showVersion, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Error().Err(err).Msg("configuration")
		os.Exit(2)
	}
	if showVersion {
		fmt.Println(app.VersionString())
		return
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
	log.Info().Msg("shut down")
}

func run(ctx context.Context, cfg app.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	return a.Run(ctx)
}

// parseConfig builds the configuration from defaults, the config file, the
// environment (seeded from dotenv files) and finally explicitly set flags.
func parseConfig(args []string) (app.Config, bool, error) {
	def := app.DefaultConfig()
	fs := flag.NewFlagSet("foibot", flag.ContinueOnError)

	var (
		configPath  string
		envFiles    string
		showVersion bool
		flagged     = def
	)
	fs.StringVar(&configPath, "config", os.Getenv("FOIBOT_CONFIG"), "Path to YAML or JSON config file")
	fs.StringVar(&envFiles, "env", ".env", "Comma-separated dotenv files loaded before reading the environment")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.StringVar(&flagged.DiscordToken, "discord.token", "", "Discord bot token (prefer DISCORD_BOT_TOKEN)")
	fs.StringVar(&flagged.Prefix, "prefix", def.Prefix, "Command prefix")
	fs.StringVar(&flagged.HealthAddr, "health.addr", def.HealthAddr, "Liveness endpoint listen address")
	fs.StringVar(&flagged.BaseURL, "site.url", def.BaseURL, "Search site base URL")
	fs.StringVar(&flagged.QueryTemplate, "site.queryTemplate", def.QueryTemplate, "Search path template containing {query}")
	fs.IntVar(&flagged.MaxAttempts, "fetch.maxAttempts", def.MaxAttempts, "Fetch attempts per search, including the first")
	fs.DurationVar(&flagged.FetchTimeout, "fetch.timeout", def.FetchTimeout, "Timeout for each fetch attempt")
	fs.IntVar(&flagged.MaxConcurrent, "fetch.maxConcurrent", def.MaxConcurrent, "Concurrent requests to the site (0 = unlimited)")
	fs.IntVar(&flagged.MaxResults, "search.maxResults", def.MaxResults, "Maximum results per search")
	fs.DurationVar(&flagged.SearchTimeout, "search.timeout", def.SearchTimeout, "Deadline for one search including retries (0 disables)")
	fs.StringVar(&flagged.SearchFile, "search.file", "", "Serve searches from a saved results page instead of the site")
	fs.BoolVar(&flagged.Offline, "offline", false, "Do not connect to Discord; run the liveness endpoint only")
	fs.BoolVar(&flagged.Verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return app.Config{}, false, err
	}
	if showVersion {
		return app.Config{}, true, nil
	}

	if err := app.LoadEnvFiles(strings.Split(envFiles, ",")...); err != nil {
		return app.Config{}, false, fmt.Errorf("load env files: %w", err)
	}

	cfg := def
	if strings.TrimSpace(configPath) != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return app.Config{}, false, fmt.Errorf("load config file: %w", err)
		}
		if err := app.ApplyFileConfig(&cfg, fc); err != nil {
			return app.Config{}, false, err
		}
	}
	if err := app.ApplyEnvOverrides(&cfg); err != nil {
		return app.Config{}, false, err
	}

	// Flags given on the command line win over everything else
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "discord.token":
			cfg.DiscordToken = flagged.DiscordToken
		case "prefix":
			cfg.Prefix = flagged.Prefix
		case "health.addr":
			cfg.HealthAddr = flagged.HealthAddr
		case "site.url":
			cfg.BaseURL = flagged.BaseURL
		case "site.queryTemplate":
			cfg.QueryTemplate = flagged.QueryTemplate
		case "fetch.maxAttempts":
			cfg.MaxAttempts = flagged.MaxAttempts
		case "fetch.timeout":
			cfg.FetchTimeout = flagged.FetchTimeout
		case "fetch.maxConcurrent":
			cfg.MaxConcurrent = flagged.MaxConcurrent
		case "search.maxResults":
			cfg.MaxResults = flagged.MaxResults
		case "search.timeout":
			cfg.SearchTimeout = flagged.SearchTimeout
		case "search.file":
			cfg.SearchFile = flagged.SearchFile
		case "offline":
			cfg.Offline = flagged.Offline
		case "v":
			cfg.Verbose = flagged.Verbose
		}
	})
	return cfg, false, nil
}
