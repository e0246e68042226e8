package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/foibot/internal/app"
	"github.com/hyperifyio/foibot/internal/search"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		file    string
		baseURL string
		asJSON  bool
		verbose bool
	)
	flag.StringVar(&file, "file", "", "Parse a saved results page instead of fetching")
	flag.StringVar(&baseURL, "site.url", "", "Search site base URL")
	flag.BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	q := strings.Join(flag.Args(), " ")
	if q == "" {
		q = "council minutes"
	}

	cfg := app.DefaultConfig()
	cfg.Offline = true
	if err := app.ApplyEnvOverrides(&cfg); err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.SearchFile = file

	s, err := app.NewSearcher(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init searcher")
	}
	out, err := s.Search(context.Background(), q)
	if err != nil {
		log.Error().Err(err).Str("query", q).Msg("search failed")
		os.Exit(1)
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	printOutcome(os.Stdout, out)
}

func printOutcome(w io.Writer, out search.Outcome) {
	fmt.Fprintf(w, "query: %s\nurl:   %s\n", out.Query, out.URL)
	if out.Degraded {
		fmt.Fprintln(w, "note:  page parsed with fallbacks; results may be partial")
	}
	if out.NoMatches() {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range out.Results {
		fmt.Fprintf(w, "%d. %s\n   %s\n", i+1, r.Title, r.PageURL)
		if r.Snippet != "" {
			fmt.Fprintf(w, "   %s\n", r.Snippet)
		}
		if a := r.Attachment; a != nil {
			size := a.SizeLabel
			if size == "" {
				size = "size unknown"
			}
			fmt.Fprintf(w, "   [%s] %s (%s) %s\n", a.Confidence, a.Name, size, a.URL)
		}
	}
	if out.Truncated {
		fmt.Fprintln(w, "(more results on the site)")
	}
}
