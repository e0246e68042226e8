package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Selectors is one row of the selector table: how to find result fragments
// on a search page and where their title link and snippet live.
type Selectors struct {
	Name string `yaml:"name" json:"name"`
	// Item matches once per result fragment.
	Item string `yaml:"item" json:"item"`
	// Title locates the title link inside the fragment. Empty means the
	// Item match is itself the link.
	Title string `yaml:"title" json:"title"`
	// Snippet locates the description. Empty means the fragment text.
	Snippet string `yaml:"snippet" json:"snippet"`
	// Container widens an Item match to its closest matching ancestor,
	// which then becomes the fragment.
	Container string `yaml:"container" json:"container"`
}

// DefaultSelectors targets WhatDoTheyKnow request listings first, then falls
// back to any request link inside a block container.
func DefaultSelectors() []Selectors {
	return []Selectors{
		{
			Name:    "request_listing",
			Item:    "div.request_listing",
			Title:   ".head a[href]",
			Snippet: ".desc",
		},
		{
			Name:      "request_link",
			Item:      `a[href*="/request/"]`,
			Container: "li, div, article, section, p",
		},
	}
}

type compiledSelectors struct {
	Selectors
	item      goquery.Matcher
	title     goquery.Matcher
	snippet   goquery.Matcher
	container goquery.Matcher
}

func compileTables(tables []Selectors) ([]compiledSelectors, error) {
	if len(tables) == 0 {
		return nil, errors.New("extract: empty selector table")
	}
	out := make([]compiledSelectors, 0, len(tables))
	for i, t := range tables {
		if strings.TrimSpace(t.Item) == "" {
			return nil, fmt.Errorf("extract: selector table %d (%s): item selector is required", i, t.Name)
		}
		c := compiledSelectors{Selectors: t}
		var err error
		if c.item, err = compileOptional(t.Item); err != nil {
			return nil, fmt.Errorf("extract: table %s item: %w", t.Name, err)
		}
		if c.title, err = compileOptional(t.Title); err != nil {
			return nil, fmt.Errorf("extract: table %s title: %w", t.Name, err)
		}
		if c.snippet, err = compileOptional(t.Snippet); err != nil {
			return nil, fmt.Errorf("extract: table %s snippet: %w", t.Name, err)
		}
		if c.container, err = compileOptional(t.Container); err != nil {
			return nil, fmt.Errorf("extract: table %s container: %w", t.Name, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// compileOptional returns nil for an empty selector.
func compileOptional(sel string) (goquery.Matcher, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return nil, nil
	}
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, err
	}
	return m, nil
}
