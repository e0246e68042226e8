package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// DefaultMaxSnippetRunes bounds snippet length; longer snippets end in "...".
const DefaultMaxSnippetRunes = 300

// Block is one result fragment found on a search page.
type Block struct {
	Title string
	// LinkURL is the title link resolved against the site base.
	LinkURL string
	Snippet string
	// Fragment is the markup subtree of this result, kept for attachment
	// detection only.
	Fragment *goquery.Selection
}

// Page is the outcome of one extraction pass.
type Page struct {
	// Title is the document <title>.
	Title  string
	Blocks []Block
	// Table names the selector table that produced Blocks.
	Table string
	// Skipped counts fragments dropped for lacking a usable link.
	Skipped int
	// Degraded is set when the page needed a fallback table, fragments were
	// skipped, or the markup could not be parsed at all.
	Degraded bool
}

// Extractor turns search-page markup into ordered result blocks. It is
// read-only after construction and safe for concurrent use.
type Extractor struct {
	parser          TreeParser
	base            *url.URL
	tables          []compiledSelectors
	maxSnippetRunes int
}

// Options configures an Extractor. Zero values select the defaults.
type Options struct {
	Parser          TreeParser
	Selectors       []Selectors
	MaxSnippetRunes int
}

// New builds an Extractor that resolves links against baseURL.
func New(baseURL string, opts Options) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("extract: base url must be absolute: %q", baseURL)
	}
	tables := opts.Selectors
	if len(tables) == 0 {
		tables = DefaultSelectors()
	}
	compiled, err := compileTables(tables)
	if err != nil {
		return nil, err
	}
	e := &Extractor{
		parser:          opts.Parser,
		base:            base,
		tables:          compiled,
		maxSnippetRunes: opts.MaxSnippetRunes,
	}
	if e.parser == nil {
		e.parser = HTMLParser{}
	}
	if e.maxSnippetRunes <= 0 {
		e.maxSnippetRunes = DefaultMaxSnippetRunes
	}
	return e, nil
}

// Base returns the URL relative links are resolved against.
func (e *Extractor) Base() *url.URL {
	u := *e.base
	return &u
}

// Extract parses markup and returns result blocks in document order. The
// first selector table yielding at least one block wins. Extract never fails;
// unparseable input comes back as an empty, degraded page.
func (e *Extractor) Extract(markup []byte) Page {
	root, err := e.parser.Parse(markup)
	if err != nil || root == nil {
		log.Debug().Err(err).Msg("markup could not be parsed")
		return Page{Degraded: true}
	}
	doc := goquery.NewDocumentFromNode(root)
	page := Page{Title: cleanText(doc.Find("title").First().Text())}

	for i, t := range e.tables {
		blocks, skipped := e.extractWith(doc, t)
		if len(blocks) == 0 {
			page.Skipped += skipped
			continue
		}
		page.Blocks = blocks
		page.Table = t.Name
		page.Skipped = skipped
		page.Degraded = i > 0 || skipped > 0
		return page
	}
	page.Degraded = page.Skipped > 0
	return page
}

func (e *Extractor) extractWith(doc *goquery.Document, t compiledSelectors) ([]Block, int) {
	var (
		blocks  []Block
		skipped int
		seen    = map[*html.Node]bool{}
	)
	doc.FindMatcher(t.item).Each(func(_ int, item *goquery.Selection) {
		fragment := item
		if t.container != nil {
			if c := item.ClosestMatcher(t.container); c.Length() > 0 {
				fragment = c
			}
		}
		// One block holding several matching links is emitted once
		node := fragment.Get(0)
		if seen[node] {
			return
		}
		seen[node] = true

		link := item
		if t.title != nil {
			link = fragment.FindMatcher(t.title).First()
		}
		href, ok := link.Attr("href")
		if !ok {
			skipped++
			return
		}
		abs, ok := ResolveURL(e.base, href)
		if !ok {
			skipped++
			return
		}

		var snippet string
		if t.snippet != nil {
			snippet = fragment.FindMatcher(t.snippet).First().Text()
		} else {
			snippet = fragment.Text()
		}
		blocks = append(blocks, Block{
			Title:    cleanText(link.Text()),
			LinkURL:  abs,
			Snippet:  truncateRunes(cleanText(snippet), e.maxSnippetRunes),
			Fragment: fragment,
		})
	})
	return blocks, skipped
}

// ResolveURL makes href absolute against base. Only http(s) targets are
// accepted; empty and fragment-only hrefs are rejected.
func ResolveURL(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	scheme := strings.ToLower(abs.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return abs.String(), true
}
