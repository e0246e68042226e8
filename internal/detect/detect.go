package detect

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hyperifyio/foibot/internal/extract"
)

// DefaultAttachmentPattern matches the site's response attachment links,
// e.g. /request/123/response/1041/attach/2/minutes.pdf.
const DefaultAttachmentPattern = `(?i)/response/\d+/attach/\d+/[^/]+$`

const maxNameRunes = 100

// Confidence names the heuristic that produced an attachment.
type Confidence int

const (
	DirectExtension Confidence = iota + 1
	AttachmentPath
	Contextual
)

func (c Confidence) String() string {
	switch c {
	case DirectExtension:
		return "DIRECT_EXTENSION"
	case AttachmentPath:
		return "ATTACHMENT_PATH"
	case Contextual:
		return "CONTEXTUAL"
	default:
		return fmt.Sprintf("Confidence(%d)", int(c))
	}
}

func (c Confidence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Attachment is a downloadable document referenced by a result.
type Attachment struct {
	URL string `json:"url"`
	// Name is the decoded file name from the URL path.
	Name string `json:"name"`
	// SizeLabel is a normalized size such as "240 KB", empty when unknown.
	SizeLabel  string     `json:"size,omitempty"`
	Confidence Confidence `json:"confidence"`
}

// Link is one link of a fragment that survived the HTML-version filter.
type Link struct {
	URL  string
	Path string
	// Anchor is nil when the block link has no anchor in the fragment.
	Anchor *goquery.Selection
}

// Input is what heuristics see: the block and its candidate links, the block
// link first and the rest in document order.
type Input struct {
	Block extract.Block
	Links []Link
}

// Heuristic pairs a confidence tag with a pure matcher.
type Heuristic struct {
	Confidence Confidence
	Match      func(in *Input) (Link, bool)
}

// Options configures a Detector. Zero values select the defaults.
type Options struct {
	AttachmentPattern string
}

// Detector decides whether a result fragment carries a downloadable
// document. It reads only the fragment and is safe for concurrent use.
type Detector struct {
	base       *url.URL
	attach     *regexp.Regexp
	heuristics []Heuristic
}

// New builds a Detector resolving relative links against baseURL.
func New(baseURL string, opts Options) (*Detector, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("detect: base url must be absolute: %q", baseURL)
	}
	pattern := opts.AttachmentPattern
	if pattern == "" {
		pattern = DefaultAttachmentPattern
	}
	attach, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("detect: attachment pattern: %w", err)
	}
	d := &Detector{base: base, attach: attach}
	d.heuristics = []Heuristic{
		{Confidence: DirectExtension, Match: d.matchDirectExtension},
		{Confidence: AttachmentPath, Match: d.matchAttachmentPath},
		{Confidence: Contextual, Match: matchContextual},
	}
	return d, nil
}

// Heuristics returns the chain in evaluation order.
func (d *Detector) Heuristics() []Heuristic {
	return append([]Heuristic(nil), d.heuristics...)
}

// Detect runs the heuristic chain over the block; the first match wins.
// It returns nil when no heuristic matches.
func (d *Detector) Detect(b extract.Block) *Attachment {
	in := &Input{Block: b, Links: d.candidates(b)}
	if len(in.Links) == 0 {
		return nil
	}
	for _, h := range d.heuristics {
		c, ok := h.Match(in)
		if !ok {
			continue
		}
		return &Attachment{
			URL:        c.URL,
			Name:       fileName(c.Path),
			SizeLabel:  sizeNear(b.Fragment, c.Anchor),
			Confidence: h.Confidence,
		}
	}
	return nil
}

// candidates collects the block link and every fragment link, deduplicated by
// URL, then drops HTML renderings.
func (d *Detector) candidates(b extract.Block) []Link {
	var (
		all  []Link
		seen = map[string]bool{}
	)
	add := func(href string, anchor *goquery.Selection) {
		abs, ok := extract.ResolveURL(d.base, href)
		if !ok || seen[abs] {
			return
		}
		u, err := url.Parse(abs)
		if err != nil {
			return
		}
		seen[abs] = true
		all = append(all, Link{URL: abs, Path: u.Path, Anchor: anchor})
	}

	var anchors *goquery.Selection
	if b.Fragment != nil {
		anchors = b.Fragment.Find("a[href]")
	}
	if b.LinkURL != "" {
		add(b.LinkURL, anchorFor(d.base, anchors, b.LinkURL))
	}
	if anchors != nil {
		anchors.Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			add(href, a)
		})
	}
	return filterHTMLVersions(all)
}

// anchorFor finds the fragment anchor pointing at target, if any.
func anchorFor(base *url.URL, anchors *goquery.Selection, target string) *goquery.Selection {
	if anchors == nil {
		return nil
	}
	found := anchors.FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		abs, ok := extract.ResolveURL(base, href)
		return ok && abs == target
	}).First()
	if found.Length() == 0 {
		return nil
	}
	return found
}

// filterHTMLVersions removes links to HTML renderings of documents: paths
// under /html/, .html/.htm files, and extensionless links when the fragment
// also has a .pdf link.
func filterHTMLVersions(all []Link) []Link {
	hasPDF := false
	for _, c := range all {
		if isHTMLRendering(c.Path) {
			continue
		}
		if hasPDFExtension(c.Path) {
			hasPDF = true
			break
		}
	}
	out := make([]Link, 0, len(all))
	for _, c := range all {
		if isHTMLRendering(c.Path) {
			continue
		}
		if hasPDF && path.Ext(c.Path) == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isHTMLRendering(p string) bool {
	lp := strings.ToLower(p)
	if strings.Contains(lp, "/html/") {
		return true
	}
	ext := path.Ext(lp)
	return ext == ".html" || ext == ".htm"
}

func hasPDFExtension(p string) bool {
	return strings.EqualFold(path.Ext(p), ".pdf")
}

func (d *Detector) matchDirectExtension(in *Input) (Link, bool) {
	for _, c := range in.Links {
		if hasPDFExtension(c.Path) && !d.attach.MatchString(c.Path) {
			return c, true
		}
	}
	return Link{}, false
}

func (d *Detector) matchAttachmentPath(in *Input) (Link, bool) {
	// Several attachment links: first in document order wins
	for _, c := range in.Links {
		if d.attach.MatchString(c.Path) {
			return c, true
		}
	}
	return Link{}, false
}

var fileTypeCue = regexp.MustCompile(`(?i)\bpdf\b`)

// matchContextual accepts a "Download" link to a .pdf, or a link whose
// surrounding text (outside the anchor) names a PDF or a file size. The
// block's own title link only qualifies when it points at a .pdf.
func matchContextual(in *Input) (Link, bool) {
	for _, c := range in.Links {
		if c.Anchor == nil {
			continue
		}
		if c.URL == in.Block.LinkURL && !hasPDFExtension(c.Path) {
			continue
		}
		text := c.Anchor.Text()
		if title, ok := c.Anchor.Attr("title"); ok {
			text += " " + title
		}
		if strings.Contains(strings.ToLower(text), "download") && strings.Contains(strings.ToLower(c.URL), ".pdf") {
			return c, true
		}
		around := surroundingText(c.Anchor)
		if fileTypeCue.MatchString(around) || sizePattern.MatchString(around) {
			return c, true
		}
	}
	return Link{}, false
}

// surroundingText is the text of the anchor's parent without the anchor.
func surroundingText(a *goquery.Selection) string {
	self := a.Get(0)
	var b strings.Builder
	a.Parent().Contents().Each(func(_ int, s *goquery.Selection) {
		if s.Get(0) == self {
			return
		}
		b.WriteString(s.Text())
		b.WriteByte(' ')
	})
	return b.String()
}

// fileName returns the last path segment, capped in length.
func fileName(p string) string {
	name := strings.TrimSpace(path.Base(p))
	if name == "" || name == "/" || name == "." {
		return "document.pdf"
	}
	runes := []rune(name)
	if len(runes) > maxNameRunes {
		name = string(runes[:maxNameRunes])
	}
	return name
}
