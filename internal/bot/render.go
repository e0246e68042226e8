package bot

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hyperifyio/foibot/internal/detect"
	"github.com/hyperifyio/foibot/internal/fetch"
	"github.com/hyperifyio/foibot/internal/search"
)

// Limits imposed by the chat platform on embeds.
const (
	maxTitleRunes       = 256
	maxDescriptionRunes = 4096
	maxFieldRunes       = 1024
	maxAttachmentLines  = 3
	maxLinkNameRunes    = 40
	maxOtherResults     = 5
)

const (
	embedColor  = 0x3498db
	embedFooter = "Source: WhatDoTheyKnow.com"
)

// Field is one named block inside an Embed.
type Field struct {
	Name  string
	Value string
}

// Embed is a platform-neutral rich reply.
type Embed struct {
	Title       string
	URL         string
	Description string
	Color       int
	Footer      string
	Fields      []Field
}

// Reply is a message to post or an edit to apply.
type Reply struct {
	Content string
	Embed   *Embed
}

func searchingReply(query string) Reply {
	return Reply{Content: fmt.Sprintf("Searching whatdotheyknow.com for: **%s**", query)}
}

// RenderOutcome turns a successful search into a reply. The top result fills
// the embed; the attachments of all results are listed beneath it.
func RenderOutcome(out search.Outcome) Reply {
	if out.NoMatches() {
		return Reply{Content: fmt.Sprintf("No results found on WhatDoTheyKnow for **%s**. Try different keywords.", out.Query)}
	}
	top := out.Results[0]
	e := &Embed{
		Title:       truncate(top.Title, maxTitleRunes),
		URL:         top.PageURL,
		Description: truncate(top.Snippet, maxDescriptionRunes),
		Color:       embedColor,
		Footer:      embedFooter,
	}
	e.Fields = append(e.Fields, Field{Name: "Link", Value: fmt.Sprintf("[View full request](%s)", top.PageURL)})

	var atts []*detect.Attachment
	for _, r := range out.Results {
		if r.Attachment != nil {
			atts = append(atts, r.Attachment)
		}
	}
	if len(atts) > 0 {
		shown := atts
		if len(shown) > maxAttachmentLines {
			shown = shown[:maxAttachmentLines]
		}
		var info, links []string
		for _, a := range shown {
			size := a.SizeLabel
			if size == "" {
				size = "size unknown"
			}
			info = append(info, fmt.Sprintf("**%s** (%s)", a.Name, size))
			links = append(links, fmt.Sprintf("[%s](%s)", truncate(a.Name, maxLinkNameRunes), a.URL))
		}
		e.Fields = append(e.Fields,
			Field{Name: "Available PDFs", Value: joinField(info)},
			Field{Name: "Direct Download Links", Value: joinField(links)},
		)
		if len(atts) > maxAttachmentLines {
			e.Fields = append(e.Fields, Field{Name: "Note", Value: fmt.Sprintf("Showing first %d of %d documents found.", maxAttachmentLines, len(atts))})
		}
	}

	if len(out.Results) > 1 {
		var more []string
		for i, r := range out.Results[1:] {
			if i == maxOtherResults {
				break
			}
			more = append(more, fmt.Sprintf("[%s](%s)", truncate(r.Title, maxLinkNameRunes*2), r.PageURL))
		}
		e.Fields = append(e.Fields, Field{Name: "More results", Value: joinField(more)})
	}
	if out.Degraded {
		e.Fields = append(e.Fields, Field{Name: "Note", Value: "The results page looked unusual; some results may be missing."})
	}
	return Reply{Content: fmt.Sprintf("**Search Results for:** %s", out.Query), Embed: e}
}

// RenderError maps a search failure to a user-facing message. prefix is the
// command prefix shown in usage hints.
func RenderError(prefix, query string, err error) Reply {
	var ferr *fetch.Error
	switch {
	case errors.Is(err, search.ErrInvalidQuery):
		return Reply{Content: fmt.Sprintf("Please provide search keywords. Usage: `%ssearch <keywords>`", prefix)}
	case errors.Is(err, search.ErrTimeout):
		return Reply{Content: fmt.Sprintf("Search for **%s** timed out. WhatDoTheyKnow may be slow; please try again later.", query)}
	case errors.As(err, &ferr) && ferr.Status == http.StatusServiceUnavailable:
		return Reply{Content: "WhatDoTheyKnow is under heavy load right now. Please try again in a few minutes."}
	case errors.As(err, &ferr) && ferr.Status == http.StatusTooManyRequests:
		return Reply{Content: "WhatDoTheyKnow is rate limiting requests. Please wait a minute before searching again."}
	default:
		return Reply{Content: fmt.Sprintf("Search for **%s** failed: could not retrieve results from WhatDoTheyKnow.", query)}
	}
}

// HelpReply lists the commands for the given prefix.
func HelpReply(prefix string) Reply {
	var b strings.Builder
	b.WriteString("**WhatDoTheyKnow search bot**\n\n")
	b.WriteString("**Commands:**\n")
	fmt.Fprintf(&b, "- `%ssearch <keywords>` searches whatdotheyknow.com for FOI requests\n", prefix)
	fmt.Fprintf(&b, "- `%shelp_bot` shows this message\n\n", prefix)
	b.WriteString("Results link to the request page and any PDF documents found in the responses.\n\n")
	b.WriteString("**Examples:**\n")
	fmt.Fprintf(&b, "- `%ssearch police corruption`\n", prefix)
	fmt.Fprintf(&b, "- `%ssearch government contracts covid`\n", prefix)
	return Reply{Content: b.String()}
}

// joinField joins lines and keeps the result under the field limit.
func joinField(lines []string) string {
	return truncate(strings.Join(lines, "\n"), maxFieldRunes)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
