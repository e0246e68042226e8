package extract

import (
	"bytes"

	"golang.org/x/net/html"
)

// TreeParser turns markup into a navigable tree. Implementations must not
// fail on malformed HTML; they recover what they can.
type TreeParser interface {
	Parse(markup []byte) (*html.Node, error)
}

// HTMLParser is the HTML5 tokenizer-based parser from golang.org/x/net/html,
// which applies the browser error-recovery rules to broken markup.
type HTMLParser struct{}

func (HTMLParser) Parse(markup []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(markup))
}
