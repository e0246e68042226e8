// Package bot is the chat front end: it parses prefix commands, runs
// searches and renders the outcome as replies on a Transport.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/foibot/internal/search"
)

// DefaultPrefix starts every command.
const DefaultPrefix = "!"

const (
	cmdSearch = "search"
	cmdHelp   = "help_bot"
)

// Message is an incoming chat message.
type Message struct {
	ChannelID string
	AuthorID  string
	Content   string
	// FromBot is set for messages written by bots, this one included.
	FromBot bool
}

// Command is a parsed prefix command.
type Command struct {
	Name string
	Args string
}

// ParseCommand splits content into a command and its arguments. It reports
// false when content does not start with prefix or names no command.
func ParseCommand(prefix, content string) (Command, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	rest := strings.TrimPrefix(content, prefix)
	name, args := rest, ""
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, args = rest[:i], rest[i:]
	}
	if name == "" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// Transport posts and edits replies on the chat platform.
type Transport interface {
	Send(ctx context.Context, channelID string, r Reply) (messageID string, err error)
	Edit(ctx context.Context, channelID, messageID string, r Reply) error
}

// Searcher runs one search. *search.Searcher satisfies it.
type Searcher interface {
	Search(ctx context.Context, keywords string) (search.Outcome, error)
}

// Bot dispatches commands. It is safe for concurrent use; each message is
// handled independently.
type Bot struct {
	prefix    string
	searcher  Searcher
	transport Transport
	connected atomic.Bool
}

// New creates a Bot. An empty prefix selects DefaultPrefix.
func New(prefix string, s Searcher, t Transport) (*Bot, error) {
	if s == nil || t == nil {
		return nil, errors.New("bot: searcher and transport are required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bot{prefix: prefix, searcher: s, transport: t}, nil
}

// Connected reports whether the transport currently holds a session.
func (b *Bot) Connected() bool { return b.connected.Load() }

// SetConnected records a transport connect or disconnect event.
func (b *Bot) SetConnected(v bool) {
	if b.connected.Swap(v) != v {
		log.Info().Bool("connected", v).Msg("bot connection state changed")
	}
}

// Handle processes one message. Messages from bots and unknown commands are
// ignored. Search failures are rendered to the channel, not returned; only
// transport errors are returned.
func (b *Bot) Handle(ctx context.Context, m Message) error {
	if m.FromBot {
		return nil
	}
	cmd, ok := ParseCommand(b.prefix, m.Content)
	if !ok {
		return nil
	}
	switch cmd.Name {
	case cmdSearch:
		return b.handleSearch(ctx, m.ChannelID, cmd.Args)
	case cmdHelp:
		_, err := b.transport.Send(ctx, m.ChannelID, HelpReply(b.prefix))
		return err
	default:
		log.Debug().Str("command", cmd.Name).Msg("ignoring unknown command")
		return nil
	}
}

func (b *Bot) handleSearch(ctx context.Context, channelID, query string) error {
	if query == "" {
		_, err := b.transport.Send(ctx, channelID, RenderError(b.prefix, query, search.ErrInvalidQuery))
		return err
	}
	msgID, err := b.transport.Send(ctx, channelID, searchingReply(query))
	if err != nil {
		return err
	}

	out, err := b.searcher.Search(ctx, query)
	var reply Reply
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("search failed")
		reply = RenderError(b.prefix, query, err)
	} else {
		reply = RenderOutcome(out)
	}
	return b.transport.Edit(ctx, channelID, msgID, reply)
}
