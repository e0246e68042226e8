package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// DiscordTransport posts replies through a discordgo session.
type DiscordTransport struct {
	session *discordgo.Session
}

// NewDiscordSession creates a bot session with the intents needed to read
// guild message content.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord: bot token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return s, nil
}

// NewDiscordTransport wraps an existing session.
func NewDiscordTransport(s *discordgo.Session) *DiscordTransport {
	return &DiscordTransport{session: s}
}

func (t *DiscordTransport) Send(ctx context.Context, channelID string, r Reply) (string, error) {
	msg := &discordgo.MessageSend{Content: r.Content}
	if r.Embed != nil {
		msg.Embeds = []*discordgo.MessageEmbed{toDiscordEmbed(r.Embed)}
	}
	m, err := t.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send: %w", err)
	}
	return m.ID, nil
}

func (t *DiscordTransport) Edit(ctx context.Context, channelID, messageID string, r Reply) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(r.Content)
	if r.Embed != nil {
		edit = edit.SetEmbeds([]*discordgo.MessageEmbed{toDiscordEmbed(r.Embed)})
	}
	if _, err := t.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: edit: %w", err)
	}
	return nil
}

func toDiscordEmbed(e *Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		URL:         e.URL,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value})
	}
	return out
}

// RunDiscord connects the bot to the gateway and handles messages until ctx
// is cancelled. The connection flag follows the gateway's ready, resumed and
// disconnect events.
func (b *Bot) RunDiscord(ctx context.Context, s *discordgo.Session) error {
	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.SetConnected(true)
		log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("logged in to discord")
	})
	s.AddHandler(func(*discordgo.Session, *discordgo.Resumed) { b.SetConnected(true) })
	s.AddHandler(func(*discordgo.Session, *discordgo.Disconnect) { b.SetConnected(false) })
	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		msg := Message{
			ChannelID: m.ChannelID,
			AuthorID:  m.Author.ID,
			Content:   m.Content,
			FromBot:   m.Author.Bot || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID),
		}
		if err := b.Handle(ctx, msg); err != nil {
			log.Error().Err(err).Str("channel", m.ChannelID).Msg("handle message")
		}
	})

	if err := s.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	<-ctx.Done()
	b.SetConnected(false)
	if err := s.Close(); err != nil {
		return fmt.Errorf("discord: close: %w", err)
	}
	return nil
}
