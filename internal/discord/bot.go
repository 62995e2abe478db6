package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// commandTimeout stays under the interaction acknowledgement window.
const commandTimeout = 2500 * time.Millisecond

type Bot struct {
	session *discordgo.Session
	router  *Router
	guildID string
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBot(token, guildID string, router *Router, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{session: session, router: router, guildID: guildID, log: logger}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	return b, nil
}

func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Open connects the gateway. Command handling stops when ctx is cancelled
// or Close is called.
func (b *Bot) Open(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	if err := b.session.Open(); err != nil {
		b.cancel()
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return b.session.Close()
}

// SetPresence shows status as the bot's custom activity.
func (b *Bot) SetPresence(status string) error {
	return b.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{{
			Name:  "customstatus",
			Type:  discordgo.ActivityTypeCustom,
			State: status,
		}},
		Status: string(discordgo.StatusOnline),
	})
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))
	registered, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.guildID, Commands())
	if err != nil {
		b.log.Error("register slash commands failed", "err", err)
		return
	}
	b.log.Info("slash commands registered", "count", len(registered), "guild", b.guildID)
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	cmd, ok := CommandFromInteraction(i)
	if !ok {
		return
	}
	base := b.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, commandTimeout)
	defer cancel()

	data := b.router.Dispatch(ctx, cmd)
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.log.Error("interaction reply failed", "command", cmd.Name, "user", cmd.UserID, "err", err)
	}
}
