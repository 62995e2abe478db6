package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"stockbot/internal/events"
)

// EmbedSender is satisfied by *discordgo.Session.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts significant price changes and drift summaries. A blank
// channel ID disables that kind of notification.
type Notifier struct {
	sender         EmbedSender
	alertChannelID string
	driftChannelID string
	log            *slog.Logger
}

func NewNotifier(sender EmbedSender, alertChannelID, driftChannelID string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender:         sender,
		alertChannelID: alertChannelID,
		driftChannelID: driftChannelID,
		log:            logger,
	}
}

func (n *Notifier) Handle(ctx context.Context, ev events.Event) error {
	switch ev := ev.(type) {
	case events.PriceChanged:
		return n.send(ctx, n.alertChannelID, priceAlertEmbed(ev))
	case events.DriftApplied:
		var errs []error
		for _, embed := range driftEmbeds(ev) {
			if err := n.send(ctx, n.driftChannelID, embed); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	if channelID == "" {
		return nil
	}
	if _, err := n.sender.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send %q to channel %s: %w", embed.Title, channelID, err)
	}
	n.log.Debug("notification sent", "channel", channelID, "title", embed.Title)
	return nil
}
