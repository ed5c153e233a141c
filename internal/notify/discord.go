package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/junction/internal/integrate"
)

// discordSession abstracts the discordgo methods we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts reports to a channel as an embed.
type Discord struct {
	sess    discordSession
	channel string
}

// NewDiscord creates a Discord sink using a bot token. Only the REST API is
// used; no gateway connection is opened.
func NewDiscord(token, channel string) (*Discord, error) {
	if channel == "" {
		return nil, fmt.Errorf("notify: discord channel is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &Discord{sess: s, channel: channel}, nil
}

// Name implements Sink.
func (d *Discord) Name() string { return "discord" }

// Send implements Sink.
func (d *Discord) Send(ctx context.Context, r *integrate.Report) error {
	embed := &discordgo.MessageEmbed{
		Title:       Title(r),
		Description: Body(r),
		Color:       colorInt(Color(r)),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Consensus", Value: r.ConsensusBucket, Inline: true},
			{Name: "Conflicts", Value: fmt.Sprint(len(r.Conflicts)), Inline: true},
			{Name: "Missing roles", Value: fmt.Sprint(len(r.MissingRoles)), Inline: true},
		},
	}
	_, err := d.sess.ChannelMessageSendEmbed(d.channel, embed, discordgo.WithContext(ctx))
	return err
}
