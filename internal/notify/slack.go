package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/junction/internal/integrate"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts reports to a channel.
type Slack struct {
	client  slackClient
	channel string
}

// NewSlack creates a Slack sink using a bot token.
func NewSlack(token, channel string) (*Slack, error) {
	if channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	return &Slack{client: slackapi.New(token), channel: channel}, nil
}

// Name implements Sink.
func (s *Slack) Name() string { return "slack" }

// Send implements Sink.
func (s *Slack) Send(ctx context.Context, r *integrate.Report) error {
	att := slackapi.Attachment{
		Color:    Color(r),
		Title:    Title(r),
		Text:     Body(r),
		Fallback: Title(r),
	}
	return retryRateLimit(ctx, func() error {
		_, _, err := s.client.PostMessageContext(ctx, s.channel,
			slackapi.MsgOptionText(Title(r), false),
			slackapi.MsgOptionAttachments(att))
		return err
	})
}

// retryRateLimit retries fn while Slack reports rate limiting.
func retryRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
