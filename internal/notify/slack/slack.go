// Package slack delivers offline notifications and announcement playback
// to a Slack channel via the Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/notify"
)

// maxRetries bounds retries of rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Dispatcher posts to a fixed channel. It implements both
// hub.OfflineDispatcher and notify.Sink.
type Dispatcher struct {
	client  slackClient
	channel string
}

// Opts holds parameters for creating a Dispatcher.
type Opts struct {
	Token   string // xoxb-... bot token
	Channel string // channel ID to post to
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Dispatcher.
func New(opts Opts) (*Dispatcher, error) {
	if opts.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("slack: token is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.Token)
	}
	return &Dispatcher{client: client, channel: opts.Channel}, nil
}

// Dispatch implements hub.OfflineDispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, n hub.Notification) error {
	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Body)
	if n.DeepLink != "" {
		text += "\n" + n.DeepLink
	}
	return d.post(ctx, text)
}

// Emit implements notify.Sink for announcement playback.
func (d *Dispatcher) Emit(ctx context.Context, a notify.Announcement) error {
	return d.post(ctx, fmt.Sprintf("[%s] *%s*: %s", a.Type, a.Agent, a.Body))
}

// post sends one message, retrying rate limits with the server-suggested
// delay.
func (d *Dispatcher) post(ctx context.Context, text string) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, _, err := d.client.PostMessageContext(ctx, d.channel,
			slackapi.MsgOptionText(text, false),
			slackapi.MsgOptionDisableLinkUnfurl(),
		)
		if err == nil {
			return nil
		}
		lastErr = err

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			break
		}
		select {
		case <-time.After(rle.RetryAfter):
		case <-ctx.Done():
			return fmt.Errorf("slack: post: %w", ctx.Err())
		}
	}
	return fmt.Errorf("slack: post: %w", lastErr)
}
