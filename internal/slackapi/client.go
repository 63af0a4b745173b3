// Package slackapi is the capability client: five Slack Web API operations
// reshaped into Result values. No method returns a Go error; upstream
// failures are converted into a Failure at this boundary.
package slackapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/slackbridge/storage"
	"github.com/rusq/slack"
)

//go:generate mockgen -destination mock_slackapi/mock_slackapi.go . Slacker

// Slacker is the subset of *slack.Client the capability client uses.
type Slacker interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	SearchMessagesContext(ctx context.Context, query string, params slack.SearchParameters) (*slack.SearchMessages, error)
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

var _ Slacker = (*slack.Client)(nil)

// Messenger is what the REST handlers and tools depend on.
type Messenger interface {
	SendMessage(ctx context.Context, channel, text string) Result[Sent]
	GetChannelHistory(ctx context.Context, channelID string, limit int, cursor string) Result[History]
	SearchMessages(ctx context.Context, query string, count int) Result[Search]
	SearchUsers(ctx context.Context, query string) Result[Users]
	OpenDM(ctx context.Context, userID string) Result[DM]
}

const (
	// DefaultHistoryLimit applies when the caller passes a non-positive limit.
	DefaultHistoryLimit = 20
	// DefaultSearchCount applies when the caller passes a non-positive count.
	DefaultSearchCount = 20
	// DefaultTimeout bounds each upstream call.
	DefaultTimeout = 30 * time.Second
)

// Client implements Messenger on top of a Slacker. It is safe for concurrent
// use and never mutated after construction.
type Client struct {
	api     Slacker
	timeout time.Duration
	log     *slog.Logger

	users   storage.Storage
	userTTL time.Duration
}

var _ Messenger = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every upstream call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithUserCache caches the workspace directory used by SearchUsers in s for
// ttl. A nil store or non-positive ttl disables caching.
func WithUserCache(s storage.Storage, ttl time.Duration) Option {
	return func(c *Client) {
		c.users = s
		c.userTTL = ttl
	}
}

// New returns a Client bound to api.
func New(api Slacker, opts ...Option) *Client {
	c := &Client{
		api:     api,
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// SendMessage posts text to channel.
func (c *Client) SendMessage(ctx context.Context, channel, text string) Result[Sent] {
	cctx, cancel := c.callContext(ctx)
	defer cancel()

	respChannel, ts, err := c.api.PostMessageContext(cctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		res := classify[Sent](ctx, cctx, err)
		c.logFailure(ctx, "chat.postMessage", res.Failure())
		return res
	}
	return OK(Sent{OK: true, TS: ts, Channel: respChannel})
}

// GetChannelHistory returns one page of messages in channelID.
func (c *Client) GetChannelHistory(ctx context.Context, channelID string, limit int, cursor string) Result[History] {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	cctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.GetConversationHistoryContext(cctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		res := classify[History](ctx, cctx, err)
		c.logFailure(ctx, "conversations.history", res.Failure())
		return res
	}

	out := History{
		OK:         true,
		Messages:   make([]Message, 0, len(resp.Messages)),
		NextCursor: resp.ResponseMetaData.NextCursor,
		HasMore:    resp.HasMore,
	}
	for _, m := range resp.Messages {
		out.Messages = append(out.Messages, Message{
			Type:       m.Type,
			User:       m.User,
			BotID:      m.BotID,
			Text:       m.Text,
			TS:         m.Timestamp,
			ThreadTS:   m.ThreadTimestamp,
			ReplyCount: m.ReplyCount,
		})
	}
	return OK(out)
}

// SearchMessages runs a workspace message search, newest first.
func (c *Client) SearchMessages(ctx context.Context, query string, count int) Result[Search] {
	if count <= 0 {
		count = DefaultSearchCount
	}

	cctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.SearchMessagesContext(cctx, query, slack.SearchParameters{
		Sort:          "timestamp",
		SortDirection: "desc",
		Count:         count,
		Page:          1,
	})
	if err != nil {
		res := classify[Search](ctx, cctx, err)
		c.logFailure(ctx, "search.messages", res.Failure())
		return res
	}

	out := Search{
		OK: true,
		Messages: Matches{
			Matches: make([]Match, 0, len(resp.Matches)),
			Total:   resp.Total,
		},
	}
	for _, m := range resp.Matches {
		out.Messages.Matches = append(out.Messages.Matches, Match{
			TS:          m.Timestamp,
			Text:        m.Text,
			User:        m.User,
			Username:    m.Username,
			ChannelID:   m.Channel.ID,
			ChannelName: m.Channel.Name,
			Permalink:   m.Permalink,
		})
	}
	return OK(out)
}

// OpenDM opens (or reuses) a direct message channel with userID.
func (c *Client) OpenDM(ctx context.Context, userID string) Result[DM] {
	cctx, cancel := c.callContext(ctx)
	defer cancel()

	ch, _, _, err := c.api.OpenConversationContext(cctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		res := classify[DM](ctx, cctx, err)
		c.logFailure(ctx, "conversations.open", res.Failure())
		return res
	}
	return OK(DM{OK: true, Channel: ch.ID})
}

func (c *Client) logFailure(ctx context.Context, method string, f *Failure) {
	c.log.WarnContext(ctx, "slackapi.call.fail",
		slog.String("api_method", method),
		slog.String("code", f.Code),
		slog.String("detail", f.Detail),
	)
}
