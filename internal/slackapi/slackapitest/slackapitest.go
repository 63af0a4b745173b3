// Package slackapitest provides a scripted slackapi.Messenger for handler
// and engine tests.
package slackapitest

import (
	"context"
	"sync"

	"github.com/ggoodman/slackbridge/internal/slackapi"
)

// Call records one invocation.
type Call struct {
	Op   string
	Args []any
}

// Fake is a slackapi.Messenger whose behavior is set per operation. Unset
// operations succeed with a plausible canned value.
type Fake struct {
	SendMessageFn       func(ctx context.Context, channel, text string) slackapi.Result[slackapi.Sent]
	GetChannelHistoryFn func(ctx context.Context, channelID string, limit int, cursor string) slackapi.Result[slackapi.History]
	SearchMessagesFn    func(ctx context.Context, query string, count int) slackapi.Result[slackapi.Search]
	SearchUsersFn       func(ctx context.Context, query string) slackapi.Result[slackapi.Users]
	OpenDMFn            func(ctx context.Context, userID string) slackapi.Result[slackapi.DM]

	mu    sync.Mutex
	calls []Call
}

var _ slackapi.Messenger = (*Fake)(nil)

func (f *Fake) record(op string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Args: args})
	f.mu.Unlock()
}

// Calls returns a snapshot of recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns the number of recorded invocations.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Fake) SendMessage(ctx context.Context, channel, text string) slackapi.Result[slackapi.Sent] {
	f.record("SendMessage", channel, text)
	if f.SendMessageFn != nil {
		return f.SendMessageFn(ctx, channel, text)
	}
	return slackapi.OK(slackapi.Sent{OK: true, TS: "1.0", Channel: channel})
}

func (f *Fake) GetChannelHistory(ctx context.Context, channelID string, limit int, cursor string) slackapi.Result[slackapi.History] {
	f.record("GetChannelHistory", channelID, limit, cursor)
	if f.GetChannelHistoryFn != nil {
		return f.GetChannelHistoryFn(ctx, channelID, limit, cursor)
	}
	return slackapi.OK(slackapi.History{OK: true, Messages: []slackapi.Message{}})
}

func (f *Fake) SearchMessages(ctx context.Context, query string, count int) slackapi.Result[slackapi.Search] {
	f.record("SearchMessages", query, count)
	if f.SearchMessagesFn != nil {
		return f.SearchMessagesFn(ctx, query, count)
	}
	return slackapi.OK(slackapi.Search{OK: true, Messages: slackapi.Matches{Matches: []slackapi.Match{}}})
}

func (f *Fake) SearchUsers(ctx context.Context, query string) slackapi.Result[slackapi.Users] {
	f.record("SearchUsers", query)
	if f.SearchUsersFn != nil {
		return f.SearchUsersFn(ctx, query)
	}
	return slackapi.OK(slackapi.Users{OK: true, Users: []slackapi.User{}})
}

func (f *Fake) OpenDM(ctx context.Context, userID string) slackapi.Result[slackapi.DM] {
	f.record("OpenDM", userID)
	if f.OpenDMFn != nil {
		return f.OpenDMFn(ctx, userID)
	}
	return slackapi.OK(slackapi.DM{OK: true, Channel: "D" + userID})
}
