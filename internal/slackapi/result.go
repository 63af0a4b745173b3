package slackapi

import "encoding/json"

// Error codes produced by the client itself. Slack's own codes (for example
// "channel_not_found") are passed through unchanged.
const (
	CodeTimeout       = "timeout"
	CodeRateLimited   = "rate_limited"
	CodeUpstreamError = "upstream_error"
	CodeCancelled     = "cancelled"
	// CodeInvalidArguments matches the code Slack uses for malformed calls.
	CodeInvalidArguments = "invalid_arguments"
)

// Failure is the error variant of a Result.
type Failure struct {
	Code   string
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return f.Code
	}
	return f.Code + ": " + f.Detail
}

func (f *Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
		Detail string `json:"detail,omitempty"`
	}{false, f.Code, f.Detail})
}

// Result is either a success value or a *Failure, never both. It encodes as
// the value on success and as {"ok":false,"error":...,"detail":...} on
// failure.
type Result[T any] struct {
	value   T
	failure *Failure
}

// OK wraps a success value.
func OK[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail builds a failed Result.
func Fail[T any](code, detail string) Result[T] {
	return Result[T]{failure: &Failure{Code: code, Detail: detail}}
}

// IsOK reports whether r carries a value.
func (r Result[T]) IsOK() bool { return r.failure == nil }

// Value returns the success value and true, or the zero value and false.
func (r Result[T]) Value() (T, bool) { return r.value, r.failure == nil }

// Failure returns the failure, or nil on success.
func (r Result[T]) Failure() *Failure { return r.failure }

func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.failure != nil {
		return r.failure.MarshalJSON()
	}
	return json.Marshal(r.value)
}

// Sent is the outcome of SendMessage.
type Sent struct {
	OK      bool   `json:"ok"`
	TS      string `json:"ts"`
	Channel string `json:"channel"`
}

// Message is the reshaped form of a conversation message.
type Message struct {
	Type       string `json:"type,omitempty"`
	User       string `json:"user,omitempty"`
	BotID      string `json:"bot_id,omitempty"`
	Text       string `json:"text"`
	TS         string `json:"ts"`
	ThreadTS   string `json:"thread_ts,omitempty"`
	ReplyCount int    `json:"reply_count,omitempty"`
}

// History is a page of conversation messages.
type History struct {
	OK         bool      `json:"ok"`
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

// Match is a single search hit.
type Match struct {
	TS          string `json:"ts"`
	Text        string `json:"text"`
	User        string `json:"user,omitempty"`
	Username    string `json:"username,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
	Permalink   string `json:"permalink,omitempty"`
}

// Matches groups search hits with the server-side total.
type Matches struct {
	Matches []Match `json:"matches"`
	Total   int     `json:"total"`
}

// Search is the outcome of SearchMessages.
type Search struct {
	OK       bool    `json:"ok"`
	Messages Matches `json:"messages"`
}

// User is the reshaped form of a workspace member.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RealName    string `json:"real_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`
}

// Users is the outcome of SearchUsers.
type Users struct {
	OK    bool   `json:"ok"`
	Users []User `json:"users"`
}

// DM is the outcome of OpenDM.
type DM struct {
	OK      bool   `json:"ok"`
	Channel string `json:"channel"`
}
