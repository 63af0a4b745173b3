package slackapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/rusq/slack"
)

// classify converts an error from the Slack client into a Failure. ctx is
// the per-call context; parent is the caller's context, used to tell a
// local deadline apart from a caller cancellation.
func classify[T any](parent, ctx context.Context, err error) Result[T] {
	var (
		ser slack.SlackErrorResponse
		rle *slack.RateLimitedError
		sce slack.StatusCodeError
	)
	switch {
	case errors.As(err, &ser):
		return Fail[T](ser.Err, describe(ser))
	case errors.As(err, &rle):
		return Fail[T](CodeRateLimited, fmt.Sprintf("retry after %s", rle.RetryAfter))
	case parent.Err() != nil:
		return Fail[T](CodeCancelled, parent.Err().Error())
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Fail[T](CodeTimeout, "upstream call did not complete in time")
	case errors.As(err, &sce):
		return Fail[T](CodeUpstreamError, fmt.Sprintf("slack returned HTTP %d", sce.Code))
	default:
		return Fail[T](CodeUpstreamError, err.Error())
	}
}

func describe(ser slack.SlackErrorResponse) string {
	if len(ser.ResponseMetadata.Messages) > 0 {
		return ser.ResponseMetadata.Messages[0]
	}
	return "slack API error: " + ser.Err
}
