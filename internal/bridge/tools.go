// Package bridge exposes the Slack capability client as MCP tools.
package bridge

import (
	"context"

	"github.com/ggoodman/slackbridge/internal/slackapi"
	"github.com/ggoodman/slackbridge/mcpservice"
)

// Tool names.
const (
	ToolSendMessage    = "send_message"
	ToolReadDMHistory  = "read_dm_history"
	ToolSearchMessages = "search_messages"
	ToolFindUser       = "find_user"
	ToolOpenDM         = "open_dm"
)

type SendMessageArgs struct {
	Channel string `json:"channel" jsonschema:"description=Channel or DM id to post to" validate:"required"`
	Text    string `json:"text" jsonschema:"description=Message text" validate:"required"`
}

type ReadDMHistoryArgs struct {
	ChannelID string `json:"channel_id" jsonschema:"description=Conversation id to read" validate:"required"`
	Limit     int    `json:"limit,omitempty" jsonschema:"description=Maximum number of messages,default=20"`
}

type SearchMessagesArgs struct {
	Query string `json:"query" jsonschema:"description=Slack search query" validate:"required,notblank"`
	Count int    `json:"count,omitempty" jsonschema:"description=Maximum number of matches,default=20"`
}

type FindUserArgs struct {
	Query string `json:"query" jsonschema:"description=Substring of handle, real name, display name or email" validate:"required,notblank"`
}

type OpenDMArgs struct {
	UserID string `json:"user_id" jsonschema:"description=User id to open a direct message with" validate:"required"`
}

// Tools returns the immutable tool set bound to m.
func Tools(m slackapi.Messenger) *mcpservice.ToolsContainer {
	return mcpservice.NewToolsContainer(
		mcpservice.NewTool(ToolSendMessage, func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[SendMessageArgs]) error {
			a := r.Args()
			return writeResult(w, m.SendMessage(ctx, a.Channel, a.Text))
		}, mcpservice.WithToolDescription("Send a message to a Slack channel or DM")),

		mcpservice.NewTool(ToolReadDMHistory, func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[ReadDMHistoryArgs]) error {
			a := r.Args()
			return writeResult(w, m.GetChannelHistory(ctx, a.ChannelID, orDefault(a.Limit, slackapi.DefaultHistoryLimit), ""))
		}, mcpservice.WithToolDescription("Read recent messages from a DM or channel")),

		mcpservice.NewTool(ToolSearchMessages, func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[SearchMessagesArgs]) error {
			a := r.Args()
			return writeResult(w, m.SearchMessages(ctx, a.Query, orDefault(a.Count, slackapi.DefaultSearchCount)))
		}, mcpservice.WithToolDescription("Search messages across the workspace")),

		mcpservice.NewTool(ToolFindUser, func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[FindUserArgs]) error {
			return writeResult(w, m.SearchUsers(ctx, r.Args().Query))
		}, mcpservice.WithToolDescription("Find workspace members by name or email")),

		mcpservice.NewTool(ToolOpenDM, func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[OpenDMArgs]) error {
			return writeResult(w, m.OpenDM(ctx, r.Args().UserID))
		}, mcpservice.WithToolDescription("Open a direct message channel with a user")),
	)
}

type result interface {
	IsOK() bool
}

// writeResult renders a capability Result as a single JSON text block. A
// failure is still a successful tool reply, flagged with isError.
func writeResult(w mcpservice.ToolResponseWriter, r result) error {
	w.SetError(!r.IsOK())
	return w.AppendJSON(r)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
