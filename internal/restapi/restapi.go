// Package restapi exposes the Slack capabilities as plain JSON endpoints.
//
// Handlers are stateless: each request is validated, forwarded to exactly one
// slackapi.Messenger operation, and the Result is written back verbatim with
// status 200 on success or 500 on failure.
package restapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/ggoodman/slackbridge/internal/slackapi"
)

const (
	maxRequestSize = 1 << 20

	errBadRequest = "bad_request"

	detailInvalidJSON       = "invalid JSON body"
	detailChannelAndText    = "channel and text are required"
	detailQueryRequired     = "query is required"
	detailUserIDRequired    = "user_id is required"
	detailChannelIDRequired = "channelId is required"
)

// API is the REST surface. It is a chi.Router so it can be mounted directly.
type API struct {
	chi.Router

	client   slackapi.Messenger
	log      *slog.Logger
	validate *validator.Validate
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// New returns the REST router backed by client.
func New(client slackapi.Messenger, opts ...Option) *API {
	a := &API{
		Router:   chi.NewRouter(),
		client:   client,
		log:      slog.Default(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(maxRequestSize))

		r.Post("/messages/send", a.sendMessage)
		r.Get("/channels/{channelId}/history", a.channelHistory)
		r.Get("/search", a.searchMessages)
		r.Get("/users/search", a.searchUsers)
		r.Post("/dm/open", a.openDM)
	})
	return a
}

type sendMessageRequest struct {
	Channel string `json:"channel" validate:"required"`
	Text    string `json:"text" validate:"required"`
}

type historyRequest struct {
	ChannelID string `validate:"required"`
	Limit     int
	Cursor    string
}

type queryRequest struct {
	Query string `validate:"required,notblank"`
	Count int
}

type openDMRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeBadRequest(w, detailChannelAndText)
		return
	}
	a.writeResult(w, r, "send_message", a.client.SendMessage(r.Context(), req.Channel, req.Text))
}

func (a *API) channelHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := historyRequest{
		ChannelID: chi.URLParam(r, "channelId"),
		Limit:     intParam(q.Get("limit"), slackapi.DefaultHistoryLimit),
		Cursor:    q.Get("cursor"),
	}
	if err := a.validate.Struct(req); err != nil {
		writeBadRequest(w, detailChannelIDRequired)
		return
	}
	a.writeResult(w, r, "channel_history", a.client.GetChannelHistory(r.Context(), req.ChannelID, req.Limit, req.Cursor))
}

func (a *API) searchMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := queryRequest{
		Query: q.Get("query"),
		Count: intParam(q.Get("count"), slackapi.DefaultSearchCount),
	}
	if err := a.validate.Struct(req); err != nil {
		writeBadRequest(w, detailQueryRequired)
		return
	}
	a.writeResult(w, r, "search_messages", a.client.SearchMessages(r.Context(), req.Query, req.Count))
}

func (a *API) searchUsers(w http.ResponseWriter, r *http.Request) {
	req := queryRequest{Query: r.URL.Query().Get("query")}
	if err := a.validate.Struct(req); err != nil {
		writeBadRequest(w, detailQueryRequired)
		return
	}
	a.writeResult(w, r, "search_users", a.client.SearchUsers(r.Context(), req.Query))
}

func (a *API) openDM(w http.ResponseWriter, r *http.Request) {
	var req openDMRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeBadRequest(w, detailUserIDRequired)
		return
	}
	a.writeResult(w, r, "open_dm", a.client.OpenDM(r.Context(), req.UserID))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// decodeBody decodes a JSON object into v. An empty body decodes as {} so the
// caller's presence checks produce the reply.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		a.log.InfoContext(r.Context(), "rest.body.invalid", slog.String("err", err.Error()))
		writeBadRequest(w, detailInvalidJSON)
		return false
	}
	return true
}

// intParam parses a positive integer, falling back to def.
func intParam(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

type result interface {
	IsOK() bool
}

func (a *API) writeResult(w http.ResponseWriter, r *http.Request, op string, res result) {
	status := http.StatusOK
	if !res.IsOK() {
		status = http.StatusInternalServerError
	}
	a.log.InfoContext(r.Context(), "rest.call.done", slog.String("op", op), slog.Bool("ok", res.IsOK()))
	writeJSON(w, status, res)
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"ok":     false,
		"error":  errBadRequest,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
