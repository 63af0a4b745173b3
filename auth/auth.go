package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ggoodman/slackbridge/internal/jsonrpc"
)

// HeaderName carries the shared secret on every protected request.
const HeaderName = "X-API-Key"

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// RejectionDetail is the human readable reason given to rejected callers.
const RejectionDetail = "Missing or invalid API key"

// UserInfo represents an authenticated principal.
type UserInfo interface {
	// UserID returns a stable identifier for the caller, suitable for logs.
	UserID() string
}

// Authenticator validates a credential taken from a request.
// It returns ErrUnauthorized for absent or invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, credential string) (UserInfo, error)
}

// CheckRequest extracts the credential header from r and validates it.
func CheckRequest(a Authenticator, r *http.Request) (UserInfo, error) {
	return a.CheckAuthentication(r.Context(), r.Header.Get(HeaderName))
}

// StaticKey accepts exactly one shared secret.
type StaticKey struct {
	secret []byte
}

// NewStaticKey returns an Authenticator for secret. An empty secret rejects
// every request.
func NewStaticKey(secret string) *StaticKey {
	return &StaticKey{secret: []byte(secret)}
}

func (k *StaticKey) CheckAuthentication(_ context.Context, credential string) (UserInfo, error) {
	if len(k.secret) == 0 || credential == "" {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(credential), k.secret) != 1 {
		return nil, ErrUnauthorized
	}
	return apiKeyUser{}, nil
}

type apiKeyUser struct{}

func (apiKeyUser) UserID() string { return "api-key" }

// WriteRESTUnauthorized writes the REST-shaped 401 body.
func WriteRESTUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":     false,
		"error":  "unauthorized",
		"detail": RejectionDetail,
	})
}

// WriteRPCUnauthorized writes the JSON-RPC-shaped 401 body.
func WriteRPCUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeServerError, "Unauthorized: "+RejectionDetail, nil))
}

// Middleware guards next, answering rejected requests with the REST body.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := CheckRequest(a, r); err != nil {
				WriteRESTUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
