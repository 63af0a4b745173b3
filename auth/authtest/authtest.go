// Package authtest provides Authenticator doubles for transport tests.
package authtest

import (
	"context"

	"github.com/ggoodman/slackbridge/auth"
)

// AllowAll authenticates every request, credential or not.
type AllowAll struct {
	User string
}

func (a AllowAll) CheckAuthentication(context.Context, string) (auth.UserInfo, error) {
	u := a.User
	if u == "" {
		u = "test-user"
	}
	return user(u), nil
}

// DenyAll rejects every request.
type DenyAll struct{}

func (DenyAll) CheckAuthentication(context.Context, string) (auth.UserInfo, error) {
	return nil, auth.ErrUnauthorized
}

type user string

func (u user) UserID() string { return string(u) }
