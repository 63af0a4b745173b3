package slackapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ggoodman/slackbridge/storage"
	"github.com/rusq/slack"
)

// The users namespace holds the member directory plus one entry per
// normalized query, so the cache capacity bounds the number of distinct
// queries remembered.
const (
	usersNamespace = "users"
	directoryKey   = "directory"
	queryKeyPrefix = "query:"
)

// SearchUsers returns the members whose handle, real name, display name or
// email contains query, case-insensitively. Deleted accounts are skipped.
// A blank query is rejected rather than matching every member.
func (c *Client) SearchUsers(ctx context.Context, query string) Result[Users] {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Fail[Users](CodeInvalidArguments, "query is required")
	}

	var matches []User
	if c.cacheGet(ctx, queryKey(q), &matches) {
		return OK(Users{OK: true, Users: matches})
	}

	dir, res := c.directory(ctx)
	if !res.IsOK() {
		return Result[Users]{failure: res.Failure()}
	}

	out := Users{OK: true, Users: []User{}}
	for _, u := range dir {
		if matchesUser(u, q) {
			out.Users = append(out.Users, u)
		}
	}
	c.cacheSet(ctx, queryKey(q), out.Users)
	return OK(out)
}

func matchesUser(u User, q string) bool {
	for _, field := range []string{u.ID, u.Name, u.RealName, u.DisplayName, u.Email} {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func (c *Client) directory(ctx context.Context) ([]User, Result[struct{}]) {
	var cached []User
	if c.cacheGet(ctx, directoryKey, &cached) {
		return cached, OK(struct{}{})
	}

	cctx, cancel := c.callContext(ctx)
	defer cancel()

	members, err := c.api.GetUsersContext(cctx)
	if err != nil {
		res := classify[struct{}](ctx, cctx, err)
		c.logFailure(ctx, "users.list", res.Failure())
		return nil, res
	}

	dir := make([]User, 0, len(members))
	for _, m := range members {
		if m.Deleted {
			continue
		}
		dir = append(dir, reshapeUser(m))
	}
	c.cacheSet(ctx, directoryKey, dir)
	return dir, OK(struct{}{})
}

func reshapeUser(m slack.User) User {
	return User{
		ID:          m.ID,
		Name:        m.Name,
		RealName:    m.RealName,
		DisplayName: m.Profile.DisplayName,
		Email:       m.Profile.Email,
		IsBot:       m.IsBot,
	}
}

// cacheGet decodes the cached value under key into v. It reports false on a
// miss, a disabled cache or an undecodable entry.
func (c *Client) cacheGet(ctx context.Context, key string, v any) bool {
	if c.users == nil || c.userTTL <= 0 {
		return false
	}
	item, err := c.users.Get(ctx, key, storage.WithNamespace(usersNamespace))
	if err != nil {
		c.log.WarnContext(ctx, "slackapi.users.cache.get.fail", slog.String("key", key), slog.String("err", err.Error()))
		return false
	}
	if item == nil {
		return false
	}
	if err := json.Unmarshal(item.Data, v); err != nil {
		c.log.WarnContext(ctx, "slackapi.users.cache.decode.fail", slog.String("key", key), slog.String("err", err.Error()))
		_ = c.users.Delete(ctx, key, storage.WithNamespace(usersNamespace))
		return false
	}
	c.log.DebugContext(ctx, "slackapi.users.cache.hit", slog.String("key", key))
	return true
}

func (c *Client) cacheSet(ctx context.Context, key string, v any) {
	if c.users == nil || c.userTTL <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.users.Set(ctx, key, data, storage.WithNamespace(usersNamespace), storage.WithTTL(c.userTTL)); err != nil {
		c.log.WarnContext(ctx, "slackapi.users.cache.set.fail", slog.String("key", key), slog.String("err", err.Error()))
	}
}

func queryKey(q string) string { return queryKeyPrefix + q }
