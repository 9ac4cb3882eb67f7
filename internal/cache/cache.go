package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rollbook/attendance/internal/report"
)

var errNotConfigured = errors.New("redis_not_configured")

// Cache is an optional Redis layer for short-lived report results and
// refresh sessions. A nil client disables it: reads miss, writes error.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, reportTTL time.Duration) *Cache {
	return &Cache{client: client, ttl: reportTTL}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Report caching. Results are cached whole per query key and simply expire;
// writes do not invalidate, so the TTL bounds staleness.

func DefaulterReportKey(stream, year, subject string, from, to time.Time, threshold float64) string {
	return fmt.Sprintf("defaulter_report:%s:%s:%s:%s:%s:%g",
		stream, year, subject, from.Format("2006-01-02"), to.Format("2006-01-02"), threshold)
}

func (c *Cache) GetDefaulterReport(ctx context.Context, key string) ([]report.StudentRow, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rows []report.StudentRow
	if err := json.Unmarshal([]byte(value), &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (c *Cache) SetDefaulterReport(ctx context.Context, key string, rows []report.StudentRow) error {
	if !c.Enabled() {
		return errNotConfigured
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Refresh sessions. Tokens are stored by hash and consumed on use, so each
// refresh token is single-use.

type RefreshSession struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
}

func refreshSessionKey(tokenHash string) string {
	return "refresh_session:" + tokenHash
}

func (c *Cache) StoreRefreshSession(ctx context.Context, tokenHash string, session RefreshSession, ttl time.Duration) error {
	if !c.Enabled() {
		return errNotConfigured
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, refreshSessionKey(tokenHash), data, ttl).Err()
}

func (c *Cache) ConsumeRefreshSession(ctx context.Context, tokenHash string) (RefreshSession, bool, error) {
	if !c.Enabled() {
		return RefreshSession{}, false, nil
	}
	value, err := c.client.GetDel(ctx, refreshSessionKey(tokenHash)).Result()
	if err == redis.Nil {
		return RefreshSession{}, false, nil
	}
	if err != nil {
		return RefreshSession{}, false, err
	}
	var session RefreshSession
	if err := json.Unmarshal([]byte(value), &session); err != nil {
		return RefreshSession{}, false, err
	}
	return session, true, nil
}
