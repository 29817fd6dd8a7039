package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campuskit/attendance-api/internal/models"
)

// SessionCache is a short-TTL Redis cache for the active-session lookup,
// the hottest read in the system while a class is marking. Every cache
// error degrades to a miss; Redis being down slows lookups, it never
// breaks them. The cache TTL is kept well under the session TTL so a
// lazily expired session cannot linger here.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionCache constructs the cache. A nil client disables caching.
func NewSessionCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCache{client: client, ttl: ttl, logger: logger}
}

func sessionCacheKey(classID string) string {
	return fmt.Sprintf("attendance:active_session:%s", classID)
}

// Get returns the cached active session for a class, or ok=false on a miss.
func (c *SessionCache) Get(ctx context.Context, classID string) (*models.Session, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, sessionCacheKey(classID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("session cache get failed", zap.String("class_id", classID), zap.Error(err))
		return nil, false
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		c.logger.Warn("session cache entry corrupt", zap.String("class_id", classID), zap.Error(err))
		return nil, false
	}
	return &session, true
}

// Set stores the active session for a class.
func (c *SessionCache) Set(ctx context.Context, session *models.Session) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(session)
	if err != nil {
		c.logger.Warn("session cache encode failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, sessionCacheKey(session.ClassID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("session cache set failed", zap.String("class_id", session.ClassID), zap.Error(err))
	}
}

// Invalidate drops the cached session for a class. Called on start, end,
// QR rotation and lazy expiry.
func (c *SessionCache) Invalidate(ctx context.Context, classID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, sessionCacheKey(classID)).Err(); err != nil {
		c.logger.Warn("session cache invalidate failed", zap.String("class_id", classID), zap.Error(err))
	}
}
