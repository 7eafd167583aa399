package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mikey/mail2cal/internal/core"
	"go.uber.org/zap"
)

// sqlCache holds the queries shared by the SQLite and MySQL caches.
// Timestamps are stored as Unix seconds so both engines compare them the
// same way.
type sqlCache struct {
	db        *sql.DB
	logger    *zap.Logger
	upsertSQL string
	stopCh    chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

func newSQLCache(db *sql.DB, logger *zap.Logger, upsertSQL string, cleanupFreq time.Duration) *sqlCache {
	c := &sqlCache{
		db:        db,
		logger:    logger,
		upsertSQL: upsertSQL,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
	if cleanupFreq > 0 {
		go startCleanupTask(c, cleanupFreq, c.stopCh, logger)
	}
	return c
}

// Get retrieves a live entry; it returns nil when absent or expired
func (c *sqlCache) Get(ctx context.Context, key string) (*core.CacheEntry, error) {
	var data []byte
	var createdAt, expiresAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT event_json, created_at, expires_at
		FROM extraction_cache
		WHERE message_key = ? AND expires_at > ?
	`, key, c.now().Unix()).Scan(&data, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}

	event, err := decodeEvent(data)
	if err != nil {
		return nil, err
	}

	return &core.CacheEntry{
		Key:       key,
		Event:     event,
		CreatedAt: time.Unix(createdAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}, nil
}

// Set stores a cache entry
func (c *sqlCache) Set(ctx context.Context, entry *core.CacheEntry) error {
	data, err := encodeEvent(&entry.Event)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, c.upsertSQL,
		entry.Key, data, entry.CreatedAt.Unix(), entry.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// Delete removes a cache entry
func (c *sqlCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM extraction_cache
		WHERE message_key = ?
	`, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Cleanup removes expired entries
func (c *sqlCache) Cleanup(ctx context.Context) error {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM extraction_cache
		WHERE expires_at <= ?
	`, c.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		c.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", rowsAffected))
	}
	return nil
}

// Stop stops the background cleanup task and closes the database
func (c *sqlCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close cache database", zap.Error(err))
		}
	})
}
