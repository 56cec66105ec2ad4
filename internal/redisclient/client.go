package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client caches per-book availability for the read path. The store
// stays authoritative; readers fall back to it on any cache miss or
// error.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetAvailability mirrors a book's committed available-copy count
func (c *Client) SetAvailability(ctx context.Context, bookID int64, available int) error {
	return c.rdb.Set(ctx, availabilityKey(bookID), available, 0).Err()
}

// GetAvailability reads a book's cached available-copy count.
// Returns redis.Nil (wrapped) when the book has no cache entry.
func (c *Client) GetAvailability(ctx context.Context, bookID int64) (int, error) {
	available, err := c.rdb.Get(ctx, availabilityKey(bookID)).Int()
	if err != nil {
		return 0, fmt.Errorf("availability cache read failed for book %d: %w", bookID, err)
	}
	return available, nil
}

func availabilityKey(bookID int64) string {
	return fmt.Sprintf("books:available:%d", bookID)
}
