package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// CursorStore keeps the backfill resume cursor in a plain Redis key.
// Best-effort by design: a lost save only re-walks a few pages, and the
// idempotent store downstream makes that harmless.
type CursorStore struct {
	client *redis.Client
	prefix string
}

// NewCursorStore creates a cursor store namespaced under prefix.
func NewCursorStore(client *redis.Client, prefix string) *CursorStore {
	return &CursorStore{client: client, prefix: prefix}
}

func (c *CursorStore) key(name string) string {
	return c.prefix + ":cursor:" + name
}

// Load returns the saved offset, or 0 when no cursor exists.
func (c *CursorStore) Load(ctx context.Context, name string) (int, error) {
	val, err := c.client.Get(ctx, c.key(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("load cursor %s: %w", name, err)
	}

	offset, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt cursor %s: %w", name, err)
	}
	return offset, nil
}

// Save overwrites the cursor with the given offset.
func (c *CursorStore) Save(ctx context.Context, name string, offset int) error {
	if err := c.client.Set(ctx, c.key(name), strconv.Itoa(offset), 0).Err(); err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}
