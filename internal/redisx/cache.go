package redisx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

// StatusCache keeps the current status of ledger subjects in Redis. It
// implements ledger.StatusCache.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusCache(rdb redis.Cmdable, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = TTLStatusCache
	}

	return &StatusCache{rdb: rdb, ttl: ttl}
}

func (c *StatusCache) Get(ctx context.Context, ref ledger.Ref) (string, bool, error) {
	v, err := c.rdb.Get(ctx, StatusKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("reading cached status: %w", err)
	}

	_, status, ok := strings.Cut(v, ":")
	if !ok {
		return "", false, nil
	}

	return status, true, nil
}

// Put stores status unless the key already holds an entry with an equal or
// larger seq. Values are encoded as "{seq}:{status}".
func (c *StatusCache) Put(ctx context.Context, ref ledger.Ref, seq int64, status string) error {
	err := putNewerScript.Run(ctx, c.rdb, []string{StatusKey(ref)}, seq, status, c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("caching status: %w", err)
	}

	return nil
}

var putNewerScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local sep = string.find(cur, ':', 1, true)
	if sep and tonumber(string.sub(cur, 1, sep - 1)) >= tonumber(ARGV[1]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
return 1
`)

// Deduper remembers processed deliveries for a while so repeated ones can be
// skipped before touching the database.
type Deduper struct {
	rdb   redis.Cmdable
	scope string
	ttl   time.Duration
}

func NewDeduper(rdb redis.Cmdable, scope string, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = TTLDedup
	}

	return &Deduper{rdb: rdb, scope: scope, ttl: ttl}
}

func (d *Deduper) Seen(ctx context.Context, id string) (bool, error) {
	ok, err := Exists(ctx, d.rdb, DedupKey(d.scope, id))
	if err != nil {
		return false, fmt.Errorf("checking dedup key: %w", err)
	}

	return ok, nil
}

func (d *Deduper) Mark(ctx context.Context, id string) error {
	if err := d.rdb.Set(ctx, DedupKey(d.scope, id), "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("setting dedup key: %w", err)
	}

	return nil
}
