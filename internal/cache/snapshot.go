// Package cache holds the snapshot caches the tracker publishes to.  Both
// implementations keep at most one snapshot per queue key and never let an
// older revision overwrite a newer one.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/token-queue/internal/model"
	"github.com/iliyamo/token-queue/internal/scheduling"
)

// Memory is an in-process snapshot cache.  Entries expire after ttl and
// are freed by Run.
type Memory struct {
	mu    sync.Mutex
	items *ttlcache.Cache[string, *scheduling.Snapshot]
}

// NewMemory returns a Memory cache.  A ttl of zero keeps entries forever.
func NewMemory(ttl time.Duration) *Memory {
	opts := []ttlcache.Option[string, *scheduling.Snapshot]{
		ttlcache.WithDisableTouchOnHit[string, *scheduling.Snapshot](),
	}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *scheduling.Snapshot](ttl))
	}
	return &Memory{items: ttlcache.New[string, *scheduling.Snapshot](opts...)}
}

// Run deletes expired entries until ctx is done.
func (m *Memory) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		m.items.Stop()
	}()
	m.items.Start()
	return nil
}

// Get returns the cached snapshot of key.
func (m *Memory) Get(_ context.Context, key model.QueueKey) (*scheduling.Snapshot, bool) {
	item := m.items.Get(key.String())
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Put stores snap unless a newer revision is already cached.
func (m *Memory) Put(_ context.Context, snap *scheduling.Snapshot) error {
	k := snap.Key.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.items.Get(k); cur != nil && cur.Value().Revision > snap.Revision {
		return nil
	}
	m.items.Set(k, snap, ttlcache.DefaultTTL)
	return nil
}

// putScript writes the snapshot only when its revision is not older than
// the stored one.  KEYS[1] is the hash, ARGV is revision, payload, ttl ms.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'rev')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'rev', ARGV[1], 'data', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Redis shares snapshots between replicas.  Writes are compare-and-set on
// revision inside a Lua script so concurrent recomputations cannot publish
// a stale view.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Redis-backed cache with keys under prefix.
func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "snapshot"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(k model.QueueKey) string { return r.prefix + ":" + k.String() }

// Get returns the cached snapshot of key.  Any Redis or decode error is
// treated as a miss.
func (r *Redis) Get(ctx context.Context, key model.QueueKey) (*scheduling.Snapshot, bool) {
	raw, err := r.rdb.HGet(ctx, r.key(key), "data").Bytes()
	if err != nil {
		return nil, false
	}
	var snap scheduling.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// Put stores snap unless a newer revision is already cached.
func (r *Redis) Put(ctx context.Context, snap *scheduling.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return putScript.Run(ctx, r.rdb, []string{r.key(snap.Key)},
		snap.Revision, payload, r.ttl.Milliseconds()).Err()
}
