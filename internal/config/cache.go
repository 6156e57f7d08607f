package config

import "time"

// SnapshotCacheConfig defines settings for the queue snapshot cache.  When
// Enabled is false no snapshot is cached and every read recomputes from
// the store.  Without Redis the cache is per process.  TTL bounds how long
// an unpolled queue's snapshot is kept and Prefix namespaces the Redis keys.
type SnapshotCacheConfig struct {
    Enabled bool
    TTL     time.Duration
    Prefix  string
}

// LoadSnapshotCacheConfig reads SNAPSHOT_CACHE_* variables.
func LoadSnapshotCacheConfig() SnapshotCacheConfig {
    return SnapshotCacheConfig{
        Enabled: envBool("SNAPSHOT_CACHE_ENABLED", true),
        TTL:     envDur("SNAPSHOT_CACHE_TTL", 10*time.Minute),
        Prefix:  envStr("SNAPSHOT_CACHE_PREFIX", "snapshot"),
    }
}
