package config

// This file defines the Redis client constructor.  Redis carries the
// shared rate-limit buckets, the queue snapshot cache and the realtime
// event channel.  If the server cannot be reached at startup the
// constructor returns nil and callers fall back to in-process versions of
// each feature.

import (
    "context"
    "crypto/tls"
    "os"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from the environment:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand (host/port win when both are set)
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS
// ok is false when REDIS_DISABLED is set.
func RedisOptions() (opts *redis.Options, ok bool) {
    if envBool("REDIS_DISABLED", false) {
        return nil, false
    }
    host := os.Getenv("REDIS_HOST")
    port := os.Getenv("REDIS_PORT")
    addr := envStr("REDIS_ADDR", "localhost:6379")
    if host != "" && port != "" {
        addr = host + ":" + port
    }
    var tlsConf *tls.Config
    if envBool("REDIS_TLS", false) {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    return &redis.Options{
        Addr:      addr,
        Password:  os.Getenv("REDIS_PASSWORD"),
        DB:        envInt("REDIS_DB", 0),
        TLSConfig: tlsConf,
    }, true
}

// NewRedisClient connects using RedisOptions and pings the server with a
// short timeout.  It returns nil when Redis is disabled or unreachable.
func NewRedisClient() *redis.Client {
    opts, ok := RedisOptions()
    if !ok {
        return nil
    }
    client := redis.NewClient(opts)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
