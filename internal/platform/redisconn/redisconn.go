// Package redisconn opens the shared Redis client used for pub/sub fan-out
// and delivery dedup.
package redisconn

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	URL         string        // redis:// URL or host:port; default from REDIS_URL
	DialTimeout time.Duration // default 5s
}

// Connect builds a client and pings it so the caller can fail fast.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.URL == "" {
		opts.URL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("redis: REDIS_URL is required")
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		ro = &redis.Options{Addr: opts.URL}
	}
	ro.DialTimeout = opts.DialTimeout

	client := redis.NewClient(ro)
	pctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", ro.Addr, err)
	}
	return client, nil
}
