package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	globalGenKey    = "cachegen:global"
	siteGenPrefix   = "cachegen:site:"
	siteRegistryKey = "cachegen:sites"
)

// Entries live under a key that embeds the scope's generation counter, so
// invalidation is a single INCR: stale entries become unreachable and age
// out through their TTL. No SCAN, no per-entry deletes.
var cacheGetScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if not gen then
	gen = '0'
end
return redis.call('GET', 'cache:' .. gen .. ':' .. ARGV[1])
`)

var cacheSetScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if not gen then
	gen = '0'
end
redis.call('SET', 'cache:' .. gen .. ':' .. ARGV[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func genKey(site string) string {
	if site == "" {
		return globalGenKey
	}
	return siteGenPrefix + site
}

func (r *RedisAdapter) Get(ctx context.Context, site, key string, out any) (bool, error) {
	payload, err := cacheGetScript.Run(ctx, r.client, []string{genKey(site)}, key).Text()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisAdapter) Set(ctx context.Context, site, key string, val any, ttl time.Duration) error {
	payload, err := json.Marshal(val)
	if err != nil {
		return err
	}
	if err := cacheSetScript.Run(ctx, r.client, []string{genKey(site)}, key, payload, ttl.Milliseconds()).Err(); err != nil {
		return err
	}
	if site == "" {
		// Global-scope entries are covered by FlushAll's own INCR.
		return nil
	}
	// Track site scopes so FlushAll can bump every generation it has seen.
	return r.client.SAdd(ctx, siteRegistryKey, genKey(site)).Err()
}

// InvalidateSite bumps the site's generation and the admin/global one, so
// both the tenant's views and any cross-site admin view go stale together.
func (r *RedisAdapter) InvalidateSite(ctx context.Context, site string) error {
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, genKey(site))
	if site != "" {
		pipe.Incr(ctx, globalGenKey)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) FlushAll(ctx context.Context) error {
	genKeys, err := r.client.SMembers(ctx, siteRegistryKey).Result()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, globalGenKey)
	for _, k := range genKeys {
		pipe.Incr(ctx, k)
	}
	_, err = pipe.Exec(ctx)
	return err
}
