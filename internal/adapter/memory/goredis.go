package memory

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
)

// goRedisClient adapts a go-redis client to RedisClient.
type goRedisClient struct {
	client goredis.Cmdable
}

// FromGoRedis wraps a go-redis client (or cluster client) as a RedisClient.
func FromGoRedis(client goredis.Cmdable) RedisClient {
	return &goRedisClient{client: client}
}

func (r *goRedisClient) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.LPush(ctx, key, args...).Err()
}

func (r *goRedisClient) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

func (r *goRedisClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}
