package webhook

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rmoralesp/tienda-fulfillment/internal/redisx"
)

// RedisDeduper guards against duplicate webhook deliveries using TTL'd keys.
type RedisDeduper struct {
	RDB *redis.Client
}

func (d RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	return redisx.Exists(ctx, d.RDB, fmt.Sprintf(redisx.KeyWebhookDedup, key))
}

func (d RedisDeduper) Mark(ctx context.Context, key string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(redisx.KeyWebhookDedup, key), "1", redisx.TTLDedup).Err()
}
