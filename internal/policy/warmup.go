package policy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/devflow-orchestrator/internal/infra"
)

// Warmup — прогрев L1 (RAM) и L2 (Redis) кэшей политик при старте.
// L1 наполняется всегда; множество тенантов с кастомными документами
// в Redis заливает только один инстанс (распределенный SetNX-лок),
// остальные видят уже прогретый кэш.
func (c *DocCache) Warmup(ctx context.Context) error {
	// 1. Локальный кэш (L1)
	if err := c.Refresh(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	tenants := make([]string, 0, len(c.docs))
	for id := range c.docs {
		tenants = append(tenants, id)
	}
	c.mu.RUnlock()

	// 2. Распределенная блокировка, чтобы только один инстанс обновлял Redis
	ok, err := c.rdb.SetNX(ctx, infra.RedisKeyLockPolicyWarmup, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет кэш
	}

	// 3. Проверка наполненности Redis
	count, err := c.rdb.SCard(ctx, infra.RedisKeyPolicyTenants).Result()
	if err != nil {
		count = 0
		c.logger.Warn("could not check Redis set size, proceeding with warm-up", zap.Error(err))
	}

	// 4. Если Redis пуст, а документы есть — заливаем
	if count == 0 && len(tenants) > 0 {
		c.logger.Info("Redis policy cache is empty, performing warm-up from DB",
			zap.Int("tenants", len(tenants)))

		pipe := c.rdb.Pipeline()
		for _, id := range tenants {
			pipe.SAdd(ctx, infra.RedisKeyPolicyTenants, id)
		}
		_, err = pipe.Exec(ctx)
		return err
	}

	return nil
}
