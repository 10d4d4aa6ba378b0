package policy

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"go.uber.org/zap"
)

// DocumentRepository — контракт долговременного хранилища документов.
// Используется только для Refresh(): в рантайме оценка политик
// обращается исключительно к памяти (Hot Path).
type DocumentRepository interface {
	GetAllDocuments(ctx context.Context) ([]domain.PolicyDocument, error)
}

// DocCache — потокобезопасный in-memory кэш документов политик.
// Обновление правил применяется атомарно (swap всей мапы), поэтому
// идущая прямо сейчас оценка никогда не видит полунакатанный набор правил.
type DocCache struct {
	mu sync.RWMutex
	// Кэш: tenant_id -> документ
	docs map[string]*domain.PolicyDocument

	repo   DocumentRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewDocCache(repo DocumentRepository, rdb *redis.Client, logger *zap.Logger) *DocCache {
	return &DocCache{
		docs:   make(map[string]*domain.PolicyDocument),
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("policy-cache"),
	}
}

// GetDocument реализует DocumentSource для движка.
// Возвращает nil, если у тенанта нет своего документа — движок
// применит системный дефолт (Default Deny для WRITE/DESTRUCTIVE).
func (c *DocCache) GetDocument(tenantID string) *domain.PolicyDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs[tenantID]
}

// Seed кладет документ напрямую (bootstrap из YAML-файла при старте).
// Документы из БД при Refresh перекрывают сид с тем же tenant_id.
func (c *DocCache) Seed(docs []*domain.PolicyDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range docs {
		c.docs[d.TenantID] = d
	}
}

// Refresh выполняет «холодную загрузку» всех документов из хранилища в память.
// Новая мапа собирается целиком и подменяется одним присваиванием под локом.
func (c *DocCache) Refresh(ctx context.Context) error {
	fromDB, err := c.repo.GetAllDocuments(ctx)
	if err != nil {
		return err
	}

	newDocs := make(map[string]*domain.PolicyDocument, len(fromDB))
	for i := range fromDB {
		d := fromDB[i]
		newDocs[d.TenantID] = &d
	}

	c.mu.Lock()
	c.docs = newDocs
	c.mu.Unlock()

	c.logger.Info("policy document cache refreshed", zap.Int("tenants", len(newDocs)))
	return nil
}

// StartListener подписывается на широковещательный сигнал обновления политик.
// Console API публикует "refresh" после каждого изменения документа;
// при переподключении выполняется полная синхронизация.
func (c *DocCache) StartListener(ctx context.Context, channel string) {
	for {
		pubsub := c.rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			c.logger.Error("failed to subscribe to policy updates", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		if err := c.Refresh(ctx); err != nil {
			c.logger.Error("policy sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				if err := c.Refresh(ctx); err != nil {
					c.logger.Error("policy cache refresh failed", zap.Error(err))
				}
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}
