package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ZapHook пишет события в структурированный лог — всегда первый в цепочке
type ZapHook struct {
	logger *zap.Logger
}

func NewZapHook(logger *zap.Logger) *ZapHook {
	return &ZapHook{logger: logger.Named("audit-log")}
}

func (h *ZapHook) Name() string { return "zap-log" }

func (h *ZapHook) Receive(_ context.Context, e Event) error {
	h.logger.Info("audit",
		zap.String("run_id", e.RunID),
		zap.Int("step_index", e.StepIndex),
		zap.String("tenant_id", e.TenantID),
		zap.String("actor_id", e.ActorID),
		zap.String("kind", string(e.Kind)),
		zap.String("decision_id", e.DecisionID),
		zap.String("approval_id", e.ApprovalID),
	)
	return nil
}

// FileHook — локальный append-only журнал: одно событие на строку,
// каждая строка парсится независимо (NDJSON, эквивалент audit.log)
type FileHook struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewFileHook(path string) (*FileHook, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("audit file hook: %w", err)
	}
	return &FileHook{file: f, enc: json.NewEncoder(f)}, nil
}

func (h *FileHook) Name() string { return "ndjson-file" }

func (h *FileHook) Receive(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enc.Encode(e)
}

func (h *FileHook) Flush(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Sync()
}

func (h *FileHook) Close() error { return h.file.Close() }

// BatchStorage определяет, куда физически сохраняются события пачками
type BatchStorage interface {
	// WriteBatch сохраняет пачку событий за один раз (Bulk Insert)
	WriteBatch(ctx context.Context, events []Event) error
}

// StorageHook накапливает события и сбрасывает их в БД пачками —
// по достижении лимита или по таймеру при Flush из диспетчера.
// Порядок внутри пачки совпадает с порядком поступления.
type StorageHook struct {
	mu        sync.Mutex
	repo      BatchStorage
	batch     []Event
	batchSize int
	lastFlush time.Time
	interval  time.Duration
}

func NewStorageHook(repo BatchStorage, batchSize int, interval time.Duration) *StorageHook {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &StorageHook{
		repo:      repo,
		batch:     make([]Event, 0, batchSize),
		batchSize: batchSize,
		lastFlush: time.Now(),
		interval:  interval,
	}
}

func (h *StorageHook) Name() string { return "storage-batch" }

func (h *StorageHook) Receive(ctx context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.batch = append(h.batch, e)
	if len(h.batch) >= h.batchSize || time.Since(h.lastFlush) >= h.interval {
		return h.flushLocked(ctx)
	}
	return nil
}

func (h *StorageHook) Flush(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked(ctx)
}

func (h *StorageHook) flushLocked(ctx context.Context) error {
	if len(h.batch) == 0 {
		return nil
	}
	err := h.repo.WriteBatch(ctx, h.batch)
	h.batch = h.batch[:0]
	h.lastFlush = time.Now()
	return err
}

// SignalHook транслирует ключи событий во внешнюю систему трекинга
// через Redis Pub/Sub (подписчики сами решают, что с ними делать)
type SignalHook struct {
	rdb     *redis.Client
	channel string
}

func NewSignalHook(rdb *redis.Client, channel string) *SignalHook {
	return &SignalHook{rdb: rdb, channel: channel}
}

func (h *SignalHook) Name() string { return "redis-signal" }

func (h *SignalHook) Receive(ctx context.Context, e Event) error {
	// Формат "run_id:kind" — тот же, что у остальных сигналов платформы
	return h.rdb.Publish(ctx, h.channel, e.RunID+":"+string(e.Kind)).Err()
}
