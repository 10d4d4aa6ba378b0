package audit

/*
Файл dispatcher.go реализует разветвитель аудита (Audit/Hook Dispatcher).

Ключевые особенности архитектуры:
- Non-blocking Emit: оркестратор кладет событие в буферизованный канал и
  идет дальше. Доставка аудита best-effort и никогда не тормозит Run.
- Строгий порядок: один воркер вычитывает канал последовательно, поэтому
  события одного Run доходят до хуков строго в порядке эмиссии по шагам —
  без переупорядочивания даже при нескольких зарегистрированных хуках.
- Изоляция хуков: паника или ошибка хука ловится и логируется, но не
  прерывает ни доставку остальным хукам, ни продвижение Run.
- Drain Pattern & Graceful Shutdown: при остановке канал запирается,
  воркер вычитывает остаток и делает финальный Flush каждому хуку.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Hook — подключаемый наблюдатель. Диспетчер ничего не знает о его внутренностях.
type Hook interface {
	// Name — описательный идентификатор для списка зарегистрированных хуков
	Name() string
	// Receive обрабатывает одно событие. Ошибка логируется и не влияет на Run.
	Receive(ctx context.Context, event Event) error
}

// Flusher — опциональная способность хука дописать накопленное при остановке
type Flusher interface {
	Flush(ctx context.Context) error
}

type Dispatcher struct {
	ch     chan Event
	hooks  []Hook // Порядок регистрации = порядок вызова
	logger *zap.Logger
	wg     sync.WaitGroup
	// Защита от Emit после остановки
	isClosed atomic.Bool
}

func NewDispatcher(bufferSize int, logger *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Dispatcher{
		ch:     make(chan Event, bufferSize),
		logger: logger.Named("audit"),
	}
}

// RegisterHook добавляет наблюдателя. Вызывается до Start.
func (d *Dispatcher) RegisterHook(h Hook) {
	d.hooks = append(d.hooks, h)
}

// Hooks возвращает дескрипторы зарегистрированных наблюдателей
func (d *Dispatcher) Hooks() []string {
	names := make([]string, 0, len(d.hooks))
	for _, h := range d.hooks {
		names = append(names, h.Name())
	}
	return names
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.worker()
}

// Stop «запирает» вход и ждет, пока воркер допишет остаток буфера
func (d *Dispatcher) Stop() {
	d.isClosed.Store(true)

	// Крошечная пауза, чтобы текущие Emit успели проскочить
	time.Sleep(10 * time.Millisecond)

	d.logger.Info("stopping audit dispatcher: draining buffer...")
	close(d.ch)
	d.wg.Wait()
	d.logger.Info("audit dispatcher stopped gracefully")
}

// Emit — fire-and-forget с точки зрения оркестратора
func (d *Dispatcher) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if d.isClosed.Load() {
		d.logger.Warn("audit event dropped: dispatcher is stopping",
			zap.String("run_id", event.RunID), zap.String("kind", string(event.Kind)))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит хотя бы в лог
	select {
	case d.ch <- event:
	default:
		d.logger.Error("audit_buffer_overflow",
			zap.String("run_id", event.RunID),
			zap.String("kind", string(event.Kind)),
		)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for event := range d.ch {
		d.deliver(event)
	}

	// Канал закрыт — остаток вычитан, даем хукам дописать буферы
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range d.hooks {
		if f, ok := h.(Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				d.logger.Error("hook final flush failed",
					zap.String("hook", h.Name()), zap.Error(err))
			}
		}
	}
	d.logger.Info("audit worker finished")
}

// deliver вызывает хуки в порядке регистрации, изолируя их сбои
func (d *Dispatcher) deliver(event Event) {
	for _, h := range d.hooks {
		d.deliverOne(h, event)
	}
}

func (d *Dispatcher) deliverOne(h Hook, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit hook panicked",
				zap.String("hook", h.Name()), zap.Any("panic", r))
		}
	}()

	// Используем Background: контекст запроса к этому моменту может быть закрыт
	if err := h.Receive(context.Background(), event); err != nil {
		d.logger.Error("audit hook failed",
			zap.String("hook", h.Name()),
			zap.String("run_id", event.RunID),
			zap.Error(err),
		)
	}
}
