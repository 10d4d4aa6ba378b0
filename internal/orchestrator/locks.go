package orchestrator

import "sync"

// KeyedLocks — взаимное исключение per-run. Функция перехода шага
// (прочитать шаг, проверить гейты, вызвать агента, записать следующий шаг)
// критическая секция для одного run_id; разные Run не мешают друг другу.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*lockEntry)}
}

// TryLock пытается захватить лок ключа без ожидания.
// Возвращает release-функцию и успех. Второй конкурентный Advance
// того же Run получает ok=false и просто читает персистентное состояние —
// повторного исполнения шага не происходит.
func (k *KeyedLocks) TryLock(key string) (release func(), ok bool) {
	k.mu.Lock()
	e := k.locks[key]
	if e == nil {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	if !e.mu.TryLock() {
		k.release(key, e)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.release(key, e)
		})
	}, true
}

// release уменьшает счетчик и удаляет запись, когда она никому не нужна
// (иначе мапа растет на каждый завершенный Run)
func (k *KeyedLocks) release(key string, e *lockEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
