package memory

/*
In-memory реализация хранилищ для dev-режима и тестов.
Контракты те же, что у Postgres-репозиториев: ядро не знает,
какая технология за интерфейсом.
*/

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xela07ax/devflow-orchestrator/internal/audit"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	runs      map[string]*domain.Run
	approvals map[string]*domain.ApprovalRecord // run_id -> последняя запись
	docs      map[string]domain.PolicyDocument  // tenant_id -> документ
	events    []audit.Event
}

func NewStore() *Store {
	return &Store{
		runs:      make(map[string]*domain.Run),
		approvals: make(map[string]*domain.ApprovalRecord),
		docs:      make(map[string]domain.PolicyDocument),
	}
}

// --- RunStore ---

func (s *Store) CreateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *Store) UpdateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return domain.ErrRunNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) ListActiveRuns(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, run := range s.runs {
		if !run.Phase.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// cloneRun делает глубокую копию через JSON: дешево для dev-режима
// и исключает расшаренное мутабельное состояние между ядром и стором
func cloneRun(run *domain.Run) *domain.Run {
	raw, _ := json.Marshal(run)
	var copied domain.Run
	_ = json.Unmarshal(raw, &copied)
	return &copied
}

// --- approval.RecordStore ---

func (s *Store) PutApproval(_ context.Context, rec *domain.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.approvals[rec.RunID] = &clone
	return nil
}

func (s *Store) GetApproval(_ context.Context, runID string) (*domain.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.approvals[runID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

// --- policy.DocumentRepository ---

func (s *Store) GetAllDocuments(_ context.Context) ([]domain.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.PolicyDocument, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	return docs, nil
}

func (s *Store) PutDocument(_ context.Context, doc domain.PolicyDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.TenantID] = doc
	return nil
}

// --- audit.BatchStorage ---

func (s *Store) WriteBatch(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events возвращает копию накопленного аудита (для тестов и dev-консоли)
func (s *Store) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}
