package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"github.com/xela07ax/devflow-orchestrator/internal/infra"
	"github.com/xela07ax/devflow-orchestrator/internal/policy"
)

// PolicyRepository описывает требования сервиса к хранилищу политик
type PolicyRepository interface {
	GetPolicyDocument(ctx context.Context, tenantID string) (*domain.PolicyDocument, error)
	GetAllDocuments(ctx context.Context) ([]domain.PolicyDocument, error)
	UpsertPolicyDocument(ctx context.Context, doc *domain.PolicyDocument) error
	DeletePolicyDocument(ctx context.Context, tenantID string) error
}

type PolicyService struct {
	repo PolicyRepository
	rdb  *redis.Client
}

func NewPolicyService(repo PolicyRepository, rdb *redis.Client) *PolicyService {
	return &PolicyService{
		repo: repo,
		rdb:  rdb,
	}
}

func (s *PolicyService) GetByTenant(ctx context.Context, tenantID string) (*domain.PolicyDocument, error) {
	return s.repo.GetPolicyDocument(ctx, tenantID)
}

// GetAll возвращает документы всех тенантов из БД
func (s *PolicyService) GetAll(ctx context.Context) ([]domain.PolicyDocument, error) {
	return s.repo.GetAllDocuments(ctx)
}

// Upsert валидирует и сохраняет документ тенанта целиком, поднимая
// версию, и уведомляет оркестраторы об обновлении. Невалидный документ
// не сохраняется: оркестратор на таком документе закрывает всё наглухо.
func (s *PolicyService) Upsert(ctx context.Context, doc *domain.PolicyDocument) error {
	if err := policy.ValidateDocument(doc); err != nil {
		return err
	}

	current, err := s.repo.GetPolicyDocument(ctx, doc.TenantID)
	if err != nil {
		return err
	}
	doc.Version = nextVersion(current)
	doc.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpsertPolicyDocument(ctx, doc); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// Delete удаляет документ тенанта
func (s *PolicyService) Delete(ctx context.Context, tenantID string) error {
	if err := s.repo.DeletePolicyDocument(ctx, tenantID); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// nextVersion монотонно поднимает числовую версию документа.
// Нечисловые версии (bootstrap-сиды) начинают счет заново с 1.
func nextVersion(current *domain.PolicyDocument) string {
	if current == nil {
		return "1"
	}
	n, err := strconv.Atoi(current.Version)
	if err != nil {
		return "1"
	}
	return strconv.Itoa(n + 1)
}

// notifyUpdate отправляет широковещательный сигнал в Redis.
// Все инстансы оркестратора, подписанные на этот канал, вызовут Refresh()
// своего DocCache.
func (s *PolicyService) notifyUpdate(ctx context.Context) error {
	// Сигнал может быть простым "refresh", так как оркестратор сам
	// перечитает всю таблицу
	return s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err()
}
