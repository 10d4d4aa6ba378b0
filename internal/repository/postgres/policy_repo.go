package postgres

/*
Файл policy_repo.go отвечает за хранение и поставку политик доступа.
Данный слой обеспечивает отделение долговременного хранения документов
политик в PostgreSQL от их мгновенной проверки в оперативной памяти
оркестратора (policy.DocCache).
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// Документ политики хранится целиком (defaults + правила) в JSONB:
// движок всегда оперирует полным документом тенанта, построчное
// хранение правил не даёт ничего, кроме лишних JOIN.

func (r *Repo) GetPolicyDocument(ctx context.Context, tenantID string) (*domain.PolicyDocument, error) {
	query := `SELECT doc FROM policy_documents WHERE tenant_id = $1`

	var raw []byte
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // Возвращаем nil для 404 в хендлере
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch policy document: %w", err)
	}

	var doc domain.PolicyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres: corrupt policy document %s: %w", tenantID, err)
	}
	return &doc, nil
}

// GetAllDocuments выполняет "холодную загрузку" всего набора политик при старте.
// DocCache вызывает этот метод при Seed и при каждом refresh-сигнале.
func (r *Repo) GetAllDocuments(ctx context.Context) ([]domain.PolicyDocument, error) {
	rows, err := r.pool.Query(ctx, `SELECT doc FROM policy_documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.PolicyDocument
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc domain.PolicyDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("postgres: corrupt policy document: %w", err)
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

// UpsertPolicyDocument сохраняет документ тенанта целиком, поднимая version.
// Версию присваивает вызывающий слой (console service).
func (r *Repo) UpsertPolicyDocument(ctx context.Context, doc *domain.PolicyDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal policy document: %w", err)
	}

	query := `
		INSERT INTO policy_documents (tenant_id, version, doc, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE
		SET version = EXCLUDED.version,
		    doc = EXCLUDED.doc,
		    updated_at = EXCLUDED.updated_at`

	_, err = r.pool.Exec(ctx, query, doc.TenantID, doc.Version, raw, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert policy document: %w", err)
	}
	return nil
}

// DeletePolicyDocument удаляет документ тенанта. После удаления тенант
// возвращается к стандартным политикам (READ разрешён, остальное запрещено).
func (r *Repo) DeletePolicyDocument(ctx context.Context, tenantID string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM policy_documents WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete policy document: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: policy document not found")
	}
	return nil
}
