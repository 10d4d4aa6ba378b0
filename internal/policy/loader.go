package policy

import (
	"fmt"
	"os"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

// bootstrapFile — формат YAML-файла с сид-документами политик.
// Позволяет поднять систему с настроенными тенантами без записи в БД.
type bootstrapFile struct {
	Documents []domain.PolicyDocument `yaml:"documents"`
}

// LoadDocuments читает и валидирует сид-документы из YAML.
// Любой битый документ отбраковывает весь файл: частичная загрузка
// политик опаснее, чем отказ при старте (fail-closed).
func LoadDocuments(path string) ([]*domain.PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy bootstrap: %w", err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("policy bootstrap: malformed yaml: %w", err)
	}

	docs := make([]*domain.PolicyDocument, 0, len(file.Documents))
	seen := make(map[string]struct{}, len(file.Documents))
	for i := range file.Documents {
		d := &file.Documents[i]
		if d.TenantID == "" {
			return nil, fmt.Errorf("policy bootstrap: document %d has no tenant_id", i)
		}
		if _, dup := seen[d.TenantID]; dup {
			return nil, fmt.Errorf("policy bootstrap: duplicate tenant_id %q", d.TenantID)
		}
		seen[d.TenantID] = struct{}{}
		if err := ValidateDocument(d); err != nil {
			return nil, fmt.Errorf("policy bootstrap: tenant %q: %w", d.TenantID, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}
