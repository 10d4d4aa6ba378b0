package domain

import "fmt"

// ActorType классифицирует принципала, от имени которого выполняется запрос
type ActorType string

const (
	ActorHuman      ActorType = "human"      // Живой оператор (web/cli)
	ActorService    ActorType = "service"    // Доверенный сервис платформы
	ActorAutomation ActorType = "automation" // Интеграция (webhook, бот)
)

// SourceChannel — канал, через который запрос попал в систему
type SourceChannel string

const (
	ChannelCLI     SourceChannel = "cli"
	ChannelWeb     SourceChannel = "web"
	ChannelAPI     SourceChannel = "api"
	ChannelWebhook SourceChannel = "webhook"
)

// ActorContext идентифицирует действующего принципала
type ActorContext struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// TenantContext — неизменяемый контекст запроса.
// Создается транспортным слоем один раз и проходит через весь Run без изменений.
// Каждое решение политики и каждое событие аудита должно быть атрибутировано
// ровно одному TenantContext (Zero Trust: нет контекста — нет выполнения).
type TenantContext struct {
	TenantID string        `json:"tenant_id"`
	Actor    ActorContext  `json:"actor"`
	Channel  SourceChannel `json:"channel"`
}

// Validate проверяет полноту контекста до того, как он попадет в оркестратор
func (tc TenantContext) Validate() error {
	if tc.TenantID == "" {
		return fmt.Errorf("tenant context: tenant_id is required")
	}
	if tc.Actor.ID == "" {
		return fmt.Errorf("tenant context: actor id is required")
	}
	switch tc.Actor.Type {
	case ActorHuman, ActorService, ActorAutomation:
	default:
		return fmt.Errorf("tenant context: unknown actor type %q", tc.Actor.Type)
	}
	switch tc.Channel {
	case ChannelCLI, ChannelWeb, ChannelAPI, ChannelWebhook:
	default:
		return fmt.Errorf("tenant context: unknown source channel %q", tc.Channel)
	}
	return nil
}
