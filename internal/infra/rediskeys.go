package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "devflow"
)

// Ключи (состояние и блокировки)
const (
	RedisKeyPolicyTenants    = RedisNamespace + ":policies:tenant_set"
	RedisKeyLockPolicyWarmup = RedisNamespace + ":lock:warmup:policies"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalDecisions — канал для трансляции решений оператора (HITL).
	// Формат сообщения: "<run_id>:approved" либо "<run_id>:rejected"
	RedisChanApprovalDecisions = RedisNamespace + ":approvals"
	// RedisChanPolicyUpdate — сигнал инвалидации кэша политик
	RedisChanPolicyUpdate = RedisNamespace + ":policy-update"
	// RedisChanAuditSignal — уведомления о ключевых событиях аудита
	RedisChanAuditSignal = RedisNamespace + ":audit-signal"
)

// GetWarmupLockKey Генератор ключей для блокировок (если нужны динамические)
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
