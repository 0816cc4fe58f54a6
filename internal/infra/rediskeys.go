package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "inboxpilot"
)

// Ключи аудит-индекса и очередей
const (
	RedisKeyAuditEntries  = RedisNamespace + ":audit:entries"  // HASH id -> json
	RedisKeyAuditTimeline = RedisNamespace + ":audit:timeline" // ZSET id по времени
	RedisKeyUnsubscribeQ  = RedisNamespace + ":unsubscribe:queue"
	RedisKeyHoldSet       = RedisNamespace + ":holds"
)

// Распределенные блокировки фоновых задач
const (
	RedisKeyLockSeed      = RedisNamespace + ":lock:seed"
	RedisKeyLockReplay    = RedisNamespace + ":lock:audit-replay"
	RedisKeyLockRecompute = RedisNamespace + ":lock:stats-recompute"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPolicyUpdate сигнал другим инстансам перечитать кэш политик
	RedisChanPolicyUpdate = RedisNamespace + ":policies:update"
	// RedisChanHoldSignal "subject:on" / "subject:off"
	RedisChanHoldSignal = RedisNamespace + ":holds:signal"
)

// AuditItemKey ZSET записей аудита одного письма
func AuditItemKey(itemID string) string {
	return fmt.Sprintf("%s:audit:item:%s", RedisNamespace, itemID)
}
