package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/inboxpilot/internal/infra"
)

// UnsubscribeMail заявка на отписку письмом. Отправляет ее внешний почтовый воркер.
type UnsubscribeMail struct {
	ItemID      string    `json:"item_id"`
	Mailto      string    `json:"mailto"`
	RequestedAt time.Time `json:"requested_at"`
}

// RedisMailQueue асинхронная очередь заявок на отписку (LPUSH / BRPOP)
type RedisMailQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisMailQueue(rdb *redis.Client) *RedisMailQueue {
	return &RedisMailQueue{rdb: rdb, key: infra.RedisKeyUnsubscribeQ}
}

func (q *RedisMailQueue) RequestUnsubscribe(ctx context.Context, itemID, mailto string) error {
	body, err := json.Marshal(UnsubscribeMail{ItemID: itemID, Mailto: mailto, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("enqueue unsubscribe mail: %w", err)
	}
	return nil
}

// Pending размер очереди для дашборда
func (q *RedisMailQueue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// Next забирает самую старую заявку. nil без ошибки - очередь пуста до истечения wait.
func (q *RedisMailQueue) Next(ctx context.Context, wait time.Duration) (*UnsubscribeMail, error) {
	res, err := q.rdb.BRPop(ctx, wait, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// res[0] - ключ, res[1] - значение
	var m UnsubscribeMail
	if err := json.Unmarshal([]byte(res[1]), &m); err != nil {
		return nil, fmt.Errorf("decode unsubscribe mail: %w", err)
	}
	return &m, nil
}
