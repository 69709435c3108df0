package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultEventTTL — сколько помнить применённые события шлюза.
const DefaultEventTTL = 24 * time.Hour

// EventCache — быстрый путь дедупликации вебхуков. Источник правды остаётся в БД:
// промах или недоступный Redis означает обычную обработку через журнал событий.
type EventCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventCache создаёт кэш поверх клиента Redis.
func NewEventCache(client *redis.Client, ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &EventCache{client: client, ttl: ttl}
}

// Seen сообщает, что событие уже было успешно обработано.
func (c *EventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.client.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// Remember запоминает событие после коммита транзакции.
func (c *EventCache) Remember(ctx context.Context, eventID string) error {
	if err := c.client.Set(ctx, eventKey(eventID), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Ping проверяет соединение (используется health-чекером).
func (c *EventCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func eventKey(eventID string) string {
	return fmt.Sprintf("gateway-event:%s", eventID)
}
