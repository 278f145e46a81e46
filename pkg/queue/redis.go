package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// claimScript moves due members forward by the visibility timeout and returns
// their bodies. Members whose body is gone are dropped from the schedule.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
	local body = redis.call('HGET', KEYS[2], id)
	if body then
		redis.call('ZADD', KEYS[1], ARGV[3], id)
		table.insert(out, body)
	else
		redis.call('ZREM', KEYS[1], id)
	end
end
return out
`)

// RedisQueue keeps the schedule in a sorted set scored by due time in milliseconds and
// the unit bodies in a hash keyed by unit id.
type RedisQueue struct {
	client      redis.UniversalClient
	scheduleKey string
	bodiesKey   string
}

func NewRedisQueue(client redis.UniversalClient, name string) *RedisQueue {
	if name == "" {
		name = "outflow:queue"
	}

	return &RedisQueue{
		client:      client,
		scheduleKey: name + ":schedule",
		bodiesKey:   name + ":units",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, unit *Unit) error {
	body, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to marshal unit %s: %w", unit.ID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.bodiesKey, unit.ID, body)
		pipe.ZAdd(ctx, q.scheduleKey, redis.Z{Score: float64(unit.DueAt.UnixMilli()), Member: unit.ID})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue unit %s: %w", unit.ID, err)
	}

	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]*Unit, error) {
	if limit <= 0 {
		limit = 100
	}

	result, err := claimScript.Run(ctx, q.client,
		[]string{q.scheduleKey, q.bodiesKey},
		now.UnixMilli(), limit, now.Add(visibility).UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due units: %w", err)
	}

	units := make([]*Unit, 0, len(result))
	for _, body := range result {
		var unit Unit
		if err := json.Unmarshal([]byte(body), &unit); err != nil {
			return nil, fmt.Errorf("failed to unmarshal unit: %w", err)
		}

		units = append(units, &unit)
	}

	return units, nil
}

func (q *RedisQueue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.scheduleKey, members...)
		pipe.HDel(ctx, q.bodiesKey, ids...)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to acknowledge units: %w", err)
	}

	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	count, err := q.client.ZCard(ctx, q.scheduleKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queued units: %w", err)
	}

	return int(count), nil
}
