package batchgroup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const groupTTL = 7 * 24 * time.Hour

var registerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'execution_id', ARGV[1], 'stage_id', ARGV[2], 'expected', ARGV[3],
	'reported', 0, 'sent', 0, 'failed', 0, 'fired', 0, 'firing_until', 0)
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[6])
return 1
`)

// claimSource hands the completion to the caller unless the group is fired or held.
// The last element of the reply is 1 for the caller that won the claim.
const claimSource = `
local function claim(key, now, until, complete_only)
	local group = redis.call('HMGET', key, 'execution_id', 'stage_id', 'expected', 'reported',
		'sent', 'failed', 'fired', 'firing_until')
	local complete = tonumber(group[4]) >= tonumber(group[3])
	local claimed = 0
	if group[7] ~= '1' and (complete or not complete_only) and (tonumber(group[8]) or 0) <= tonumber(now) then
		redis.call('HSET', key, 'firing_until', until)
		claimed = 1
	end
	return {group[1], group[2], group[3], group[4], group[5], group[6], claimed}
end
`

var reportScript = redis.NewScript(claimSource + `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
if redis.call('HGET', KEYS[2], ARGV[1]) ~= 'reported' then
	redis.call('HSET', KEYS[2], ARGV[1], 'reported')
	redis.call('PEXPIRE', KEYS[2], ARGV[4])
	redis.call('HINCRBY', KEYS[1], 'reported', 1)
	redis.call('HINCRBY', KEYS[1], 'sent', ARGV[2])
	redis.call('HINCRBY', KEYS[1], 'failed', ARGV[3])
end
return claim(KEYS[1], ARGV[5], ARGV[6], true)
`)

var expiredScript = redis.NewScript(claimSource + `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
return claim(KEYS[1], ARGV[1], ARGV[2], false)
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'firing_until', 0)
return 1
`)

// RedisTracker keeps each group in a hash, its batch slots in a second hash and every
// unfired group in a sorted set scored by deadline.
type RedisTracker struct {
	client       redis.UniversalClient
	prefix       string
	deadlinesKey string
	now          func() time.Time
}

func NewRedisTracker(client redis.UniversalClient, prefix string) *RedisTracker {
	if prefix == "" {
		prefix = "outflow:batchgroup"
	}

	return &RedisTracker{client: client, prefix: prefix, deadlinesKey: prefix + ":deadlines", now: time.Now}
}

func (t *RedisTracker) groupKey(id string) string {
	return t.prefix + ":" + id
}

func (t *RedisTracker) slotsKey(id string) string {
	return t.prefix + ":" + id + ":slots"
}

func (t *RedisTracker) Register(ctx context.Context, group Group) error {
	err := registerScript.Run(ctx, t.client,
		[]string{t.groupKey(group.ID), t.deadlinesKey},
		group.ExecutionID, group.StageID, group.Expected,
		group.Deadline.UnixMilli(), groupTTL.Milliseconds(), group.ID,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to register batch group %s: %w", group.ID, err)
	}

	return nil
}

func (t *RedisTracker) ClaimSlot(ctx context.Context, groupID string, batchNumber int) (bool, error) {
	exists, err := t.client.Exists(ctx, t.groupKey(groupID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to load batch group %s: %w", groupID, err)
	}

	if exists == 0 {
		return false, ErrUnknownGroup
	}

	claimed, err := t.client.HSetNX(ctx, t.slotsKey(groupID), strconv.Itoa(batchNumber), "claimed").Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim batch %d of group %s: %w", batchNumber, groupID, err)
	}

	t.client.PExpire(ctx, t.slotsKey(groupID), groupTTL)

	return claimed, nil
}

func (t *RedisTracker) Report(ctx context.Context, groupID string, batchNumber, sent, failed int) (*Completion, error) {
	now := t.now()

	values, err := reportScript.Run(ctx, t.client,
		[]string{t.groupKey(groupID), t.slotsKey(groupID)},
		batchNumber, sent, failed, groupTTL.Milliseconds(),
		now.UnixMilli(), now.Add(FiringLease).UnixMilli(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownGroup
	}

	if err != nil {
		return nil, fmt.Errorf("failed to report batch %d of group %s: %w", batchNumber, groupID, err)
	}

	completion, claimed, err := decodeGroup(groupID, values)
	if err != nil || !claimed {
		return nil, err
	}

	return completion, nil
}

func (t *RedisTracker) Expired(ctx context.Context, now time.Time) ([]*Completion, error) {
	ids, err := t.client.ZRangeByScore(ctx, t.deadlinesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch group deadlines: %w", err)
	}

	expired := make([]*Completion, 0, len(ids))

	for _, id := range ids {
		values, err := expiredScript.Run(ctx, t.client, []string{t.groupKey(id)},
			now.UnixMilli(), now.Add(FiringLease).UnixMilli(),
		).Slice()
		if errors.Is(err, redis.Nil) {
			t.client.ZRem(ctx, t.deadlinesKey, id)

			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to claim batch group %s: %w", id, err)
		}

		completion, claimed, err := decodeGroup(id, values)
		if err != nil {
			return nil, err
		}

		if claimed {
			expired = append(expired, completion)
		}
	}

	return expired, nil
}

func (t *RedisTracker) MarkFired(ctx context.Context, groupID string) error {
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, t.groupKey(groupID), "fired", 1)
		pipe.ZRem(ctx, t.deadlinesKey, groupID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark batch group %s fired: %w", groupID, err)
	}

	return nil
}

func (t *RedisTracker) Release(ctx context.Context, groupID string) error {
	if err := releaseScript.Run(ctx, t.client, []string{t.groupKey(groupID)}).Err(); err != nil {
		return fmt.Errorf("failed to release batch group %s: %w", groupID, err)
	}

	return nil
}

// decodeGroup reads the claim reply; the last element reports whether the caller won.
func decodeGroup(groupID string, values []any) (*Completion, bool, error) {
	if len(values) != 7 {
		return nil, false, fmt.Errorf("batch group %s: unexpected field count %d", groupID, len(values))
	}

	text := func(i int) string {
		switch value := values[i].(type) {
		case string:
			return value
		case int64:
			return strconv.FormatInt(value, 10)
		default:
			return ""
		}
	}

	number := func(i int) (int, error) {
		raw := text(i)
		if raw == "" {
			return 0, nil
		}

		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("batch group %s: invalid counter: %w", groupID, err)
		}

		return parsed, nil
	}

	counters := make([]int, 5)

	for i := range counters {
		value, err := number(i + 2)
		if err != nil {
			return nil, false, err
		}

		counters[i] = value
	}

	completion := &Completion{
		GroupID:     groupID,
		ExecutionID: text(0),
		StageID:     text(1),
		Expected:    counters[0],
		Reported:    counters[1],
		Sent:        counters[2],
		Failed:      counters[3],
	}
	completion.TimedOut = completion.Reported < completion.Expected

	return completion, counters[4] == 1, nil
}
