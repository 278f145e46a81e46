package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// RedisStats reads engagement counters written by delivery webhooks:
//
//	<prefix>:<message id>            hash metric -> aggregate value
//	<prefix>:<message id>:<metric>   hash prospect id -> value
type RedisStats struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStats(client redis.UniversalClient, prefix string) *RedisStats {
	if prefix == "" {
		prefix = "outflow:stats"
	}

	return &RedisStats{client: client, prefix: prefix}
}

func (s *RedisStats) messageKey(messageID string) string {
	return s.prefix + ":" + messageID
}

func (s *RedisStats) recipientKey(messageID, metric string) string {
	return s.prefix + ":" + messageID + ":" + metric
}

// EngagementStats returns zero for a metric nobody has reported yet.
func (s *RedisStats) EngagementStats(ctx context.Context, messageID, metric string) (float64, error) {
	value, err := s.client.HGet(ctx, s.messageKey(messageID), metric).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStatsUnavailable, err)
	}

	return value, nil
}

func (s *RedisStats) RecipientStats(ctx context.Context, messageID, metric string, prospectIDs []string) (map[string]float64, error) {
	stats := make(map[string]float64, len(prospectIDs))
	if len(prospectIDs) == 0 {
		return stats, nil
	}

	values, err := s.client.HMGet(ctx, s.recipientKey(messageID, metric), prospectIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatsUnavailable, err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value for prospect %s: %w", metric, prospectIDs[i], err)
		}

		stats[prospectIDs[i]] = parsed
	}

	return stats, nil
}

// Record adds delta to the metric of one prospect and to the message aggregate.
func (s *RedisStats) Record(ctx context.Context, messageID, metric, prospectID string, delta float64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrByFloat(ctx, s.messageKey(messageID), metric, delta)
		if prospectID != "" {
			pipe.HIncrByFloat(ctx, s.recipientKey(messageID, metric), prospectID, delta)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record %s for message %s: %w", metric, messageID, err)
	}

	return nil
}
