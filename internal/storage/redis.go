// Package storage keeps the cross-run settlement ledger in Redis: settled
// chunks for the summary endpoint, and correlation-id claims for
// deduplication.
package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chunkpay/internal/model"
)

const (
	KeySettled = "settlements:completed"

	correlationTTL = 1 * time.Minute
)

type RedisStore struct {
	db *redis.Client
}

func NewRedisStore(db *redis.Client) *RedisStore {
	return &RedisStore{db: db}
}

// RecordSettled stores one settled chunk as "amount|timestamp|runId|paymentId"
// scored by settlement time, so summaries reduce to a ZRANGEBYSCORE.
func (s *RedisStore) RecordSettled(ctx context.Context, runID string, res model.ChunkResult) error {
	member := strings.Join([]string{
		strconv.FormatInt(res.Amount, 10),
		res.SettledAt.UTC().Format(time.RFC3339Nano),
		runID,
		res.PaymentID,
	}, "|")
	score := float64(res.SettledAt.UTC().UnixNano())
	return s.db.ZAdd(ctx, KeySettled, redis.Z{Score: score, Member: member}).Err()
}

// Claim implements correlation-id deduplication with SETNX. A short TTL is
// enough: duplicates come from double-clicked forms, not replays.
func (s *RedisStore) Claim(ctx context.Context, correlationID string) (bool, error) {
	return s.db.SetNX(ctx, "correlation:"+correlationID, "1", correlationTTL).Result()
}

type Summary struct {
	TotalSettlements int   `json:"totalSettlements"`
	TotalAmount      int64 `json:"totalAmount"`
}

// SettledSummary aggregates settled chunks in [from, to]. Zero times mean
// an unbounded side.
func (s *RedisStore) SettledSummary(ctx context.Context, from, to time.Time) (Summary, error) {
	min := "0"
	if !from.IsZero() {
		min = strconv.FormatInt(from.UTC().UnixNano(), 10)
	}
	max := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	if !to.IsZero() {
		max = strconv.FormatInt(to.UTC().UnixNano(), 10)
	}

	items, err := s.db.ZRangeByScore(ctx, KeySettled, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, entry := range items {
		parts := strings.Split(entry, "|")
		if len(parts) < 2 {
			continue
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			continue
		}
		summary.TotalAmount += amount
		summary.TotalSettlements++
	}
	return summary, nil
}
