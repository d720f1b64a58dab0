// Package worker runs the asynchronous side of the withdrawal saga: a Redis
// stream carries accepted withdrawals to consumers, and a sweeper repairs
// whatever the stream missed.
package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const fieldWithdrawalID = "withdrawal_id"

// WithdrawalQueue publishes accepted withdrawals. It implements
// withdrawal.Dispatcher.
type WithdrawalQueue struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
}

func NewWithdrawalQueue(rdb redis.UniversalClient, stream string) *WithdrawalQueue {
	if stream == "" {
		stream = DefaultStream
	}
	return &WithdrawalQueue{rdb: rdb, stream: stream, maxLen: 100000}
}

func (q *WithdrawalQueue) Dispatch(ctx context.Context, withdrawalID uint) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			fieldWithdrawalID: strconv.FormatUint(uint64(withdrawalID), 10),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue withdrawal %d: %w", withdrawalID, err)
	}
	return nil
}

func parseWithdrawalID(values map[string]interface{}) (uint, error) {
	raw, ok := getStr(values, fieldWithdrawalID)
	if !ok {
		return 0, fmt.Errorf("missing %s", fieldWithdrawalID)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", fieldWithdrawalID, raw)
	}
	return uint(id), nil
}

func getStr(m map[string]interface{}, key string) (string, bool) {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case string:
			return t, true
		case []byte:
			return string(t), true
		}
	}
	return "", false
}
