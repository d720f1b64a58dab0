package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "kudi/internal/errors"
	"kudi/internal/logger"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream = "stream:withdrawals"
	DefaultGroup  = "withdrawal_cg"
)

// Processor runs one withdrawal; withdrawal.Saga implements it.
type Processor interface {
	Process(ctx context.Context, withdrawalID uint) error
}

type Options struct {
	Stream  string        // default: DefaultStream
	Group   string        // default: DefaultGroup
	Block   time.Duration // default: 5s
	Batch   int64         // default: 10
	MinIdle time.Duration // default: 1m
}

// WithdrawalWorker consumes the withdrawal stream in a consumer group. A
// message is acked only after Process returns, so a crash mid-transfer leaves
// it pending for XAUTOCLAIM by another consumer.
type WithdrawalWorker struct {
	rdb       redis.UniversalClient
	processor Processor
	opt       Options
}

func NewWithdrawalWorker(rdb redis.UniversalClient, processor Processor, opt *Options) *WithdrawalWorker {
	o := Options{
		Stream:  DefaultStream,
		Group:   DefaultGroup,
		Block:   5 * time.Second,
		Batch:   10,
		MinIdle: time.Minute,
	}
	if opt != nil {
		if opt.Stream != "" {
			o.Stream = opt.Stream
		}
		if opt.Group != "" {
			o.Group = opt.Group
		}
		if opt.Block != 0 {
			o.Block = opt.Block
		}
		if opt.Batch != 0 {
			o.Batch = opt.Batch
		}
		if opt.MinIdle != 0 {
			o.MinIdle = opt.MinIdle
		}
	}
	return &WithdrawalWorker{rdb: rdb, processor: processor, opt: o}
}

func (w *WithdrawalWorker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, w.opt.Stream, w.opt.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	if err == nil {
		logger.Infof("created group %q on %s", w.opt.Group, w.opt.Stream)
	}
	return nil
}

func (w *WithdrawalWorker) reclaimPending(ctx context.Context, consumer string) {
	start := "0-0"
	for {
		msgs, next, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.opt.Stream,
			Group:    w.opt.Group,
			Consumer: consumer,
			MinIdle:  w.opt.MinIdle,
			Start:    start,
			Count:    w.opt.Batch,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logger.Errorf("XAutoClaim error: %v", err)
			}
			return
		}
		for _, m := range msgs {
			w.handleMessage(ctx, m)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func (w *WithdrawalWorker) handleMessage(ctx context.Context, m redis.XMessage) {
	id, err := parseWithdrawalID(m.Values)
	if err != nil {
		logger.Errorf("dropping message %s: %v", m.ID, err)
		w.ack(ctx, m.ID)
		return
	}

	err = w.processor.Process(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		logger.Warnf("withdrawal %d from message %s not found", id, m.ID)
	default:
		// No ack: the message stays pending and is reclaimed after MinIdle.
		logger.Errorf("withdrawal %d: process failed (msg=%s): %v", id, m.ID, err)
		return
	}
	w.ack(ctx, m.ID)
}

func (w *WithdrawalWorker) ack(ctx context.Context, id string) {
	if err := w.rdb.XAck(ctx, w.opt.Stream, w.opt.Group, id).Err(); err != nil {
		logger.Errorf("XAck error (msg=%s): %v", id, err)
	}
}

// Run consumes until ctx is cancelled. Idle periods are used to reclaim
// messages abandoned by dead consumers.
func (w *WithdrawalWorker) Run(ctx context.Context, consumer string) error {
	if err := w.ensureGroup(ctx); err != nil {
		return err
	}
	w.reclaimPending(ctx, consumer)

	backoff := 200 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.opt.Group,
			Consumer: consumer,
			Streams:  []string{w.opt.Stream, ">"},
			Count:    w.opt.Batch,
			Block:    w.opt.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			w.reclaimPending(ctx, consumer)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Errorf("XReadGroup error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 200 * time.Millisecond
		for _, stream := range res {
			for _, msg := range stream.Messages {
				w.handleMessage(ctx, msg)
			}
		}
	}
}

func ConsumerName(instance string, i int) string {
	if instance == "" {
		instance = "app"
	}
	return fmt.Sprintf("%s-%d", instance, i)
}
