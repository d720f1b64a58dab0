package worker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	apperrors "kudi/internal/errors"
	"kudi/internal/services/withdrawal"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, id uint) error {
	return m.Called(ctx, id).Error(0)
}

type MockSweepTargets struct {
	mock.Mock
}

func (m *MockSweepTargets) Reconcile(ctx context.Context) (*withdrawal.ReconcileReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*withdrawal.ReconcileReport), args.Error(1)
}

func (m *MockSweepTargets) ExpireStale(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockSweepTargets) RecordSweep(at time.Time) {
	m.Called(at)
}

func TestParseWithdrawalID(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		want    uint
		wantErr bool
	}{
		{name: "string", values: map[string]interface{}{"withdrawal_id": "42"}, want: 42},
		{name: "bytes", values: map[string]interface{}{"withdrawal_id": []byte("7")}, want: 7},
		{name: "missing", values: map[string]interface{}{}, wantErr: true},
		{name: "zero", values: map[string]interface{}{"withdrawal_id": "0"}, wantErr: true},
		{name: "garbage", values: map[string]interface{}{"withdrawal_id": "abc"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWithdrawalID(tt.values)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	targets := new(MockSweepTargets)
	targets.On("Reconcile", mock.Anything).Return(&withdrawal.ReconcileReport{Compensated: 1}, nil).Once()
	targets.On("ExpireStale", mock.Anything).Return(2, nil).Once()
	targets.On("RecordSweep", mock.AnythingOfType("time.Time")).Once()

	NewSweeper(targets, targets, time.Second, targets).RunOnce(context.Background())
	targets.AssertExpectations(t)
}

func TestSweeper_FundingRunsWhenWithdrawalSweepFails(t *testing.T) {
	targets := new(MockSweepTargets)
	targets.On("Reconcile", mock.Anything).Return(nil, errors.New("db down")).Once()
	targets.On("ExpireStale", mock.Anything).Return(0, nil).Once()

	NewSweeper(targets, targets, time.Second, nil).RunOnce(context.Background())
	targets.AssertExpectations(t)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	targets := new(MockSweepTargets)
	targets.On("Reconcile", mock.Anything).Return(&withdrawal.ReconcileReport{}, nil)
	targets.On("ExpireStale", mock.Anything).Return(0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(targets, targets, 10*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.GreaterOrEqual(t, len(targets.Calls), 2)
}

// Requires a running Redis; set REDIS_ADDR (e.g. localhost:6379).
func TestWithdrawalStream(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream := "test:withdrawals:" + uuid.NewString()
	defer rdb.Del(context.Background(), stream)

	processed := make(chan uint, 3)
	proc := new(MockProcessor)
	proc.On("Process", mock.Anything, uint(1)).Return(nil).Run(func(args mock.Arguments) { processed <- 1 })
	proc.On("Process", mock.Anything, uint(2)).Return(apperrors.ErrNotFound).Run(func(args mock.Arguments) { processed <- 2 })

	queue := NewWithdrawalQueue(rdb, stream)
	require.NoError(t, queue.Dispatch(ctx, 1))
	require.NoError(t, queue.Dispatch(ctx, 2))

	w := NewWithdrawalWorker(rdb, proc, &Options{Stream: stream, Block: 100 * time.Millisecond})
	runCtx, stop := context.WithCancel(ctx)
	go func() { _ = w.Run(runCtx, ConsumerName("test", 0)) }()

	got := map[uint]bool{}
	for len(got) < 2 {
		select {
		case id := <-processed:
			got[id] = true
		case <-ctx.Done():
			t.Fatal("messages not processed")
		}
	}
	stop()

	assert.Eventually(t, func() bool {
		pending, err := rdb.XPending(context.Background(), stream, DefaultGroup).Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 50*time.Millisecond)
}
