package ledger

import (
	"context"
	"time"

	"kudi/internal/models"
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordOperationDuration(string, time.Duration) {}
func (n *NoopMetricsCollector) RecordOperationResult(string, string)          {}
func (n *NoopMetricsCollector) RecordCacheHit(string)                         {}
func (n *NoopMetricsCollector) RecordCacheMiss(string)                        {}
func (n *NoopMetricsCollector) RecordError(string, string)                    {}
func (n *NoopMetricsCollector) RecordTransaction(string, string, float64)     {}

type noopCache struct{}

func (noopCache) GetWallet(context.Context, uint) (*models.Wallet, error) { return nil, nil }
func (noopCache) WalletGeneration(context.Context, uint) (int64, error)   { return 0, nil }
func (noopCache) SetWallet(context.Context, *models.Wallet, int64) error  { return nil }
func (noopCache) InvalidateWallet(context.Context, uint) error            { return nil }
