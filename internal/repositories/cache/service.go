package cache

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kudi/internal/models"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/set_wallet.lua
var luaSetWallet string

// generationTTL outlives any read that could still hold an old generation.
const generationTTL = 24 * time.Hour

type CacheService struct {
	client       *redis.Client
	ttl          time.Duration
	scrSetWallet *redis.Script
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client:       client,
		ttl:          defaultTTL,
		scrSetWallet: redis.NewScript(luaSetWallet),
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// Wallet caching. Only committed balances are written here. Every
// invalidation bumps a per-user generation; a fill carrying an older
// generation is dropped, so a read that raced a commit cannot cache the
// balance it saw before that commit.
func (s *CacheService) walletKeys(userID uint) (value, generation string) {
	return s.GenerateKey("wallet", "user", userID), s.GenerateKey("wallet", "gen", userID)
}

func (s *CacheService) GetWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	key, _ := s.walletKeys(userID)
	found, err := s.Get(ctx, key, &wallet)
	if err != nil || !found {
		return nil, err
	}
	return &wallet, nil
}

// WalletGeneration must be read before the database read whose result is
// later passed to SetWallet.
func (s *CacheService) WalletGeneration(ctx context.Context, userID uint) (int64, error) {
	_, genKey := s.walletKeys(userID)
	gen, err := s.client.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get wallet generation: %w", err)
	}
	return gen, nil
}

func (s *CacheService) SetWallet(ctx context.Context, wallet *models.Wallet, generation int64) error {
	if wallet == nil {
		return errors.New("cannot cache nil wallet")
	}
	data, err := json.Marshal(wallet)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	key, genKey := s.walletKeys(wallet.UserID)
	keys := []string{key, genKey}
	if err := s.scrSetWallet.Run(ctx, s.client, keys, generation, string(data), s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to cache wallet: %w", err)
	}
	return nil
}

func (s *CacheService) InvalidateWallet(ctx context.Context, userID uint) error {
	key, genKey := s.walletKeys(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// Close closes the Redis client connection
func (s *CacheService) Close() error {
	return s.client.Close()
}
