// Package redis caches customer KYC profiles in front of the authoritative
// provider. Transaction histories are never cached; scoring always reads the
// current history.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/banking/sar-governance/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "sar:customer:profile:"

// NewClient creates a client from the configuration and checks connectivity
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// ProfileCache is a read-through cache over a CustomerProfileProvider.
// Cache failures degrade to the underlying provider.
type ProfileCache struct {
	client redis.UniversalClient
	next   repository.CustomerProfileProvider
	ttl    time.Duration
	logger *zap.Logger
}

var _ repository.CustomerProfileProvider = (*ProfileCache)(nil)

// NewProfileCache wraps next with a cache whose entries expire after ttl
func NewProfileCache(client redis.UniversalClient, next repository.CustomerProfileProvider, ttl time.Duration, logger *zap.Logger) *ProfileCache {
	return &ProfileCache{client: client, next: next, ttl: ttl, logger: logger}
}

func (c *ProfileCache) GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	key := keyPrefix + customerID
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p domain.CustomerProfile
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		c.logger.Warn("Discarding corrupt cached profile", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Profile cache read failed", zap.String("key", key), zap.Error(err))
	}

	p, err := c.next.GetProfile(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("Profile cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return p, nil
}

// Invalidate drops the cached profile of a customer
func (c *ProfileCache) Invalidate(ctx context.Context, customerID string) error {
	if err := c.client.Del(ctx, keyPrefix+customerID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate profile: %w", err)
	}
	return nil
}
