package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-contact-trace/internal/config"
	"wisefido-contact-trace/internal/models"
)

// CacheManager Redis 缓存管理器
// 将实时配对状态摘要写入 Redis，供仪表盘等协作方读取（缓存自然过期，无需删除）
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// pairCacheKey 构建配对状态缓存键
func (c *CacheManager) pairCacheKey(pair models.PairKey) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Trace.Cache.PairKeyPrefix,
		pair.String(),
		c.config.Trace.Cache.PairSuffix,
	)
}

// UpdatePairSummary 写入实时配对状态摘要
func (c *CacheManager) UpdatePairSummary(ctx context.Context, summary *models.PairSummary) error {
	key := c.pairCacheKey(models.NewPairKey(summary.PersonA, summary.PersonB))

	jsonData, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal pair summary: %w", err)
	}

	err = c.redisClient.Set(
		ctx,
		key,
		jsonData,
		time.Duration(c.config.Trace.Cache.PairTTL)*time.Second,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set pair summary cache: %w", err)
	}

	c.logger.Debug("Updated pair summary cache",
		zap.String("key", key),
		zap.String("phase", summary.Phase),
		zap.Float64("cumulative_risk", summary.CumulativeRisk),
	)

	return nil
}

// GetPairSummary 读取实时配对状态摘要
func (c *CacheManager) GetPairSummary(ctx context.Context, pair models.PairKey) (*models.PairSummary, error) {
	key := c.pairCacheKey(pair)

	val, err := c.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("pair summary not found: %s", pair.String())
		}
		return nil, fmt.Errorf("failed to get pair summary: %w", err)
	}

	var summary models.PairSummary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pair summary: %w", err)
	}

	return &summary, nil
}
