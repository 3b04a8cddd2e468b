package services

import (
	"context"
	"fmt"
	"time"

	"github.com/chatspace/backend-go/internal/kafka"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UsageService 用量记账
// 落库是记账的主路径，Kafka事件与指标是旁路，失败只记日志不影响对话
type UsageService struct {
	db      *gorm.DB
	redis   *redis.Client
	metrics *MetricsService
	logger  *zap.Logger
}

// NewUsageService 创建用量服务，rdb可为nil（不做配额缓存失效）
func NewUsageService(db *gorm.DB, rdb *redis.Client, metrics *MetricsService) *UsageService {
	return &UsageService{
		db:      db,
		redis:   rdb,
		metrics: metrics,
		logger:  logger.Named("usage_service"),
	}
}

// Record 记录一轮对话的token消耗
// 个人凭证不参与组配额，groupID为nil时仍写用量便于统计
func (u *UsageService) Record(userID uint, groupID *uint, sessionID, providerPrefix, modelName string, usage *StreamUsage) error {
	if usage == nil {
		// 上游没有返回usage，这轮不产生记账数据
		u.logger.Warn("Upstream reported no usage, skipping accounting",
			zap.String("session_id", sessionID),
			zap.String("model", modelName))
		return nil
	}

	record := &models.UsageRecord{
		UserID:           userID,
		GroupID:          groupID,
		SessionID:        sessionID,
		ProviderPrefix:   providerPrefix,
		ModelName:        modelName,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
	if err := u.db.Create(record).Error; err != nil {
		return fmt.Errorf("写入用量记录失败: %w", err)
	}
	if groupID != nil {
		// 立即作废受影响的配额求和缓存，避免在TTL窗口内放过已越限的请求
		u.invalidateQuotaCache(*groupID, userID, modelName)
	}

	if u.metrics != nil {
		u.metrics.TokensTotal.WithLabelValues(modelName, "prompt").Add(float64(usage.PromptTokens))
		u.metrics.TokensTotal.WithLabelValues(modelName, "completion").Add(float64(usage.CompletionTokens))
	}

	go u.emitEvent(&kafka.UsageEvent{
		SessionID:        sessionID,
		UserID:           userID,
		GroupID:          groupID,
		ProviderPrefix:   providerPrefix,
		ModelName:        modelName,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Timestamp:        time.Now(),
	})
	return nil
}

// invalidateQuotaCache 删除这条用量会影响到的三个维度的求和缓存
// 失效失败只记日志，配额检查最多退回到缓存TTL的精度
func (u *UsageService) invalidateQuotaCache(groupID, userID uint, modelName string) {
	if u.redis == nil {
		return
	}
	keys := []string{
		usageSumCacheKey(quotaDims{GroupID: groupID, UserID: &userID}),
		usageSumCacheKey(quotaDims{GroupID: groupID, UserID: &userID, ModelName: &modelName}),
		usageSumCacheKey(quotaDims{GroupID: groupID, ModelName: &modelName}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := u.redis.Del(ctx, keys...).Err(); err != nil {
		u.logger.Warn("Failed to invalidate quota sum cache", zap.Error(err))
	}
}

func (u *UsageService) emitEvent(event *kafka.UsageEvent) {
	producer := kafka.GetProducer()
	if producer == nil {
		return
	}
	if err := producer.SendUsageEvent(event); err != nil {
		u.logger.Warn("Failed to emit usage event", zap.Error(err))
	}
}
