package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/chatspace/backend-go/internal/errors"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// quotaDims 一次配额检查的维度，UserID/ModelName 为空表示该维度不参与
type quotaDims struct {
	GroupID   uint
	UserID    *uint
	ModelName *string
}

// QuotaStore 配额检查的数据访问接口
type QuotaStore interface {
	// LimitFor 返回维度对应的上限，缺行或空上限返回nil表示不限制
	LimitFor(ctx context.Context, dims quotaDims) (*int64, error)
	// UsedTokens 返回维度下历史累计消耗的token总数
	UsedTokens(ctx context.Context, dims quotaDims) (int64, error)
}

// quotaCheck 配额检查链的一环，顺序固定：用户总量 → 用户模型 → 全组模型
type quotaCheck struct {
	name   string
	reason string
	dims   func(groupID, userID uint, model string) quotaDims
}

var quotaChecks = []quotaCheck{
	{
		name:   "user_total",
		reason: "group quota exhausted",
		dims: func(groupID, userID uint, model string) quotaDims {
			return quotaDims{GroupID: groupID, UserID: &userID}
		},
	},
	{
		name:   "user_model",
		reason: "model quota exhausted for this user",
		dims: func(groupID, userID uint, model string) quotaDims {
			return quotaDims{GroupID: groupID, UserID: &userID, ModelName: &model}
		},
	},
	{
		name:   "group_model",
		reason: "group-wide model quota exhausted",
		dims: func(groupID, userID uint, model string) quotaDims {
			return quotaDims{GroupID: groupID, ModelName: &model}
		},
	},
}

// QuotaGuard 配额守卫，仅在命中组凭证时调用
type QuotaGuard struct {
	store  QuotaStore
	logger *zap.Logger
}

// NewQuotaGuard 创建配额守卫
func NewQuotaGuard(store QuotaStore) *QuotaGuard {
	return &QuotaGuard{
		store:  store,
		logger: logger.Named("quota_guard"),
	}
}

// Check 按固定顺序执行三项独立检查，第一项被触发的上限决定拒绝原因
// 返回 apperrors.ErrQuotaExceeded 包装的错误表示拒绝，拒绝发生在流式开始之前
func (g *QuotaGuard) Check(ctx context.Context, groupID, userID uint, model string) error {
	for _, check := range quotaChecks {
		dims := check.dims(groupID, userID, model)

		limit, err := g.store.LimitFor(ctx, dims)
		if err != nil {
			return fmt.Errorf("读取配额上限失败: %w", err)
		}
		if limit == nil {
			// 缺行或空上限 = 不限制
			continue
		}

		used, err := g.store.UsedTokens(ctx, dims)
		if err != nil {
			return fmt.Errorf("统计历史用量失败: %w", err)
		}

		if used >= *limit {
			g.logger.Info("Quota check denied request",
				zap.String("check", check.name),
				zap.Uint("group_id", groupID),
				zap.Uint("user_id", userID),
				zap.String("model", model),
				zap.Int64("used", used),
				zap.Int64("limit", *limit))
			return fmt.Errorf("%w: %s", apperrors.ErrQuotaExceeded, check.reason)
		}
	}
	return nil
}

// gormQuotaStore 基于GORM聚合的配额数据访问实现，前置一层短TTL的Redis缓存
type gormQuotaStore struct {
	db    *gorm.DB
	redis *redis.Client
}

const usageSumCacheTTL = 30 * time.Second

// NewGormQuotaStore 创建配额数据访问实现，redis可为nil（直接走SQL求和）
func NewGormQuotaStore(db *gorm.DB, rdb *redis.Client) QuotaStore {
	return &gormQuotaStore{db: db, redis: rdb}
}

func (s *gormQuotaStore) LimitFor(ctx context.Context, dims quotaDims) (*int64, error) {
	query := s.db.WithContext(ctx).Model(&models.QuotaLimit{}).Where("group_id = ?", dims.GroupID)
	if dims.UserID != nil {
		query = query.Where("user_id = ?", *dims.UserID)
	} else {
		query = query.Where("user_id IS NULL")
	}
	if dims.ModelName != nil {
		query = query.Where("model_name = ?", *dims.ModelName)
	} else {
		query = query.Where("model_name IS NULL")
	}

	var row models.QuotaLimit
	err := query.First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.MaxTokens, nil
}

func (s *gormQuotaStore) UsedTokens(ctx context.Context, dims quotaDims) (int64, error) {
	key := usageSumCacheKey(dims)
	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, key).Result(); err == nil {
			if sum, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return sum, nil
			}
		}
	}

	query := s.db.WithContext(ctx).Model(&models.UsageRecord{}).Where("group_id = ?", dims.GroupID)
	if dims.UserID != nil {
		query = query.Where("user_id = ?", *dims.UserID)
	}
	if dims.ModelName != nil {
		query = query.Where("model_name = ?", *dims.ModelName)
	}

	var sum int64
	if err := query.Select("COALESCE(SUM(total_tokens), 0)").Scan(&sum).Error; err != nil {
		return 0, err
	}

	if s.redis != nil {
		// 缓存写失败不影响检查结果
		s.redis.Set(ctx, key, strconv.FormatInt(sum, 10), usageSumCacheTTL)
	}
	return sum, nil
}

func usageSumCacheKey(dims quotaDims) string {
	user := "*"
	if dims.UserID != nil {
		user = strconv.FormatUint(uint64(*dims.UserID), 10)
	}
	model := "*"
	if dims.ModelName != nil {
		model = *dims.ModelName
	}
	return fmt.Sprintf("quota:sum:%d:%s:%s", dims.GroupID, user, model)
}
