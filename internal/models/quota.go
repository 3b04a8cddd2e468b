package models

import (
	"time"
)

// QuotaLimit 配额上限表
// 三种维度共用一张表：
//   - UserID 非空、ModelName 为空  → (组, 用户) 总量上限
//   - UserID 非空、ModelName 非空 → (组, 用户, 模型) 上限
//   - UserID 为空、ModelName 非空 → (组, 模型) 全组上限
//
// MaxTokens 为空（或缺行）表示不限制
type QuotaLimit struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	GroupID    uint      `gorm:"column:group_id;not null;index" json:"group_id"`
	UserID     *uint     `gorm:"column:user_id;index" json:"user_id,omitempty"`
	ModelName  *string   `gorm:"column:model_name;size:200" json:"model_name,omitempty"`
	MaxTokens  *int64    `gorm:"column:max_tokens" json:"max_tokens,omitempty"`
	CreateTime time.Time `gorm:"column:create_time;not null" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`
}

func (QuotaLimit) TableName() string {
	return "quota_limits"
}

// UsageRecord 用量记录表，只追加不更新
type UsageRecord struct {
	ID               uint      `gorm:"primaryKey;column:id" json:"id"`
	GroupID          *uint     `gorm:"column:group_id;index" json:"group_id,omitempty"`
	UserID           uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	SessionID        string    `gorm:"column:session_id;size:36;index" json:"session_id"`
	ProviderPrefix   string    `gorm:"column:provider_prefix;size:50" json:"provider_prefix"`
	ModelName        string    `gorm:"column:model_name;size:200;index" json:"model_name"`
	PromptTokens     int       `gorm:"column:prompt_tokens;default:0" json:"prompt_tokens"`
	CompletionTokens int       `gorm:"column:completion_tokens;default:0" json:"completion_tokens"`
	TotalTokens      int       `gorm:"column:total_tokens;default:0" json:"total_tokens"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
