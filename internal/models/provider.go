package models

import (
	"time"
)

// OwnerType 凭证归属类型
type OwnerType string

const (
	OwnerTypeUser  OwnerType = "user"
	OwnerTypeGroup OwnerType = "group"
)

// ProviderCredential 上游提供商凭证表
// Prefix 是嵌在客户端模型选择串里的短标识：选择串形如 {prefix}-{modelId}，
// prefix 决定走哪套凭证，余下部分是上游的真实模型名
type ProviderCredential struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	OwnerType  OwnerType `gorm:"column:owner_type;size:20;not null;index" json:"owner_type"`
	UserID     *uint     `gorm:"column:user_id;index" json:"user_id,omitempty"`
	GroupID    *uint     `gorm:"column:group_id;index" json:"group_id,omitempty"`
	Prefix     string    `gorm:"column:prefix;size:50;not null;index" json:"prefix"`
	APIURL     string    `gorm:"column:api_url;size:500;not null" json:"api_url"`
	APIKey     string    `gorm:"column:api_key;size:500;not null" json:"-"`
	Enabled    bool      `gorm:"column:enabled;default:true" json:"enabled"`
	CreateTime time.Time `gorm:"column:create_time;not null" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`
}

func (ProviderCredential) TableName() string {
	return "provider_credentials"
}

// UserGroup 用户组表
type UserGroup struct {
	GroupID    uint      `gorm:"primaryKey;column:group_id" json:"group_id"`
	Name       string    `gorm:"column:name;size:200;not null" json:"name"`
	CreateTime time.Time `gorm:"column:create_time;not null" json:"create_time"`
}

func (UserGroup) TableName() string {
	return "user_groups"
}

// GroupMember 用户组成员表
type GroupMember struct {
	ID      uint   `gorm:"primaryKey;column:id" json:"id"`
	GroupID uint   `gorm:"column:group_id;not null;index" json:"group_id"`
	UserID  uint   `gorm:"column:user_id;not null;index" json:"user_id"`
	Role    string `gorm:"column:role;size:20;default:'member'" json:"role"`

	Group *UserGroup `gorm:"foreignKey:GroupID" json:"group,omitempty"`
}

func (GroupMember) TableName() string {
	return "group_members"
}
