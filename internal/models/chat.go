package models

import (
	"time"
)

// DefaultSessionTitle 会话的哨兵标题，标题合成器只会改写仍为该值的会话
const DefaultSessionTitle = "New Chat"

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession 聊天会话表
type ChatSession struct {
	ID             string    `gorm:"primaryKey;column:id;size:36" json:"id"`
	UserID         uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	Title          string    `gorm:"column:title;size:255;not null" json:"title"`
	TitleUserSet   bool      `gorm:"column:title_user_set;default:false" json:"title_user_set"`
	ModelName      string    `gorm:"column:model_name;size:200" json:"model_name"`
	ProviderPrefix string    `gorm:"column:provider_prefix;size:50" json:"provider_prefix"`
	ProjectID      *string   `gorm:"column:project_id;size:36" json:"project_id,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null;index" json:"updated_at"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 聊天消息表
// 除编辑操作显式截断外，消息一经写入不再修改，附件与工具结果是写入时的快照
type ChatMessage struct {
	ID          uint       `gorm:"primaryKey;column:id" json:"id"`
	SessionID   string     `gorm:"column:session_id;size:36;not null;index" json:"session_id"`
	UserID      uint       `gorm:"column:user_id;not null;index" json:"user_id"`
	Role        string     `gorm:"column:role;size:20;not null" json:"role"`
	Content     string     `gorm:"type:text;not null" json:"content"`
	Attachments JSONBArray `gorm:"type:jsonb;column:attachments" json:"attachments,omitempty"`
	ToolResults JSONBArray `gorm:"type:jsonb;column:tool_results" json:"tool_results,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
