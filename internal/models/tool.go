package models

import (
	"time"
)

// ToolEndpoint 工具注册表
// 每行对应一个外部可达的工具服务，通过 SpecPath 暴露机读能力描述
type ToolEndpoint struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	UserID     uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	Name       string    `gorm:"column:name;size:200" json:"name"`
	Endpoint   string    `gorm:"column:endpoint;size:500;not null" json:"endpoint"`
	SpecPath   string    `gorm:"column:spec_path;size:200;default:'/spec'" json:"spec_path"`
	AuthKey    string    `gorm:"column:auth_key;size:500" json:"-"`
	Active     bool      `gorm:"column:active;default:true" json:"active"`
	CreateTime time.Time `gorm:"column:create_time;not null" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`
}

func (ToolEndpoint) TableName() string {
	return "tool_endpoints"
}
