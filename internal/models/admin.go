package models

import (
	"time"
)

// AdminModelConfig 管理员配置的三类固定角色模型（单行表）
//   - work:   标题生成/摘要
//   - task:   工具选择推理
//   - vision: 图片/PDF理解
//
// 任一角色未配置时对应功能自动降级关闭，不报错
type AdminModelConfig struct {
	ID uint `gorm:"primaryKey;column:id" json:"id"`

	WorkModelURL  string `gorm:"column:work_model_url;size:500" json:"work_model_url"`
	WorkModelKey  string `gorm:"column:work_model_key;size:500" json:"-"`
	WorkModelName string `gorm:"column:work_model_name;size:200" json:"work_model_name"`

	TaskModelURL  string `gorm:"column:task_model_url;size:500" json:"task_model_url"`
	TaskModelKey  string `gorm:"column:task_model_key;size:500" json:"-"`
	TaskModelName string `gorm:"column:task_model_name;size:200" json:"task_model_name"`

	VisionModelURL  string `gorm:"column:vision_model_url;size:500" json:"vision_model_url"`
	VisionModelKey  string `gorm:"column:vision_model_key;size:500" json:"-"`
	VisionModelName string `gorm:"column:vision_model_name;size:200" json:"vision_model_name"`

	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`
}

func (AdminModelConfig) TableName() string {
	return "admin_model_configs"
}

// HasWorkModel 标题生成角色是否可用
func (c *AdminModelConfig) HasWorkModel() bool {
	return c != nil && c.WorkModelURL != "" && c.WorkModelName != ""
}

// HasTaskModel 工具选择角色是否可用
func (c *AdminModelConfig) HasTaskModel() bool {
	return c != nil && c.TaskModelURL != "" && c.TaskModelName != ""
}

// HasVisionModel 视觉理解角色是否可用
func (c *AdminModelConfig) HasVisionModel() bool {
	return c != nil && c.VisionModelURL != "" && c.VisionModelName != ""
}
