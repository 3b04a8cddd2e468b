package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chatspace/backend-go/internal/database"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminController 模型角色配置与配额管理
// 管理面接口，网关层限制为管理员访问
type AdminController struct {
	BaseController
}

// GetModelConfig 读取工作/任务/视觉模型配置
// GET /api/admin/model-config
func (c *AdminController) GetModelConfig() {
	if _, ok := c.requireUser(); !ok {
		return
	}

	var cfg models.AdminModelConfig
	err := database.DB.Order("id ASC").First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSONSuccess(&models.AdminModelConfig{})
		return
	}
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(&cfg)
}

// UpdateModelConfig 更新模型角色配置，单行覆盖
// PUT /api/admin/model-config
func (c *AdminController) UpdateModelConfig() {
	if _, ok := c.requireUser(); !ok {
		return
	}

	var body models.AdminModelConfig
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	body.UpdateTime = time.Now()

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.AdminModelConfig
		err := tx.Order("id ASC").First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&body).Error
		}
		if err != nil {
			return err
		}
		body.ID = existing.ID
		return tx.Save(&body).Error
	})
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}

	logger.Info("Admin model config updated",
		zap.Bool("work", body.HasWorkModel()),
		zap.Bool("task", body.HasTaskModel()),
		zap.Bool("vision", body.HasVisionModel()))
	c.JSONSuccess(&body)
}

// ListQuotas 列出某组的配额限制
// GET /api/admin/groups/:group_id/quotas
func (c *AdminController) ListQuotas() {
	if _, ok := c.requireUser(); !ok {
		return
	}
	groupID, err := strconv.ParseUint(c.Ctx.Input.Param(":group_id"), 10, 32)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "invalid group id")
		return
	}

	var limits []models.QuotaLimit
	if err := database.DB.Where("group_id = ?", groupID).Find(&limits).Error; err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(limits)
}

// UpsertQuota 创建或更新一条配额限制
// POST /api/admin/groups/:group_id/quotas
func (c *AdminController) UpsertQuota() {
	if _, ok := c.requireUser(); !ok {
		return
	}
	groupID, err := strconv.ParseUint(c.Ctx.Input.Param(":group_id"), 10, 32)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "invalid group id")
		return
	}

	var body models.QuotaLimit
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	body.GroupID = uint(groupID)

	// 同维度组合已存在时覆盖
	query := database.DB.Model(&models.QuotaLimit{}).Where("group_id = ?", body.GroupID)
	if body.UserID != nil {
		query = query.Where("user_id = ?", *body.UserID)
	} else {
		query = query.Where("user_id IS NULL")
	}
	if body.ModelName != nil {
		query = query.Where("model_name = ?", *body.ModelName)
	} else {
		query = query.Where("model_name IS NULL")
	}

	var existing models.QuotaLimit
	err = query.First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = database.DB.Create(&body).Error
	} else if err == nil {
		body.ID = existing.ID
		err = database.DB.Save(&body).Error
	}
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(&body)
}

// DeleteQuota 删除配额限制
// DELETE /api/admin/quotas/:quota_id
func (c *AdminController) DeleteQuota() {
	if _, ok := c.requireUser(); !ok {
		return
	}
	quotaID, err := strconv.ParseUint(c.Ctx.Input.Param(":quota_id"), 10, 32)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "invalid quota id")
		return
	}

	result := database.DB.Delete(&models.QuotaLimit{}, uint(quotaID))
	if result.Error != nil {
		c.JSONError(http.StatusInternalServerError, result.Error.Error())
		return
	}
	if result.RowsAffected == 0 {
		c.JSONError(http.StatusNotFound, "quota limit not found")
		return
	}
	c.JSONSuccess(map[string]uint64{"deleted": quotaID})
}

// GroupUsage 查询组的用量汇总
// GET /api/admin/groups/:group_id/usage
func (c *AdminController) GroupUsage() {
	if _, ok := c.requireUser(); !ok {
		return
	}
	groupID, err := strconv.ParseUint(c.Ctx.Input.Param(":group_id"), 10, 32)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "invalid group id")
		return
	}

	type usageRow struct {
		UserID      uint   `json:"user_id"`
		ModelName   string `json:"model_name"`
		TotalTokens int64  `json:"total_tokens"`
	}
	var rows []usageRow
	err = database.DB.Model(&models.UsageRecord{}).
		Select("user_id, model_name, COALESCE(SUM(total_tokens),0) AS total_tokens").
		Where("group_id = ?", groupID).
		Group("user_id, model_name").
		Scan(&rows).Error
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(rows)
}
