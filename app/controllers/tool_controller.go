package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chatspace/backend-go/internal/database"
	"github.com/chatspace/backend-go/internal/models"
	"github.com/go-playground/validator/v10"
)

// ToolController 工具端点注册管理
type ToolController struct {
	BaseController
}

type toolBody struct {
	Name     string `json:"name" validate:"required,max=200"`
	Endpoint string `json:"endpoint" validate:"required,url"`
	SpecPath string `json:"spec_path"`
	AuthKey  string `json:"auth_key"`
	Active   *bool  `json:"active"`
}

var toolValidator = validator.New()

// List 列出当前用户注册的工具
// GET /api/tools
func (c *ToolController) List() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}

	var tools []models.ToolEndpoint
	err := database.DB.Where("user_id = ?", userID).Order("id ASC").Find(&tools).Error
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(tools)
}

// Create 注册新工具
// POST /api/tools
func (c *ToolController) Create() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}

	var body toolBody
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if err := toolValidator.Struct(&body); err != nil {
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}

	tool := &models.ToolEndpoint{
		UserID:   userID,
		Name:     body.Name,
		Endpoint: body.Endpoint,
		SpecPath: body.SpecPath,
		AuthKey:  body.AuthKey,
		Active:   true,
	}
	if tool.SpecPath == "" {
		tool.SpecPath = "/spec"
	}
	if body.Active != nil {
		tool.Active = *body.Active
	}

	if err := database.DB.Create(tool).Error; err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "data": tool})
}

// Update 更新工具注册信息
// PUT /api/tools/:tool_id
func (c *ToolController) Update() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}
	tool, ok := c.loadOwned(userID)
	if !ok {
		return
	}

	var body toolBody
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	if body.Name != "" {
		tool.Name = body.Name
	}
	if body.Endpoint != "" {
		tool.Endpoint = body.Endpoint
	}
	if body.SpecPath != "" {
		tool.SpecPath = body.SpecPath
	}
	if body.AuthKey != "" {
		tool.AuthKey = body.AuthKey
	}
	if body.Active != nil {
		tool.Active = *body.Active
	}

	if err := database.DB.Save(tool).Error; err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(tool)
}

// Delete 注销工具
// DELETE /api/tools/:tool_id
func (c *ToolController) Delete() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}
	tool, ok := c.loadOwned(userID)
	if !ok {
		return
	}

	if err := database.DB.Delete(tool).Error; err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(map[string]uint{"deleted": tool.ID})
}

func (c *ToolController) loadOwned(userID uint) (*models.ToolEndpoint, bool) {
	toolID, err := strconv.ParseUint(c.Ctx.Input.Param(":tool_id"), 10, 32)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "invalid tool id")
		return nil, false
	}

	var tool models.ToolEndpoint
	if err := database.DB.Where("id = ? AND user_id = ?", uint(toolID), userID).First(&tool).Error; err != nil {
		c.JSONError(http.StatusNotFound, "tool not found")
		return nil, false
	}
	return &tool, true
}
