package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chatspace/backend-go/internal/database"
	"github.com/chatspace/backend-go/internal/models"
	"github.com/go-playground/validator/v10"
)

// ProviderController 个人提供商凭证管理
// 组凭证由组管理员通过同一套接口维护，owner_type区分
type ProviderController struct {
	BaseController
}

type providerBody struct {
	Prefix  string `json:"prefix" validate:"required,max=50"`
	APIURL  string `json:"api_url" validate:"required,url"`
	APIKey  string `json:"api_key" validate:"required"`
	Enabled *bool  `json:"enabled"`
	GroupID *uint  `json:"group_id"`
}

var providerValidator = validator.New()

// List 列出当前用户的凭证，密钥不回传
// GET /api/providers
func (c *ProviderController) List() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}

	var creds []models.ProviderCredential
	err := database.DB.Where("owner_type = ? AND user_id = ?", models.OwnerTypeUser, userID).
		Order("id ASC").Find(&creds).Error
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(creds)
}

// Create 新增凭证
// POST /api/providers
func (c *ProviderController) Create() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}

	var body providerBody
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if err := providerValidator.Struct(&body); err != nil {
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	cred := &models.ProviderCredential{
		OwnerType: models.OwnerTypeUser,
		UserID:    &userID,
		Prefix:    body.Prefix,
		APIURL:    body.APIURL,
		APIKey:    body.APIKey,
		Enabled:   enabled,
	}
	if body.GroupID != nil {
		// 组凭证要求调用者是该组管理员
		if !c.isGroupAdmin(userID, *body.GroupID) {
			c.JSONError(http.StatusForbidden, "group admin role required")
			return
		}
		cred.OwnerType = models.OwnerTypeGroup
		cred.UserID = nil
		cred.GroupID = body.GroupID
	}

	if err := database.DB.Create(cred).Error; err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "data": cred})
}

// Update 更新凭证，空api_key表示保持原值
// PUT /api/providers/:credential_id
func (c *ProviderController) Update() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}
	cred, ok := c.loadOwned(userID)
	if !ok {
		return
	}

	var body providerBody
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	if body.Prefix != "" {
		cred.Prefix = body.Prefix
	}
	if body.APIURL != "" {
		cred.APIURL = body.APIURL
	}
	if body.APIKey != "" {
		cred.APIKey = body.APIKey
	}
	if body.Enabled != nil {
		cred.Enabled = *body.Enabled
	}

	if err := database.DB.Save(cred).Error; err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(cred)
}

// Delete 删除凭证
// DELETE /api/providers/:credential_id
func (c *ProviderController) Delete() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}
	cred, ok := c.loadOwned(userID)
	if !ok {
		return
	}

	if err := database.DB.Delete(cred).Error; err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(map[string]uint{"deleted": cred.ID})
}

func (c *ProviderController) loadOwned(userID uint) (*models.ProviderCredential, bool) {
	credID, err := strconv.ParseUint(c.Ctx.Input.Param(":credential_id"), 10, 32)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "invalid credential id")
		return nil, false
	}

	var cred models.ProviderCredential
	if err := database.DB.First(&cred, uint(credID)).Error; err != nil {
		c.JSONError(http.StatusNotFound, "credential not found")
		return nil, false
	}

	switch cred.OwnerType {
	case models.OwnerTypeUser:
		if cred.UserID == nil || *cred.UserID != userID {
			c.JSONError(http.StatusForbidden, "not your credential")
			return nil, false
		}
	case models.OwnerTypeGroup:
		if cred.GroupID == nil || !c.isGroupAdmin(userID, *cred.GroupID) {
			c.JSONError(http.StatusForbidden, "group admin role required")
			return nil, false
		}
	}
	return &cred, true
}

func (c *ProviderController) isGroupAdmin(userID, groupID uint) bool {
	var member models.GroupMember
	err := database.DB.Where("group_id = ? AND user_id = ? AND role = ?", groupID, userID, "admin").
		First(&member).Error
	return err == nil
}
