package controllers

import (
	"net/http"
	"time"

	"github.com/beego/beego/v2/server/web"
	"github.com/chatspace/backend-go/internal/auth"
	"github.com/chatspace/backend-go/internal/config"
	"github.com/chatspace/backend-go/internal/logger"
	"go.uber.org/zap"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// getAuthenticatedUserID 从Authorization header解析JWT得到用户ID
func (c *BaseController) getAuthenticatedUserID() (uint, bool) {
	jwtService := auth.NewJWTService(config.AppConfig.JWT.Secret, config.AppConfig.JWT.Issuer, 24*time.Hour)

	token, err := auth.ExtractTokenFromHeader(c.Ctx.Input.Header("Authorization"))
	if err != nil {
		return 0, false
	}
	claims, err := jwtService.ValidateToken(token)
	if err != nil {
		logger.Warn("Rejected request with invalid token",
			zap.String("path", c.Ctx.Request.RequestURI),
			zap.Error(err))
		return 0, false
	}
	return claims.UserID, true
}

// requireUser 未认证时直接写401并返回false
func (c *BaseController) requireUser() (uint, bool) {
	userID, ok := c.getAuthenticatedUserID()
	if !ok {
		c.JSONError(http.StatusUnauthorized, "authentication required")
		return 0, false
	}
	return userID, true
}
