package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chatspace/backend-go/internal/auth"
	"github.com/chatspace/backend-go/internal/config"
	"github.com/chatspace/backend-go/internal/database"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthController 注册与登录
type AuthController struct {
	BaseController
}

type registerBody struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginBody struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

var authValidator = validator.New()

func (c *AuthController) jwtService() *auth.JWTService {
	return auth.NewJWTService(config.AppConfig.JWT.Secret, config.AppConfig.JWT.Issuer, 24*time.Hour)
}

// Register 创建用户
// POST /api/auth/register
func (c *AuthController) Register() {
	var body registerBody
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if err := authValidator.Struct(&body); err != nil {
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}

	user := &models.User{
		Username: body.Username,
		Email:    body.Email,
	}
	if err := user.SetPassword(body.Password); err != nil {
		c.JSONError(http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := database.DB.Create(user).Error; err != nil {
		c.JSONError(http.StatusConflict, "username or email already taken")
		return
	}

	logger.Info("User registered", zap.Uint("user_id", user.UserID), zap.String("username", user.Username))
	c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    user,
	})
}

// Login 校验密码并签发JWT
// POST /api/auth/login
func (c *AuthController) Login() {
	var body loginBody
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if err := authValidator.Struct(&body); err != nil {
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}

	var user models.User
	err := database.DB.Where("username = ?", body.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.CheckPassword(body.Password)) {
		c.JSONError(http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		c.JSONError(http.StatusInternalServerError, "login failed")
		return
	}

	token, err := c.jwtService().GenerateToken(user.UserID, user.Username)
	if err != nil {
		c.JSONError(http.StatusInternalServerError, "failed to issue token")
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"token": token,
		"user":  user,
	})
}
