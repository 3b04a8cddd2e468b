package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatspace/backend-go/internal/database"
	apperrors "github.com/chatspace/backend-go/internal/errors"
	"github.com/chatspace/backend-go/internal/services"
)

// SessionController 会话管理
type SessionController struct {
	BaseController
}

func (c *SessionController) store() *services.ChatStore {
	return services.NewChatStore(database.DB)
}

// List 列出当前用户的会话，按最近活跃排序
// GET /api/sessions?project_id=
func (c *SessionController) List() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}

	var projectID *string
	if p := c.GetString("project_id"); p != "" {
		projectID = &p
	}

	sessions, err := c.store().ListSessions(userID, projectID)
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSONSuccess(sessions)
}

// Get 获取会话详情及全部消息
// GET /api/sessions/:session_id
func (c *SessionController) Get() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}
	sessionID := c.Ctx.Input.Param(":session_id")

	session, err := c.store().GetSession(sessionID, userID)
	if err != nil {
		c.writeStoreError(err)
		return
	}
	messages, err := c.store().ListMessages(sessionID, userID)
	if err != nil {
		c.writeStoreError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"session":  session,
		"messages": messages,
	})
}

// Rename 用户重命名会话，此后自动标题不再生效
// PUT /api/sessions/:session_id
func (c *SessionController) Rename() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}
	sessionID := c.Ctx.Input.Param(":session_id")

	var body struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil || body.Title == "" {
		c.JSONError(http.StatusBadRequest, "title is required")
		return
	}

	if err := c.store().RenameSession(sessionID, userID, body.Title); err != nil {
		c.writeStoreError(err)
		return
	}
	c.JSONSuccess(map[string]string{"title": body.Title})
}

// Delete 删除会话及其消息
// DELETE /api/sessions/:session_id
func (c *SessionController) Delete() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}
	sessionID := c.Ctx.Input.Param(":session_id")

	if err := c.store().DeleteSession(sessionID, userID); err != nil {
		c.writeStoreError(err)
		return
	}
	c.JSONSuccess(map[string]string{"deleted": sessionID})
}

// DeleteMessage 截断式删除：移除该消息及其之后的全部消息
// DELETE /api/sessions/:session_id/messages/:message_id
func (c *SessionController) DeleteMessage() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}
	sessionID := c.Ctx.Input.Param(":session_id")

	messageID, err := strconv.ParseUint(c.Ctx.Input.Param(":message_id"), 10, 32)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "invalid message id")
		return
	}

	// 先校验属主再截断
	if _, err := c.store().GetSession(sessionID, userID); err != nil {
		c.writeStoreError(err)
		return
	}
	if err := c.store().TruncateFrom(sessionID, uint(messageID)); err != nil {
		c.writeStoreError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{"truncated_from": messageID})
}

func (c *SessionController) writeStoreError(err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodeNotFound {
		c.JSONError(http.StatusNotFound, appErr.Message)
		return
	}
	c.JSONError(http.StatusInternalServerError, err.Error())
}
