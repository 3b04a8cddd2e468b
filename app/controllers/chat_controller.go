package controllers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/chatspace/backend-go/internal/config"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/services"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// turnRequestBody 聊天轮次请求体
type turnRequestBody struct {
	SessionID     string           `json:"session_id"`
	EditMessageID *uint            `json:"edit_message_id"`
	Model         string           `json:"model" validate:"required"`
	Content       string           `json:"content" validate:"required"`
	Attachments   []attachmentBody `json:"attachments" validate:"dive"`
	ProjectID     *string          `json:"project_id"`
	SystemPrompt  string           `json:"system_prompt"`
}

type attachmentBody struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data" validate:"required"` // base64
}

// sseSink 把轮次事件写成SSE帧
// 编排器内部有并发旁路（标题、归档），写入加锁
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by response writer")
	}
	return &sseSink{w: w, flusher: flusher}, nil
}

func (s *sseSink) Send(event *services.TurnEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ChatController 聊天轮次入口
type ChatController struct {
	BaseController
}

var (
	orchestratorMu   sync.RWMutex
	orchestrator     *services.TurnOrchestrator
	requestValidator = validator.New()
)

// SetOrchestrator 注入对话编排器，bootstrap在容器装配完成后调用
func SetOrchestrator(o *services.TurnOrchestrator) {
	orchestratorMu.Lock()
	defer orchestratorMu.Unlock()
	orchestrator = o
}

func orchestratorInstance() *services.TurnOrchestrator {
	orchestratorMu.RLock()
	defer orchestratorMu.RUnlock()
	return orchestrator
}

// Stream 执行一轮对话，以SSE推送事件
// POST /api/chat/stream
func (c *ChatController) Stream() {
	userID, ok := c.requireUser()
	if !ok {
		return
	}

	var body turnRequestBody
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if err := requestValidator.Struct(&body); err != nil {
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}

	attachments, err := decodeAttachments(body.Attachments)
	if err != nil {
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}

	w := c.Ctx.ResponseWriter
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sink, err := newSSESink(w)
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}

	req := &services.TurnRequest{
		UserID:        userID,
		SessionID:     body.SessionID,
		EditMessageID: body.EditMessageID,
		Selector:      body.Model,
		Content:       body.Content,
		Attachments:   attachments,
		ProjectID:     body.ProjectID,
		SystemPrompt:  body.SystemPrompt,
	}

	// 客户端断开时request context取消，编排器停止转发；只有完整读完的回复才落库
	orch := orchestratorInstance()
	if orch == nil {
		c.JSONError(http.StatusInternalServerError, "service not ready")
		return
	}
	if err := orch.RunTurn(c.Ctx.Request.Context(), req, sink); err != nil {
		logger.Warn("Chat turn finished with error",
			zap.Uint("user_id", userID),
			zap.String("session_id", body.SessionID),
			zap.Error(err))
	}
}

func decodeAttachments(bodies []attachmentBody) ([]services.Attachment, error) {
	if len(bodies) == 0 {
		return nil, nil
	}
	maxBytes := int64(20 * 1024 * 1024)
	maxCount := 10
	if config.AppConfig != nil {
		if config.AppConfig.Upload.MaxAttachmentBytes > 0 {
			maxBytes = config.AppConfig.Upload.MaxAttachmentBytes
		}
		if config.AppConfig.Upload.MaxAttachments > 0 {
			maxCount = config.AppConfig.Upload.MaxAttachments
		}
	}
	if len(bodies) > maxCount {
		return nil, fmt.Errorf("too many attachments, at most %d allowed", maxCount)
	}

	attachments := make([]services.Attachment, 0, len(bodies))
	for _, b := range bodies {
		data, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			return nil, fmt.Errorf("attachment %q is not valid base64", b.Name)
		}
		if int64(len(data)) > maxBytes {
			return nil, fmt.Errorf("attachment %q exceeds the size limit", b.Name)
		}
		attachments = append(attachments, services.Attachment{
			Name:     b.Name,
			MimeType: b.MimeType,
			Data:     data,
		})
	}
	return attachments, nil
}
