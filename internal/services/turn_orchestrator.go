package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatspace/backend-go/internal/config"
	apperrors "github.com/chatspace/backend-go/internal/errors"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	"github.com/chatspace/backend-go/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 推给客户端的事件类型
const (
	EventSessionID    = "session_id"
	EventStatus       = "status"
	EventChunk        = "chunk"
	EventError        = "error"
	EventDone         = "done"
	EventTitleUpdated = "title_updated"
)

// TurnEvent 推送给客户端的一条事件
type TurnEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventSink 事件输出端
// HTTP层实现为SSE写入，测试中用内存收集器替代
type EventSink interface {
	Send(event *TurnEvent) error
}

// TurnRequest 一轮对话请求
type TurnRequest struct {
	UserID        uint
	SessionID     string // 为空时新建会话
	EditMessageID *uint  // 编辑重发：截断该消息及之后内容
	Selector      string // {前缀}-{模型名}
	Content       string
	Attachments   []Attachment
	ProjectID     *string
	SystemPrompt  string
}

// TurnOrchestrator 对话轮次编排
// 串起提供商解析、配额检查、附件处理、工具调用、流式补全、记账与标题生成
type TurnOrchestrator struct {
	db          *gorm.DB
	resolver    *ProviderResolver
	quotaGuard  *QuotaGuard
	attachments *AttachmentPipeline
	tools       *ToolDispatcher
	streamer    *CompletionStreamer
	titles      *TitleSynthesizer
	store       *ChatStore
	usage       *UsageService
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewTurnOrchestrator 创建编排器
func NewTurnOrchestrator(
	db *gorm.DB,
	resolver *ProviderResolver,
	quotaGuard *QuotaGuard,
	attachments *AttachmentPipeline,
	tools *ToolDispatcher,
	streamer *CompletionStreamer,
	titles *TitleSynthesizer,
	store *ChatStore,
	usage *UsageService,
	metrics *MetricsService,
) *TurnOrchestrator {
	return &TurnOrchestrator{
		db:          db,
		resolver:    resolver,
		quotaGuard:  quotaGuard,
		attachments: attachments,
		tools:       tools,
		streamer:    streamer,
		titles:      titles,
		store:       store,
		usage:       usage,
		metrics:     metrics,
		logger:      logger.Named("turn_orchestrator"),
	}
}

// LoadAdminConfig 读取模型角色配置
// 未配置时返回空配置，各角色按需降级
func (o *TurnOrchestrator) LoadAdminConfig() *models.AdminModelConfig {
	var cfg models.AdminModelConfig
	if err := o.db.Order("id ASC").First(&cfg).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			o.logger.Warn("Failed to load admin model config", zap.Error(err))
		}
		return &models.AdminModelConfig{}
	}
	return &cfg
}

// RunTurn 执行一轮完整对话
// 任何阶段失败都通过error事件告知客户端，返回值仅用于日志
func (o *TurnOrchestrator) RunTurn(ctx context.Context, req *TurnRequest, sink EventSink) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Turn panicked", zap.Any("panic", r))
			err = fmt.Errorf("turn panic: %v", r)
			o.sendError(sink, fmt.Sprintf("internal error: %v", r))
		}
	}()

	adminCfg := o.LoadAdminConfig()

	// 1. 解析模型选择符到可用凭证
	resolved, err := o.resolver.Resolve(req.UserID, req.Selector)
	if err != nil {
		if errors.Is(err, apperrors.ErrNoProvider) {
			o.countTurn("no_provider")
			o.sendError(sink, fmt.Sprintf("no provider available for model %q", req.Selector))
			return err
		}
		o.countTurn("error")
		o.sendError(sink, "failed to resolve provider")
		return err
	}

	// 2. 组凭证走配额检查，个人凭证不受限
	if resolved.GroupScoped() {
		if err := o.quotaGuard.Check(ctx, *resolved.GroupID, req.UserID, resolved.Model); err != nil {
			if errors.Is(err, apperrors.ErrQuotaExceeded) {
				o.countTurn("quota_exceeded")
				if o.metrics != nil {
					o.metrics.QuotaRejections.WithLabelValues(quotaReason(err)).Inc()
				}
				o.sendError(sink, err.Error())
				return err
			}
			o.countTurn("error")
			o.sendError(sink, "quota check failed")
			return err
		}
	}

	// 3. 定位或新建会话；新建时先把session_id推给客户端
	session, isNew, err := o.ensureSession(req, resolved)
	if err != nil {
		o.countTurn("error")
		o.sendError(sink, err.Error())
		return err
	}
	if isNew {
		o.send(sink, EventSessionID, session.ID)
	}

	// 4. 编辑重发：截断目标消息及之后的历史
	if req.EditMessageID != nil {
		if err := o.store.TruncateFrom(session.ID, *req.EditMessageID); err != nil {
			o.countTurn("error")
			o.sendError(sink, err.Error())
			return err
		}
	}

	// 5. 附件解析（并发，顺序保持）
	var fragments []string
	if len(req.Attachments) > 0 {
		o.sendStatus(sink, "Processing attachments")
		vision := NewVisionDescriber(adminCfg)
		fragments = o.attachments.Process(ctx, vision, req.Attachments)
	}

	// 6. 工具链路：取规格、选工具、调用
	var toolResults []ToolResult
	var toolBlocks []string
	activeTools, err := o.tools.ActiveTools(req.UserID)
	if err != nil {
		o.logger.Warn("Failed to list active tools", zap.Error(err))
	} else if len(activeTools) > 0 {
		selector := NewToolSelector(adminCfg)
		toolResults, toolBlocks = o.tools.Dispatch(ctx, selector, activeTools, req.Content, func(msg string) {
			o.sendStatus(sink, msg)
		})
		if o.metrics != nil {
			for _, r := range toolResults {
				outcome := "success"
				if !r.Success {
					outcome = "failure"
				}
				o.metrics.ToolCallsTotal.WithLabelValues(outcome).Inc()
			}
		}
	}

	// 7. 流式调用前先落用户消息
	userMsg := &models.ChatMessage{
		SessionID:   session.ID,
		UserID:      req.UserID,
		Role:        models.RoleUser,
		Content:     req.Content,
		Attachments: attachmentSnapshots(req.Attachments),
	}
	if err := o.store.SaveMessage(userMsg); err != nil {
		o.countTurn("error")
		o.sendError(sink, err.Error())
		return err
	}
	go o.archiveAttachments(session.ID, userMsg.ID, req.Attachments)

	// 8. 组装消息并流式补全
	history, err := o.store.ListMessages(session.ID, req.UserID)
	if err != nil {
		o.countTurn("error")
		o.sendError(sink, err.Error())
		return err
	}
	messages := buildTurnMessages(req.SystemPrompt, fragments, toolBlocks, history)

	o.sendStatus(sink, "Generating response")
	content, usage, streamErr := o.streamer.Stream(ctx, &StreamRequest{
		APIURL:   resolved.Credential.APIURL,
		APIKey:   resolved.Credential.APIKey,
		Model:    resolved.Model,
		Messages: messages,
	}, func(chunk string) error {
		return sink.Send(&TurnEvent{Type: EventChunk, Data: chunk})
	})

	// 9. 流一旦中断，本轮不再写任何数据：没有助手消息、没有用量、不touch会话，
	// 已转发的半截内容只存在于客户端。客户端断开但上游完整读完时streamErr为nil，
	// 那种情况整条消息照常落库
	if streamErr != nil {
		o.countTurn("upstream_error")
		o.logger.Error("Stream failed mid-turn, nothing persisted",
			zap.String("session_id", session.ID), zap.Error(streamErr))
		o.sendError(sink, "upstream request failed")
		return streamErr
	}

	assistantMsg := &models.ChatMessage{
		SessionID:   session.ID,
		UserID:      req.UserID,
		Role:        models.RoleAssistant,
		Content:     content,
		ToolResults: toolResultSnapshots(toolResults),
	}
	if err := o.store.SaveMessage(assistantMsg); err != nil {
		o.countTurn("error")
		o.sendError(sink, err.Error())
		return err
	}

	if err := o.usage.Record(req.UserID, resolved.GroupID, session.ID,
		resolved.Credential.Prefix, resolved.Model, usage); err != nil {
		o.logger.Error("Usage accounting failed", zap.Error(err))
	}
	if err := o.store.TouchSession(session.ID); err != nil {
		o.logger.Warn("Failed to touch session", zap.Error(err))
	}

	o.countTurn("success")
	if o.metrics != nil {
		o.metrics.TurnDuration.WithLabelValues(resolved.Model).Observe(time.Since(start).Seconds())
	}
	o.send(sink, EventDone, map[string]interface{}{
		"user_message_id":      userMsg.ID,
		"assistant_message_id": assistantMsg.ID,
	})

	// 10. done之后尝试自动标题，超时不阻塞请求结束
	o.maybeSynthesizeTitle(ctx, adminCfg, session, req.Content, content, sink)
	return nil
}

func (o *TurnOrchestrator) ensureSession(req *TurnRequest, resolved *ResolvedProvider) (*models.ChatSession, bool, error) {
	if req.SessionID != "" {
		session, err := o.store.GetSession(req.SessionID, req.UserID)
		return session, false, err
	}
	session, err := o.store.CreateSession(req.UserID, resolved.Model, resolved.Credential.Prefix, req.ProjectID)
	return session, true, err
}

// maybeSynthesizeTitle 首轮对话后生成会话标题
// 生成与超时赛跑：按时完成则推title_updated，超时则后台继续写库但本次不推
func (o *TurnOrchestrator) maybeSynthesizeTitle(ctx context.Context, adminCfg *models.AdminModelConfig, session *models.ChatSession, userText, assistantText string, sink EventSink) {
	if !o.titles.Enabled(adminCfg) {
		return
	}
	if session.TitleUserSet || session.Title != models.DefaultSessionTitle {
		return
	}

	timeout := 10 * time.Second
	if config.AppConfig != nil && config.AppConfig.Chat.TitleTimeoutSeconds > 0 {
		timeout = time.Duration(config.AppConfig.Chat.TitleTimeoutSeconds) * time.Second
	}

	type titleResult struct {
		title   string
		updated bool
	}
	done := make(chan titleResult, 1)

	go func() {
		// 与请求上下文脱钩，客户端断开后标题仍然写入
		titleCtx, cancel := context.WithTimeout(context.Background(), 2*timeout)
		defer cancel()

		title, err := o.titles.Synthesize(titleCtx, adminCfg, userText, assistantText)
		if err != nil {
			o.logger.Warn("Title synthesis failed", zap.String("session_id", session.ID), zap.Error(err))
			done <- titleResult{}
			return
		}
		updated, err := o.store.UpdateTitleIfDefault(session.ID, title)
		if err != nil {
			o.logger.Warn("Title persist failed", zap.String("session_id", session.ID), zap.Error(err))
			done <- titleResult{}
			return
		}
		done <- titleResult{title: title, updated: updated}
	}()

	select {
	case result := <-done:
		if result.updated {
			o.send(sink, EventTitleUpdated, result.title)
		}
	case <-time.After(timeout):
		o.logger.Info("Title synthesis timed out, continuing in background",
			zap.String("session_id", session.ID))
	case <-ctx.Done():
	}
}

func (o *TurnOrchestrator) archiveAttachments(sessionID string, messageID uint, attachments []Attachment) {
	store := storage.GetAttachmentStore()
	if store == nil || len(attachments) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := range attachments {
		att := &attachments[i]
		if err := store.Archive(ctx, sessionID, messageID, att.Name, att.MimeType, att.Data); err != nil {
			o.logger.Warn("Attachment archive failed",
				zap.String("session_id", sessionID), zap.String("name", att.Name), zap.Error(err))
		}
	}
}

// buildTurnMessages 组装上游消息列表
// 系统消息由基础提示、附件片段、工具结果拼接而成，全部为空时省略
func buildTurnMessages(systemPrompt string, fragments, toolBlocks []string, history []models.ChatMessage) []TurnMessage {
	var parts []string
	if systemPrompt != "" {
		parts = append(parts, systemPrompt)
	}
	parts = append(parts, fragments...)
	parts = append(parts, toolBlocks...)

	var messages []TurnMessage
	if len(parts) > 0 {
		messages = append(messages, TurnMessage{
			Role:    models.RoleSystem,
			Content: strings.Join(parts, "\n\n"),
		})
	}
	for _, msg := range history {
		messages = append(messages, TurnMessage{Role: msg.Role, Content: msg.Content})
	}
	return messages
}

func attachmentSnapshots(attachments []Attachment) models.JSONBArray {
	if len(attachments) == 0 {
		return nil
	}
	snapshots := make(models.JSONBArray, 0, len(attachments))
	for i := range attachments {
		snapshots = append(snapshots, map[string]interface{}{
			"name":      attachments[i].Name,
			"mime_type": attachments[i].MimeType,
			"size":      len(attachments[i].Data),
		})
	}
	return snapshots
}

func toolResultSnapshots(results []ToolResult) models.JSONBArray {
	if len(results) == 0 {
		return nil
	}
	snapshots := make(models.JSONBArray, 0, len(results))
	for _, r := range results {
		snapshots = append(snapshots, map[string]interface{}{
			"tool_id":   r.ToolID,
			"tool_name": r.ToolName,
			"success":   r.Success,
			"output":    r.Output,
		})
	}
	return snapshots
}

// quotaReason 从配额错误里提取指标label用的原因
func quotaReason(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 {
		return msg[idx+2:]
	}
	return "unknown"
}

func (o *TurnOrchestrator) send(sink EventSink, eventType string, data interface{}) {
	if err := sink.Send(&TurnEvent{Type: eventType, Data: data}); err != nil {
		o.logger.Debug("Event delivery failed", zap.String("type", eventType), zap.Error(err))
	}
}

func (o *TurnOrchestrator) sendStatus(sink EventSink, msg string) {
	o.send(sink, EventStatus, msg)
}

func (o *TurnOrchestrator) sendError(sink EventSink, msg string) {
	o.send(sink, EventError, msg)
}

func (o *TurnOrchestrator) countTurn(status string) {
	if o.metrics != nil {
		o.metrics.TurnsTotal.WithLabelValues(status).Inc()
	}
}
