package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ToolSpec 拉取成功的工具能力描述
type ToolSpec struct {
	Tool models.ToolEndpoint
	Spec string
}

// ToolCall 任务模型选定的一次工具调用
type ToolCall struct {
	ToolID    uint                   `json:"tool_id"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult 一次工具调用的结果，成功与失败都保留为文本并随助手消息落库
type ToolResult struct {
	ToolID   uint   `json:"tool_id"`
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
	Output   string `json:"output"`
}

// ToolSelector 工具选择接口：给定能力描述和用户最新输入，选出零个或多个调用
type ToolSelector interface {
	Select(ctx context.Context, specs []ToolSpec, userText string) ([]ToolCall, error)
}

const toolSelectPrompt = `You are a tool dispatcher. Given the tool specifications below and the user's message, decide which tools (if any) should be called and with what arguments.
Respond with a JSON array only, e.g. [{"tool_id": 1, "arguments": {"query": "..."}}]. Respond with [] if no tool is needed.

Tool specifications:
%s

User message:
%s`

// openAITaskSelector 基于任务模型的选择实现
type openAITaskSelector struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewToolSelector 根据管理员配置创建工具选择器，task角色未配置时返回nil
func NewToolSelector(cfg *models.AdminModelConfig) ToolSelector {
	if !cfg.HasTaskModel() {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.TaskModelKey)
	clientCfg.BaseURL = strings.TrimSuffix(cfg.TaskModelURL, "/") + "/v1"
	return &openAITaskSelector{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.TaskModelName,
		logger: logger.Named("tool_selector"),
	}
}

func (s *openAITaskSelector) Select(ctx context.Context, specs []ToolSpec, userText string) ([]ToolCall, error) {
	specDump := make([]map[string]interface{}, 0, len(specs))
	for _, sp := range specs {
		specDump = append(specDump, map[string]interface{}{
			"tool_id": sp.Tool.ID,
			"name":    sp.Tool.Name,
			"spec":    sp.Spec,
		})
	}
	specJSON, err := json.Marshal(specDump)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(toolSelectPrompt, specJSON, userText),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("任务模型调用失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("任务模型返回空结果")
	}

	return parseToolCalls(resp.Choices[0].Message.Content)
}

// parseToolCalls 解析模型输出的JSON数组，容忍markdown代码块包裹
func parseToolCalls(content string) ([]ToolCall, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var calls []ToolCall
	if err := json.Unmarshal([]byte(trimmed), &calls); err != nil {
		return nil, fmt.Errorf("解析工具选择结果失败: %w", err)
	}
	return calls, nil
}

// ToolDispatcher 工具调度服务，三阶段管线：
//  1. 并发拉取各工具能力描述，单个失败的工具直接从候选集剔除
//  2. 任务模型选择零个或多个工具，失败降级为"不选"
//  3. 顺序调用选中的工具（保证status消息对用户有意义），单个失败不影响后续
type ToolDispatcher struct {
	db         *gorm.DB
	httpClient *http.Client
	logger     *zap.Logger
}

// NewToolDispatcher 创建工具调度服务
func NewToolDispatcher(db *gorm.DB, timeout time.Duration) *ToolDispatcher {
	return &ToolDispatcher{
		db:         db,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("tool_dispatcher"),
	}
}

// ActiveTools 返回用户注册且启用的工具
func (d *ToolDispatcher) ActiveTools(userID uint) ([]models.ToolEndpoint, error) {
	var tools []models.ToolEndpoint
	err := d.db.Where("user_id = ? AND active = ?", userID, true).Order("id ASC").Find(&tools).Error
	return tools, err
}

// Dispatch 执行三阶段工具管线
// 返回调用结果（落库快照）和追加到系统上下文的文本块；任何阶段失败都不会让整个轮次失败
func (d *ToolDispatcher) Dispatch(ctx context.Context, selector ToolSelector, tools []models.ToolEndpoint, userText string, status func(string)) ([]ToolResult, []string) {
	if selector == nil || len(tools) == 0 {
		return nil, nil
	}

	status("Checking available tools...")
	specs := d.fetchSpecs(ctx, tools)
	if len(specs) == 0 {
		return nil, nil
	}

	calls, err := selector.Select(ctx, specs, userText)
	if err != nil {
		// 选择失败降级为不调用任何工具
		d.logger.Warn("Tool selection failed, proceeding without tools", zap.Error(err))
		return nil, nil
	}
	if len(calls) == 0 {
		return nil, nil
	}

	byID := make(map[uint]*models.ToolEndpoint, len(tools))
	for i := range tools {
		byID[tools[i].ID] = &tools[i]
	}

	var results []ToolResult
	var blocks []string
	for _, call := range calls {
		tool, ok := byID[call.ToolID]
		if !ok {
			continue
		}

		status(fmt.Sprintf("Calling tool %q...", tool.Name))
		output, err := d.invoke(ctx, tool, call.Arguments)
		if err != nil {
			d.logger.Warn("Tool call failed",
				zap.Uint("tool_id", tool.ID),
				zap.String("tool", tool.Name),
				zap.Error(err))
			results = append(results, ToolResult{ToolID: tool.ID, ToolName: tool.Name, Success: false, Output: err.Error()})
			blocks = append(blocks, fmt.Sprintf("Tool %q call failed: %v", tool.Name, err))
			continue
		}

		results = append(results, ToolResult{ToolID: tool.ID, ToolName: tool.Name, Success: true, Output: output})
		blocks = append(blocks, fmt.Sprintf("Tool %q responded:\n%s", tool.Name, output))
	}
	return results, blocks
}

// fetchSpecs 并发拉取能力描述，保持工具原始顺序
func (d *ToolDispatcher) fetchSpecs(ctx context.Context, tools []models.ToolEndpoint) []ToolSpec {
	slots := make([]*ToolSpec, len(tools))
	var wg sync.WaitGroup

	for i := range tools {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tool := tools[idx]
			spec, err := d.fetchSpec(ctx, &tool)
			if err != nil {
				d.logger.Warn("Tool spec fetch failed, excluding from candidates",
					zap.Uint("tool_id", tool.ID),
					zap.String("endpoint", tool.Endpoint),
					zap.Error(err))
				return
			}
			slots[idx] = &ToolSpec{Tool: tool, Spec: spec}
		}(i)
	}
	wg.Wait()

	specs := make([]ToolSpec, 0, len(tools))
	for _, s := range slots {
		if s != nil {
			specs = append(specs, *s)
		}
	}
	return specs
}

func (d *ToolDispatcher) fetchSpec(ctx context.Context, tool *models.ToolEndpoint) (string, error) {
	specURL := strings.TrimSuffix(tool.Endpoint, "/") + tool.SpecPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		return "", err
	}
	if tool.AuthKey != "" {
		req.Header.Set("Authorization", "Bearer "+tool.AuthKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("spec fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (d *ToolDispatcher) invoke(ctx context.Context, tool *models.ToolEndpoint, args map[string]interface{}) (string, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if tool.AuthKey != "" {
		req.Header.Set("Authorization", "Bearer "+tool.AuthKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tool returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
