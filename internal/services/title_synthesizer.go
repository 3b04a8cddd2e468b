package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const titlePrompt = "Summarize the following conversation into a short title of at most 10 words. " +
	"Reply with the title only, no quotes, no explanation, in the language of the conversation."

// 标题只需要看到对话开头就够了，截断过长的内容以节省token
const titleInputLimit = 2000

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinkTags 去掉推理模型输出中的思考块
// 只在生成标题时使用，正常转发给客户端的内容保持原样
func stripThinkTags(s string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(s, ""))
}

// TitleSynthesizer 会话标题生成器
// 使用管理员配置的工作模型做一次非流式补全，未配置工作模型时整体跳过
type TitleSynthesizer struct {
	logger *zap.Logger
}

// NewTitleSynthesizer 创建标题生成器
func NewTitleSynthesizer() *TitleSynthesizer {
	return &TitleSynthesizer{logger: logger.Named("title_synthesizer")}
}

// Enabled 工作模型是否已配置
func (t *TitleSynthesizer) Enabled(cfg *models.AdminModelConfig) bool {
	return cfg.HasWorkModel()
}

// Synthesize 根据首轮对话生成会话标题
func (t *TitleSynthesizer) Synthesize(ctx context.Context, cfg *models.AdminModelConfig, userText, assistantText string) (string, error) {
	if !cfg.HasWorkModel() {
		return "", fmt.Errorf("工作模型未配置")
	}

	clientCfg := openai.DefaultConfig(cfg.WorkModelKey)
	clientCfg.BaseURL = strings.TrimSuffix(cfg.WorkModelURL, "/") + "/v1"
	client := openai.NewClientWithConfig(clientCfg)

	conversation := fmt.Sprintf("User: %s\n\nAssistant: %s",
		truncateForTitle(stripThinkTags(userText)),
		truncateForTitle(stripThinkTags(assistantText)))

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: cfg.WorkModelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
			{Role: openai.ChatMessageRoleUser, Content: conversation},
		},
	})
	if err != nil {
		return "", fmt.Errorf("标题生成请求失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("标题生成返回空结果")
	}

	title := cleanTitle(resp.Choices[0].Message.Content)
	if title == "" {
		return "", fmt.Errorf("标题生成结果为空")
	}

	t.logger.Debug("Synthesized session title", zap.String("title", title))
	return title, nil
}

func truncateForTitle(s string) string {
	runes := []rune(s)
	if len(runes) <= titleInputLimit {
		return s
	}
	return string(runes[:titleInputLimit])
}

// cleanTitle 去掉模型输出里多余的包装：思考块、首尾引号、换行
func cleanTitle(raw string) string {
	title := stripThinkTags(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.TrimSpace(title)
	title = strings.Trim(title, `"'“”`)
	return strings.TrimSpace(title)
}
