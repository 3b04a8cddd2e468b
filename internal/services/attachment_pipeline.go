package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/chatspace/backend-go/internal/extract"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Attachment 一个待处理的原始附件
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// VisionDescriber 视觉模型接口：对单张图片/PDF给出文字描述
type VisionDescriber interface {
	Describe(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// visionDescribePrompt 视觉描述的固定指令
const visionDescribePrompt = "Describe the content of this file in detail so it can be used as context for a conversation. Include any visible text verbatim."

// openAIVision 基于OpenAI兼容接口的视觉实现
type openAIVision struct {
	client *openai.Client
	model  string
}

// NewVisionDescriber 根据管理员配置创建视觉客户端，vision角色未配置时返回nil
func NewVisionDescriber(cfg *models.AdminModelConfig) VisionDescriber {
	if !cfg.HasVisionModel() {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.VisionModelKey)
	clientCfg.BaseURL = strings.TrimSuffix(cfg.VisionModelURL, "/") + "/v1"
	return &openAIVision{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.VisionModelName,
	}
}

func (v *openAIVision) Describe(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionDescribePrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("视觉模型调用失败: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("视觉模型返回空结果")
	}
	return resp.Choices[0].Message.Content, nil
}

// AttachmentPipeline 附件处理管线
// 所有附件并发处理，结果按输入顺序收拢；单个附件失败降级为占位文本，不影响其他附件和整个轮次
type AttachmentPipeline struct {
	logger *zap.Logger
}

// NewAttachmentPipeline 创建附件处理管线
func NewAttachmentPipeline() *AttachmentPipeline {
	return &AttachmentPipeline{
		logger: logger.Named("attachment_pipeline"),
	}
}

// Process 把附件转成系统上下文的文本片段，返回顺序与输入一致
// vision 为nil表示视觉角色未配置：PDF直接走文本提取，图片产生占位说明
func (p *AttachmentPipeline) Process(ctx context.Context, vision VisionDescriber, attachments []Attachment) []string {
	if len(attachments) == 0 {
		return nil
	}

	// 按输入下标写入结果槽，避免完成顺序影响输出顺序
	slots := make([]string, len(attachments))
	var wg sync.WaitGroup

	for i := range attachments {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			slots[idx] = p.processOne(ctx, vision, &attachments[idx])
		}(i)
	}
	wg.Wait()

	fragments := make([]string, 0, len(attachments))
	for _, s := range slots {
		if s != "" {
			fragments = append(fragments, s)
		}
	}
	return fragments
}

// processOne 处理单个附件，返回空串表示不支持的类型（静默丢弃）
func (p *AttachmentPipeline) processOne(ctx context.Context, vision VisionDescriber, att *Attachment) string {
	switch extract.Classify(att.Name, att.MimeType) {
	case extract.KindPDF:
		return p.processPDF(ctx, vision, att)
	case extract.KindImage:
		return p.processImage(ctx, vision, att)
	case extract.KindDocument:
		return p.processDocument(att)
	default:
		p.logger.Debug("Dropping unsupported attachment",
			zap.String("name", att.Name),
			zap.String("mime_type", att.MimeType))
		return ""
	}
}

func (p *AttachmentPipeline) processPDF(ctx context.Context, vision VisionDescriber, att *Attachment) string {
	if vision != nil {
		desc, err := vision.Describe(ctx, att.Name, att.MimeType, att.Data)
		if err == nil && strings.TrimSpace(desc) != "" {
			return fragment(att.Name, desc)
		}
		p.logger.Warn("Vision description failed for PDF, falling back to text extraction",
			zap.String("name", att.Name),
			zap.Error(err))
	}
	return p.processDocument(att)
}

func (p *AttachmentPipeline) processImage(ctx context.Context, vision VisionDescriber, att *Attachment) string {
	if vision == nil {
		return fragment(att.Name, "(image attached, but no vision model is available to describe it)")
	}
	desc, err := vision.Describe(ctx, att.Name, att.MimeType, att.Data)
	if err != nil {
		p.logger.Warn("Vision description failed for image",
			zap.String("name", att.Name),
			zap.Error(err))
		return fragment(att.Name, "(image description failed)")
	}
	return fragment(att.Name, desc)
}

func (p *AttachmentPipeline) processDocument(att *Attachment) string {
	text, err := extract.Text(att.Data, att.Name, att.MimeType)
	if err != nil {
		p.logger.Warn("Text extraction failed",
			zap.String("name", att.Name),
			zap.Error(err))
		return fragment(att.Name, "(parse failed)")
	}
	return fragment(att.Name, text)
}

func fragment(name, content string) string {
	return fmt.Sprintf("Attachment %q:\n%s", name, strings.TrimSpace(content))
}
