package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/chatspace/backend-go/internal/errors"
	"github.com/chatspace/backend-go/internal/logger"
	"go.uber.org/zap"
)

// TurnMessage 发给上游的一条消息
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamUsage 上游返回的token用量
// 流中可能出现多个usage对象，以最后一个为准（覆盖而非累加），这与上游
// "在流末尾发送一次usage"的惯例一致
type StreamUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamRequest 一次流式补全请求
type StreamRequest struct {
	APIURL string
	APIKey string
	Model  string

	Messages []TurnMessage
}

type chatCompletionBody struct {
	Model         string              `json:"model"`
	Messages      []TurnMessage       `json:"messages"`
	Stream        bool                `json:"stream"`
	StreamOptions *streamOptionsField `json:"stream_options,omitempty"`
}

type streamOptionsField struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *StreamUsage `json:"usage"`
}

// CompletionStreamer 上游流式补全客户端
// 上游以4xx拒绝带stream_options的请求时，去掉该参数重试一次（部分兼容实现
// 不认识这个参数），这是整个系统里唯一的重试；非4xx失败不重试
type CompletionStreamer struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCompletionStreamer 创建流式补全客户端
// timeout只约束建连、TLS握手和等待首包响应头；流本身的生命周期由ctx控制，
// 不能用client级超时，否则长回答会在读到一半时被掐断
func NewCompletionStreamer(timeout time.Duration) *CompletionStreamer {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &CompletionStreamer{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.Named("completion_streamer"),
	}
}

// Stream 执行流式补全
// 每个增量片段先通过onChunk实时转发，同时累积完整内容用于落库；
// 返回完整内容和最后一次看到的usage（可能为nil）
func (s *CompletionStreamer) Stream(ctx context.Context, req *StreamRequest, onChunk func(string) error) (string, *StreamUsage, error) {
	resp, err := s.post(ctx, req, true)
	if err != nil {
		return "", nil, err
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// 有的提供商不接受stream_options，降级重试一次
		drainAndClose(resp)
		s.logger.Warn("Upstream rejected stream_options, retrying without usage reporting",
			zap.Int("status", resp.StatusCode),
			zap.String("model", req.Model))
		resp, err = s.post(ctx, req, false)
		if err != nil {
			return "", nil, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		resp.Body.Close()
		return "", nil, apperrors.NewExternalError(
			fmt.Sprintf("upstream returned status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}
	defer resp.Body.Close()

	return s.readStream(ctx, resp.Body, onChunk)
}

func (s *CompletionStreamer) post(ctx context.Context, req *StreamRequest, includeUsage bool) (*http.Response, error) {
	body := chatCompletionBody{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	}
	if includeUsage {
		body.StreamOptions = &streamOptionsField{IncludeUsage: true}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(req.APIURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("上游请求失败: %w", err)
	}
	return resp, nil
}

// readStream 解析换行分隔的SSE流
// 行缓冲到换行完整为止，每个data行独立JSON解码，单个坏行跳过不中断流，
// [DONE]哨兵行忽略
func (s *CompletionStreamer) readStream(ctx context.Context, body io.Reader, onChunk func(string) error) (string, *StreamUsage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	var usage *StreamUsage
	relayBroken := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return content.String(), usage, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.logger.Debug("Skipping malformed stream line", zap.Error(err))
			continue
		}

		if chunk.Usage != nil {
			// 最后一次usage覆盖之前的值
			usage = chunk.Usage
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			if relayBroken {
				continue
			}
			if err := onChunk(choice.Delta.Content); err != nil {
				// 客户端连接已断，停止转发但继续读上游：只有完整读完
				// 的内容才有资格落库
				relayBroken = true
				s.logger.Warn("Chunk relay failed, accumulating remainder without forwarding",
					zap.Error(err))
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return content.String(), usage, fmt.Errorf("读取上游流失败: %w", err)
	}
	return content.String(), usage, nil
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	resp.Body.Close()
}
