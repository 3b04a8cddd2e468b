package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatspace/backend-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titleUpstream(t *testing.T, reply string, capture *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if capture != nil && len(body.Messages) > 1 {
			*capture = body.Messages[1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func workModelConfig(url string) *models.AdminModelConfig {
	return &models.AdminModelConfig{
		WorkModelURL:  url,
		WorkModelKey:  "sk-work",
		WorkModelName: "gpt-4o-mini",
	}
}

func TestTitleSynthesizer_Basic(t *testing.T) {
	server := titleUpstream(t, "Go并发入门", nil)
	defer server.Close()

	synth := NewTitleSynthesizer()
	title, err := synth.Synthesize(context.Background(), workModelConfig(server.URL), "goroutine怎么用", "goroutine是Go的轻量级线程...")
	require.NoError(t, err)
	assert.Equal(t, "Go并发入门", title)
}

func TestTitleSynthesizer_CleansModelOutput(t *testing.T) {
	server := titleUpstream(t, "<think>the user asked about Go</think>\n\"Go Concurrency Basics\"\nextra line", nil)
	defer server.Close()

	synth := NewTitleSynthesizer()
	title, err := synth.Synthesize(context.Background(), workModelConfig(server.URL), "hi", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Go Concurrency Basics", title)
}

func TestTitleSynthesizer_StripsThinkTagsFromInput(t *testing.T) {
	var prompt string
	server := titleUpstream(t, "Title", &prompt)
	defer server.Close()

	synth := NewTitleSynthesizer()
	_, err := synth.Synthesize(context.Background(), workModelConfig(server.URL),
		"question", "<think>internal reasoning here</think>the visible answer")
	require.NoError(t, err)
	assert.NotContains(t, prompt, "internal reasoning")
	assert.Contains(t, prompt, "the visible answer")
}

func TestTitleSynthesizer_TruncatesLongInput(t *testing.T) {
	var prompt string
	server := titleUpstream(t, "Title", &prompt)
	defer server.Close()

	synth := NewTitleSynthesizer()
	_, err := synth.Synthesize(context.Background(), workModelConfig(server.URL),
		"q", strings.Repeat("长", 5000))
	require.NoError(t, err)
	assert.Less(t, len([]rune(prompt)), 2200)
}

func TestTitleSynthesizer_WorkModelMissing(t *testing.T) {
	synth := NewTitleSynthesizer()
	assert.False(t, synth.Enabled(&models.AdminModelConfig{}))

	_, err := synth.Synthesize(context.Background(), &models.AdminModelConfig{}, "q", "a")
	require.Error(t, err)
}

func TestStripThinkTags(t *testing.T) {
	assert.Equal(t, "after", stripThinkTags("<think>multi\nline\nreasoning</think>after"))
	assert.Equal(t, "a b", stripThinkTags("a <think>x</think> <think>y</think> b"))
	assert.Equal(t, "no tags", stripThinkTags("no tags"))
	// 未闭合的标签保持原样
	assert.Equal(t, "<think>unclosed", stripThinkTags("<think>unclosed"))
}
