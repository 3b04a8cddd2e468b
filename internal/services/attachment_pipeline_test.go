package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jitterVision 随机延迟后返回描述，用于打乱并发完成顺序
type jitterVision struct {
	fail map[string]bool
}

func (v *jitterVision) Describe(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
	if v.fail != nil && v.fail[name] {
		return "", errors.New("vision backend unavailable")
	}
	return "description of " + name, nil
}

func TestProcess_PreservesInputOrder(t *testing.T) {
	// 完成顺序被随机延迟打乱，输出仍须与输入顺序一致
	pipeline := NewAttachmentPipeline()

	var atts []Attachment
	for i := 0; i < 12; i++ {
		atts = append(atts, Attachment{
			Name:     fmt.Sprintf("img-%02d.png", i),
			MimeType: "image/png",
			Data:     []byte{0x89},
		})
	}

	fragments := pipeline.Process(context.Background(), &jitterVision{}, atts)
	require.Len(t, fragments, 12)
	for i, frag := range fragments {
		assert.Contains(t, frag, fmt.Sprintf("img-%02d.png", i))
	}
}

func TestProcess_SingleFailureDoesNotAffectOthers(t *testing.T) {
	pipeline := NewAttachmentPipeline()
	vision := &jitterVision{fail: map[string]bool{"bad.png": true}}

	atts := []Attachment{
		{Name: "good1.png", MimeType: "image/png", Data: []byte{1}},
		{Name: "bad.png", MimeType: "image/png", Data: []byte{2}},
		{Name: "good2.png", MimeType: "image/png", Data: []byte{3}},
	}

	fragments := pipeline.Process(context.Background(), vision, atts)
	require.Len(t, fragments, 3)
	assert.Contains(t, fragments[0], "description of good1.png")
	assert.Contains(t, fragments[1], "(image description failed)")
	assert.Contains(t, fragments[2], "description of good2.png")
}

func TestProcess_ImageWithoutVisionYieldsPlaceholder(t *testing.T) {
	pipeline := NewAttachmentPipeline()

	fragments := pipeline.Process(context.Background(), nil, []Attachment{
		{Name: "photo.jpg", MimeType: "image/jpeg", Data: []byte{1}},
	})

	require.Len(t, fragments, 1)
	assert.Contains(t, fragments[0], "no vision model is available")
}

func TestProcess_UnsupportedDroppedSilently(t *testing.T) {
	pipeline := NewAttachmentPipeline()

	fragments := pipeline.Process(context.Background(), nil, []Attachment{
		{Name: "notes.txt", MimeType: "text/plain", Data: []byte("hello")},
		{Name: "archive.zip", MimeType: "application/zip", Data: []byte{0x50}},
		{Name: "data.csv", MimeType: "text/csv", Data: []byte("a,b")},
	})

	require.Len(t, fragments, 2, "不支持的类型应被静默丢弃")
	assert.Contains(t, fragments[0], "hello")
	assert.Contains(t, fragments[1], "a,b")
}

func TestProcess_BrokenPDFFallsBackToPlaceholder(t *testing.T) {
	// 视觉未配置且文本提取失败时，单个附件降级为占位文本，不中断整个轮次
	pipeline := NewAttachmentPipeline()

	fragments := pipeline.Process(context.Background(), nil, []Attachment{
		{Name: "broken.pdf", MimeType: "application/pdf", Data: []byte("not a pdf")},
		{Name: "readme.md", MimeType: "text/markdown", Data: []byte("# hi")},
	})

	require.Len(t, fragments, 2)
	assert.True(t, strings.Contains(fragments[0], "(parse failed)"))
	assert.Contains(t, fragments[1], "# hi")
}

func TestProcess_BrokenPDFWithVisionUsesDescription(t *testing.T) {
	pipeline := NewAttachmentPipeline()

	fragments := pipeline.Process(context.Background(), &jitterVision{}, []Attachment{
		{Name: "scan.pdf", MimeType: "application/pdf", Data: []byte("not a pdf")},
	})

	require.Len(t, fragments, 1)
	assert.Contains(t, fragments[0], "description of scan.pdf")
}

func TestProcess_Empty(t *testing.T) {
	pipeline := NewAttachmentPipeline()
	assert.Nil(t, pipeline.Process(context.Background(), nil, nil))
}
