package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		mimeType string
		expected Kind
	}{
		{"report.pdf", "application/pdf", KindPDF},
		{"scan", "application/pdf", KindPDF},
		{"photo.png", "image/png", KindImage},
		{"photo.jpg", "image/jpeg", KindImage},
		{"animation", "image/webp", KindImage},
		{"notes.md", "text/markdown", KindDocument},
		{"data.csv", "text/csv", KindDocument},
		{"config.json", "application/json", KindDocument},
		{"page.html", "text/html", KindDocument},
		{"main.go", "", KindDocument},
		{"contract.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", KindDocument},
		{"archive.zip", "application/zip", KindUnsupported},
		{"video.mp4", "video/mp4", KindUnsupported},
	}

	for _, c := range cases {
		assert.Equal(t, c.expected, Classify(c.name, c.mimeType), "Classify(%q, %q)", c.name, c.mimeType)
	}
}

func TestText_PlainPassthrough(t *testing.T) {
	content := "hello, 世界\nsecond line"
	text, err := Text([]byte(content), "notes.txt", "text/plain")
	assert.NoError(t, err)
	assert.Equal(t, content, text)
}

func TestText_DocRejected(t *testing.T) {
	_, err := Text([]byte("legacy"), "old.doc", "application/msword")
	assert.Error(t, err)
}

func TestText_InvalidPDF(t *testing.T) {
	// 非法PDF字节应返回错误而不是panic，上层会降级为占位文本
	_, err := Text([]byte("not a pdf"), "broken.pdf", "application/pdf")
	assert.Error(t, err)
}
