package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// Kind 附件分类，每个附件恰好属于其一
type Kind int

const (
	KindUnsupported Kind = iota
	KindPDF
	KindImage
	KindDocument
)

var imageMimes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

var documentExts = map[string]bool{
	".doc": true, ".docx": true, ".csv": true, ".txt": true,
	".md": true, ".markdown": true, ".json": true, ".html": true,
	".css": true, ".js": true, ".ts": true, ".py": true, ".go": true,
	".java": true, ".c": true, ".cpp": true, ".sh": true, ".yaml": true,
	".yml": true, ".xml": true, ".log": true,
}

// Classify 根据MIME类型和文件名判断附件分类
func Classify(name, mimeType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(name))

	switch {
	case mt == "application/pdf" || ext == ".pdf":
		return KindPDF
	case imageMimes[mt] || strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "text/") || documentExts[ext] ||
		mt == "application/json" ||
		mt == "application/vnd.openxmlformats-officedocument.wordprocessingml.document" ||
		mt == "application/msword":
		return KindDocument
	default:
		return KindUnsupported
	}
}

// Text 从附件字节中提取文本，PDF和docx走专用解析器，其余按纯文本处理
func Text(data []byte, name, mimeType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf" || strings.ToLower(mimeType) == "application/pdf":
		return pdfText(data)
	case ext == ".docx" || ext == ".doc":
		return wordText(data, ext)
	default:
		return string(data), nil
	}
}

// pdfText 提取PDF全部页面文本
func pdfText(data []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("获取PDF页数失败: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}

		ex, err := extractor.New(page)
		if err != nil {
			continue
		}

		text, err := ex.ExtractText()
		if err != nil {
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	if textBuilder.Len() == 0 {
		return "", fmt.Errorf("PDF未提取到任何文本")
	}
	return textBuilder.String(), nil
}

// wordText 提取Word文档文本（仅支持.docx格式）
func wordText(data []byte, ext string) (string, error) {
	if ext == ".doc" {
		return "", fmt.Errorf("暂不支持.doc格式，请使用.docx格式")
	}

	readerAt := bytes.NewReader(data)
	doc, err := document.Read(readerAt, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}
