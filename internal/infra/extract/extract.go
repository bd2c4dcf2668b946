package extract

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor はドキュメントファイルからテキストセグメントを抽出する。
// PDFはページ単位、テキスト系はファイル全体で1セグメントとなる。
type Extractor struct {
	logger *slog.Logger
}

// ExtractorOption は Extractor のオプション設定
type ExtractorOption func(*Extractor)

// WithExtractorLogger は Extractor にロガーを設定する
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor は新しい Extractor を作成する
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// SupportedExtensions は抽出可能な拡張子の一覧を返す
func SupportedExtensions() []string {
	return []string{".pdf", ".txt", ".md"}
}

// Extract はファイルからテキストセグメント列を抽出する
func (e *Extractor) Extract(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return e.extractPDF(path)
	case ".txt", ".md":
		return e.extractPlainText(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s (supported: %s)",
			filepath.Ext(path), strings.Join(SupportedExtensions(), ", "))
	}
}

// extractPDF はPDFの各ページを1セグメントとして抽出する。
// 読めないページは警告を残してスキップする。
func (e *Extractor) extractPDF(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat pdf: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	var segments []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("failed to extract text from pdf page", "path", path, "page", i, "error", err)
			continue
		}

		text = cleanText(text)
		if text == "" {
			continue
		}
		segments = append(segments, text)
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", path)
	}
	return segments, nil
}

// extractPlainText はテキストファイル全体を1セグメントとして読み込む
func (e *Extractor) extractPlainText(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	text := cleanText(string(data))
	if text == "" {
		return nil, fmt.Errorf("no extractable text in %s", path)
	}
	return []string{text}, nil
}

// cleanText は改行コードを正規化し制御文字を除去する
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
