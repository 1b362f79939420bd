package extractor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
)

func loc(key string) entity.Locator {
	return entity.Locator{Bucket: "files", Key: key}
}

func TestRegistry_Route(t *testing.T) {
	ocrCfg := config.ExtractionConfig{OCREnabled: true, OCRBinary: "tesseract"}
	registry := NewRegistry(
		NewTextExtractor(1000),
		NewPDFExtractor(config.ExtractionConfig{MaxTextChars: 1000}),
		NewOCRExtractor(ocrCfg),
		NewMetadataExtractor(),
	)

	tests := []struct {
		name        string
		key         string
		contentType string
		want        string
	}{
		{"plain text by extension", "notes/todo.txt", "", "text"},
		{"text by content type", "blob", "text/plain", "text"},
		{"pdf", "reports/q3.pdf", "application/pdf", "pdf"},
		{"image goes to ocr", "scans/page.png", "image/png", "ocr"},
		{"unknown falls through to metadata", "models/engine.step", "application/octet-stream", "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := registry.Route(loc(tt.key), tt.contentType)
			require.NotNil(t, ex)
			assert.Equal(t, tt.want, ex.Name())
		})
	}
}

func TestRegistry_Route_OCRDisabled(t *testing.T) {
	registry := NewRegistry(
		NewTextExtractor(1000),
		NewOCRExtractor(config.ExtractionConfig{OCREnabled: false}),
		NewMetadataExtractor(),
	)

	ex := registry.Route(loc("scans/page.png"), "image/png")
	require.NotNil(t, ex)
	assert.Equal(t, "metadata", ex.Name(), "images skip OCR when it is disabled")
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage(loc("a.jpg"), ""))
	assert.True(t, IsImage(loc("a.bin"), "image/webp"))
	assert.False(t, IsImage(loc("a.pdf"), "application/pdf"))
}

func TestTextExtractor_Extract(t *testing.T) {
	ex := NewTextExtractor(1000)

	result, err := ex.Extract(context.Background(), loc("a.txt"),
		strings.NewReader("  hello search world\n"), 20)

	require.NoError(t, err)
	assert.Equal(t, "hello search world", result.Text)
	assert.Equal(t, 18, result.CharCount)
	assert.Equal(t, "text", result.Extractor)
}

func TestTextExtractor_Extract_TruncatesAtCap(t *testing.T) {
	ex := NewTextExtractor(10)

	result, err := ex.Extract(context.Background(), loc("a.txt"),
		strings.NewReader(strings.Repeat("x", 100)), 100)

	require.NoError(t, err)
	assert.Equal(t, 10, result.CharCount)
}

func TestTextExtractor_Extract_DropsNulBytes(t *testing.T) {
	ex := NewTextExtractor(1000)

	result, err := ex.Extract(context.Background(), loc("a.txt"),
		strings.NewReader("ab\x00cd"), 5)

	require.NoError(t, err)
	assert.Equal(t, "abcd", result.Text)
}

func TestMetadataExtractor_Extract(t *testing.T) {
	ex := NewMetadataExtractor()

	result, err := ex.Extract(context.Background(),
		loc("documents/legal/nas01/contracts/Q3_revenue-report.final.xlsx"), nil, 0)

	require.NoError(t, err)
	assert.Equal(t, "Q3 revenue report final", result.Text)
	assert.Equal(t, "metadata", result.Extractor)
}

func TestParseTSV(t *testing.T) {
	tsv := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t",
		"5\t1\t1\t1\t1\t1\t10\t10\t40\t12\t96.5\tinvoice",
		"5\t1\t1\t1\t1\t2\t55\t10\t40\t12\t88.1\ttotal",
		"5\t1\t1\t1\t1\t3\t99\t10\t10\t12\t91.4\t ",
	}, "\n")

	text, conf := parseTSV(strings.NewReader(tsv))

	assert.Equal(t, "invoice total", text)
	assert.InDelta(t, 92.3, conf, 0.01, "confidence averages word rows only")
}

func TestParseTSV_Empty(t *testing.T) {
	text, conf := parseTSV(strings.NewReader("header\n"))
	assert.Empty(t, text)
	assert.Zero(t, conf)
}
