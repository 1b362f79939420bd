package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

// PDFExtractor pulls embedded text out of PDF files. Scanned PDFs without a
// text layer yield empty text; those fall back to whatever the OCR pipeline
// produces for their page images upstream of this system.
type PDFExtractor struct {
	maxChars int
	timeout  time.Duration
}

func NewPDFExtractor(cfg config.ExtractionConfig) *PDFExtractor {
	return &PDFExtractor{maxChars: cfg.MaxTextChars, timeout: cfg.PDFTimeout}
}

func (e *PDFExtractor) Name() string { return "pdf" }

func (e *PDFExtractor) Supports(loc entity.Locator, contentType string) bool {
	return contentType == "application/pdf" || loc.Extension() == ".pdf"
}

func (e *PDFExtractor) Extract(ctx context.Context, loc entity.Locator, r io.Reader, _ int64) (*outbound.ExtractionResult, error) {
	// A pathological PDF can make the parser crawl; the per-page context
	// check below turns the budget into a hard stop.
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// The parser needs random access, so buffer the whole file. Size is
	// already capped by the processor before extraction is attempted.
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer %s: %w", loc, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", entity.ErrCorruptContent, loc, err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// A single bad page does not poison the document.
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
		if sb.Len() >= e.maxChars {
			break
		}
	}

	text := strings.TrimSpace(sb.String())
	if len([]rune(text)) > e.maxChars {
		text = string([]rune(text)[:e.maxChars])
	}

	return &outbound.ExtractionResult{
		Text:      text,
		PageCount: pages,
		CharCount: len([]rune(text)),
		Extractor: e.Name(),
	}, nil
}
