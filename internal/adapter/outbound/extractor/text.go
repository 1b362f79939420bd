package extractor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".log":  true,
	".json": true,
	".xml":  true,
	".yaml": true,
	".yml":  true,
	".ini":  true,
	".cfg":  true,
	".html": true,
	".htm":  true,
}

// TextExtractor handles plain-text file types.
type TextExtractor struct {
	maxChars int
}

func NewTextExtractor(maxChars int) *TextExtractor {
	return &TextExtractor{maxChars: maxChars}
}

func (e *TextExtractor) Name() string { return "text" }

func (e *TextExtractor) Supports(loc entity.Locator, contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	return textExtensions[loc.Extension()]
}

// Extract reads the content as UTF-8 text, truncating at the character cap.
func (e *TextExtractor) Extract(_ context.Context, loc entity.Locator, r io.Reader, _ int64) (*outbound.ExtractionResult, error) {
	var sb strings.Builder
	reader := bufio.NewReader(r)
	chars := 0

	for chars < e.maxChars {
		ch, size, err := reader.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", loc, err)
		}
		if ch == utf8.RuneError && size == 1 {
			// Tolerate stray bytes in otherwise-text files.
			continue
		}
		if ch == 0 {
			continue
		}
		sb.WriteRune(ch)
		chars++
	}

	text := strings.TrimSpace(sb.String())
	return &outbound.ExtractionResult{
		Text:      text,
		PageCount: 1,
		CharCount: len([]rune(text)),
		Extractor: e.Name(),
	}, nil
}
