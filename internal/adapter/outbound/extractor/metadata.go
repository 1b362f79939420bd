package extractor

import (
	"context"
	"io"
	"path"
	"strings"

	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

// MetadataExtractor is the end of the routing chain: it accepts every file
// and indexes it by name alone, so unsupported formats are still findable by
// filename and path even though their content is opaque.
type MetadataExtractor struct{}

func NewMetadataExtractor() *MetadataExtractor {
	return &MetadataExtractor{}
}

func (e *MetadataExtractor) Name() string { return "metadata" }

func (e *MetadataExtractor) Supports(_ entity.Locator, _ string) bool { return true }

func (e *MetadataExtractor) Extract(_ context.Context, loc entity.Locator, _ io.Reader, _ int64) (*outbound.ExtractionResult, error) {
	name := path.Base(loc.Key)
	stem := strings.TrimSuffix(name, path.Ext(name))

	// Break the filename into searchable tokens.
	tokens := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	text := strings.Join(tokens, " ")

	return &outbound.ExtractionResult{
		Text:      text,
		CharCount: len([]rune(text)),
		Extractor: e.Name(),
	}, nil
}
