// Package extractor implements text extraction for the file types the
// pipeline indexes. A registry routes each file to the first extractor that
// claims it; the metadata extractor at the end of the chain accepts
// everything, so routing never fails.
package extractor

import (
	"strings"

	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

// imageExtensions are routed to the embedding path in addition to OCR.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImage reports whether the file should also receive an image embedding.
func IsImage(loc entity.Locator, contentType string) bool {
	if strings.HasPrefix(contentType, "image/") {
		return true
	}
	return imageExtensions[loc.Extension()]
}

// Registry routes files to extractors in registration order.
type Registry struct {
	extractors []outbound.TextExtractor
}

// NewRegistry builds a registry with the given chain. Order matters: the
// first extractor that supports a file wins.
func NewRegistry(extractors ...outbound.TextExtractor) *Registry {
	return &Registry{extractors: extractors}
}

// Route returns the extractor responsible for the given file.
func (r *Registry) Route(loc entity.Locator, contentType string) outbound.TextExtractor {
	for _, ex := range r.extractors {
		if ex.Supports(loc, contentType) {
			return ex
		}
	}
	return nil
}

// Names lists registered extractor names, for startup logging.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.extractors))
	for _, ex := range r.extractors {
		names = append(names, ex.Name())
	}
	return names
}
