package entity

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PathMetadata holds fields recovered from the object key layout
// ({prefix}/{category}/{server}/{root_folder}/...). All fields are optional;
// keys outside the layout simply leave them empty.
type PathMetadata struct {
	Category   string `json:"category,omitempty"`
	NASServer  string `json:"nas_server,omitempty"`
	RootFolder string `json:"root_folder,omitempty"`
	NASPath    string `json:"nas_path,omitempty"`
}

// ProcessingResult is the document written to the search index for one
// WorkItem. Vector is present only when embedding succeeded; HasVector
// records that outcome explicitly so text-only documents stay searchable.
type ProcessingResult struct {
	DocumentID    string       `json:"document_id"`
	Locator       Locator      `json:"locator"`
	FileName      string       `json:"file_name"`
	ContentType   string       `json:"content_type"`
	FileSize      int64        `json:"file_size"`
	ExtractedText string       `json:"extracted_text,omitempty"`
	PageCount     int          `json:"page_count,omitempty"`
	CharCount     int          `json:"char_count"`
	OCRConfidence float64      `json:"ocr_confidence,omitempty"`
	Path          PathMetadata `json:"path_metadata"`
	Vector        []float32    `json:"vector,omitempty"`
	HasVector     bool         `json:"has_vector"`
	ProcessorName string       `json:"processor_name"`
	ProcessedAt   time.Time    `json:"processed_at"`
}

// Validate enforces the result invariants before an index write. The vector
// dimensionality must exactly match the index's configured dimensionality:
// fail loud, never truncate or pad.
func (r ProcessingResult) Validate(indexDimensions int) error {
	if r.DocumentID == "" {
		return fmt.Errorf("processing result for %s has no document id", r.Locator)
	}
	if r.HasVector != (len(r.Vector) > 0) {
		return fmt.Errorf("processing result for %s: has_vector=%t but vector length is %d",
			r.Locator, r.HasVector, len(r.Vector))
	}
	if r.HasVector && len(r.Vector) != indexDimensions {
		return fmt.Errorf("%w: got %d dimensions, index expects %d",
			ErrDimensionMismatch, len(r.Vector), indexDimensions)
	}
	return nil
}

var pathLayoutPattern = regexp.MustCompile(`^(?:documents|processed|converted)/([^/]+)/([^/]+)/([^/]+)/`)

// ExtractPathMetadata recovers category, server, and root folder fields from
// an object key shaped like {prefix}/{category}/{server}/{root_folder}/....
// Keys outside the layout yield an empty PathMetadata.
func ExtractPathMetadata(key string) PathMetadata {
	m := pathLayoutPattern.FindStringSubmatch(key)
	if m == nil {
		return PathMetadata{}
	}

	meta := PathMetadata{
		Category:   m[1],
		NASServer:  m[2],
		RootFolder: m[3],
	}

	// Reconstruct the UNC-style display path below the server segment.
	if idx := strings.Index(key, meta.NASServer+"/"); idx >= 0 {
		remaining := key[idx+len(meta.NASServer)+1:]
		meta.NASPath = `\\` + meta.NASServer + `\` + strings.ReplaceAll(remaining, "/", `\`)
	}
	return meta
}
