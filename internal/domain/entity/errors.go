package entity

import "errors"

// Sentinel errors for failure classification. The classifier checks these
// with errors.Is before falling back to message patterns, so adapters should
// wrap them rather than invent new strings.
var (
	// ErrUnsupportedType marks a file whose type no extractor handles.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrCorruptContent marks a file that cannot be parsed by its declared type.
	ErrCorruptContent = errors.New("corrupt or unreadable content")
	// ErrObjectNotFound marks a file deleted at source before processing.
	ErrObjectNotFound = errors.New("object not found at source")
	// ErrDimensionMismatch marks a vector whose length does not match the
	// index schema. Indexing it would silently corrupt ANN results.
	ErrDimensionMismatch = errors.New("vector dimensionality mismatch")
	// ErrExtractionFailed marks an extractor that ran but produced nothing usable.
	ErrExtractionFailed = errors.New("text extraction failed")
	// ErrRateLimited marks an embedding call rejected by throttling.
	ErrRateLimited = errors.New("embedding service rate limited")
	// ErrServiceUnavailable marks a dependency that is temporarily down.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrFileTooLarge marks a file beyond the configured processing cap.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
)
