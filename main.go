// Package main serves as the entry point for the filesearch pipeline.
// It provides a resilient file processing system that consumes work items
// from a durable queue, extracts text (with OCR fallback), generates image
// embeddings, and indexes documents for hybrid keyword + vector search.
package main

import "filesearch/cmd"

func main() {
	cmd.Execute()
}
