package index

import (
	"context"
	"fmt"
)

// migrations run in order at startup via the migrate subcommand. Each
// statement is idempotent so re-running is safe.
func migrations(dimensions int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			document_id     TEXT PRIMARY KEY,
			bucket          TEXT NOT NULL,
			object_key      TEXT NOT NULL,
			file_name       TEXT NOT NULL,
			content_type    TEXT NOT NULL DEFAULT '',
			file_size       BIGINT NOT NULL DEFAULT 0,
			category        TEXT NOT NULL DEFAULT '',
			nas_server      TEXT NOT NULL DEFAULT '',
			root_folder     TEXT NOT NULL DEFAULT '',
			nas_path        TEXT NOT NULL DEFAULT '',
			extracted_text  TEXT NOT NULL DEFAULT '',
			page_count      INT NOT NULL DEFAULT 0,
			char_count      INT NOT NULL DEFAULT 0,
			ocr_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
			processor_name  TEXT NOT NULL DEFAULT '',
			embedding       vector(%d),
			has_vector      BOOLEAN NOT NULL DEFAULT FALSE,
			text_search     tsvector GENERATED ALWAYS AS (
				setweight(to_tsvector('english', coalesce(file_name, '')), 'A') ||
				setweight(to_tsvector('english', coalesce(nas_path, '')), 'B') ||
				setweight(to_tsvector('english', left(coalesce(extracted_text, ''), 500000)), 'C')
			) STORED,
			processing_started_at TIMESTAMPTZ,
			processed_at    TIMESTAMPTZ,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimensions),

		`CREATE INDEX IF NOT EXISTS idx_documents_text_search
			ON documents USING gin (text_search)`,

		`CREATE INDEX IF NOT EXISTS idx_documents_embedding
			ON documents USING hnsw (embedding vector_cosine_ops)
			WHERE has_vector`,

		`CREATE INDEX IF NOT EXISTS idx_documents_category
			ON documents (category)`,

		`CREATE INDEX IF NOT EXISTS idx_documents_stale
			ON documents (processing_started_at)
			WHERE processed_at IS NULL`,
	}
}

// Migrate applies the schema. Safe to run repeatedly.
func (s *PostgresIndex) Migrate(ctx context.Context) error {
	for i, stmt := range migrations(s.dimensions) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
