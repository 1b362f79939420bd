// Package index implements the search index port on PostgreSQL. Extracted
// text is indexed as a weighted tsvector and image vectors live in a pgvector
// column; hybrid queries fuse both rankings with reciprocal rank fusion.
package index

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

// rrfK is the reciprocal rank fusion constant. 60 is the value from the
// original RRF paper and behaves well when one ranking leg is missing.
const rrfK = 60

// PostgresIndex stores documents and serves hybrid searches.
type PostgresIndex struct {
	pool       *pgxpool.Pool
	dimensions int
	limit      int
}

// NewPostgresIndex connects a pool and verifies connectivity.
func NewPostgresIndex(ctx context.Context, cfg config.IndexConfig, dimensions int) (*PostgresIndex, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid index DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	if cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
			fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index unreachable: %w", err)
	}

	return &PostgresIndex{pool: pool, dimensions: dimensions, limit: cfg.SearchLimit}, nil
}

// Upsert stores or replaces a document. Replays of the same result converge
// to the same row, which makes at-least-once delivery safe upstream.
func (s *PostgresIndex) Upsert(ctx context.Context, result *entity.ProcessingResult) error {
	if err := result.Validate(s.dimensions); err != nil {
		return fmt.Errorf("refusing to index invalid result: %w", err)
	}

	var vectorLiteral *string
	if result.HasVector {
		v := VectorToString(result.Vector)
		vectorLiteral = &v
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (
			document_id, bucket, object_key, file_name, content_type,
			file_size, category, nas_server, root_folder, nas_path,
			extracted_text, page_count, char_count, ocr_confidence,
			processor_name, embedding, has_vector, processed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16::vector, $17, $18, now()
		)
		ON CONFLICT (document_id) DO UPDATE SET
			bucket = EXCLUDED.bucket,
			object_key = EXCLUDED.object_key,
			file_name = EXCLUDED.file_name,
			content_type = EXCLUDED.content_type,
			file_size = EXCLUDED.file_size,
			category = EXCLUDED.category,
			nas_server = EXCLUDED.nas_server,
			root_folder = EXCLUDED.root_folder,
			nas_path = EXCLUDED.nas_path,
			extracted_text = EXCLUDED.extracted_text,
			page_count = EXCLUDED.page_count,
			char_count = EXCLUDED.char_count,
			ocr_confidence = EXCLUDED.ocr_confidence,
			processor_name = EXCLUDED.processor_name,
			embedding = EXCLUDED.embedding,
			has_vector = EXCLUDED.has_vector,
			processed_at = EXCLUDED.processed_at,
			updated_at = now()`,
		result.DocumentID, result.Locator.Bucket, result.Locator.Key,
		result.FileName, result.ContentType, result.FileSize,
		result.Path.Category, result.Path.NASServer, result.Path.RootFolder,
		result.Path.NASPath, result.ExtractedText, result.PageCount,
		result.CharCount, result.OCRConfidence, result.ProcessorName,
		vectorLiteral, result.HasVector, result.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", result.DocumentID, err)
	}
	return nil
}

// AttachVector backfills the vector on an already indexed document.
func (s *PostgresIndex) AttachVector(ctx context.Context, documentID string, vector []float32) error {
	if len(vector) != s.dimensions {
		return fmt.Errorf("%w: got %d dimensions, index expects %d",
			entity.ErrDimensionMismatch, len(vector), s.dimensions)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET embedding = $2::vector, has_vector = TRUE, updated_at = now()
		WHERE document_id = $1`,
		documentID, VectorToString(vector),
	)
	if err != nil {
		return fmt.Errorf("failed to attach vector to %s: %w", documentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", documentID)
	}
	return nil
}

// Query runs a hybrid search: a keyword leg ranked by ts_rank_cd and a
// nearest-neighbor leg ranked by cosine distance, fused with RRF so documents
// found by both legs rise above documents found by one.
func (s *PostgresIndex) Query(ctx context.Context, q outbound.SearchQuery) ([]outbound.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	if q.Text == "" && q.Vector == nil {
		return nil, fmt.Errorf("query needs text, a vector, or both")
	}
	if q.Vector != nil && len(q.Vector) != s.dimensions {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, index expects %d",
			entity.ErrDimensionMismatch, len(q.Vector), s.dimensions)
	}

	var vectorLiteral *string
	if q.Vector != nil {
		v := VectorToString(q.Vector)
		vectorLiteral = &v
	}

	// Each leg degrades to an empty set when its input is NULL, so the same
	// statement serves text-only, vector-only, and hybrid queries.
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		WITH keyword AS (
			SELECT document_id,
			       row_number() OVER (ORDER BY ts_rank_cd(text_search, query) DESC) AS rank
			FROM documents, websearch_to_tsquery('english', $1) query
			WHERE $1 <> '' AND text_search @@ query
			  AND ($3 = '' OR category = $3)
			LIMIT %[1]d
		),
		semantic AS (
			SELECT document_id,
			       row_number() OVER (ORDER BY embedding <=> $2::vector) AS rank
			FROM documents
			WHERE $2::text IS NOT NULL AND has_vector
			  AND ($3 = '' OR category = $3)
			ORDER BY embedding <=> $2::vector
			LIMIT %[1]d
		),
		fused AS (
			SELECT coalesce(k.document_id, v.document_id) AS document_id,
			       coalesce(1.0 / (%[2]d + k.rank), 0) +
			       coalesce(1.0 / (%[2]d + v.rank), 0) AS score
			FROM keyword k
			FULL OUTER JOIN semantic v USING (document_id)
		)
		SELECT d.document_id, d.bucket, d.object_key, d.file_name,
		       d.category, d.nas_server, d.root_folder, d.nas_path,
		       CASE WHEN $1 <> '' THEN
		           ts_headline('english', left(d.extracted_text, 10000),
		                       websearch_to_tsquery('english', $1),
		                       'MaxWords=30, MinWords=10')
		       ELSE left(d.extracted_text, 200) END AS snippet,
		       f.score
		FROM fused f
		JOIN documents d USING (document_id)
		ORDER BY f.score DESC
		LIMIT $4`, limit*2, rrfK),
		q.Text, vectorLiteral, q.Category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []outbound.SearchResult
	for rows.Next() {
		var r outbound.SearchResult
		err := rows.Scan(&r.DocumentID, &r.Locator.Bucket, &r.Locator.Key,
			&r.FileName, &r.Path.Category, &r.Path.NASServer,
			&r.Path.RootFolder, &r.Path.NASPath, &r.Snippet, &r.Score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search iteration failed: %w", err)
	}
	return results, nil
}

// MarkProcessingStarted records when work on a document began, feeding the
// stale-document sweep.
func (s *PostgresIndex) MarkProcessingStarted(ctx context.Context, documentID string, loc entity.Locator) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (document_id, bucket, object_key, file_name, processing_started_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (document_id) DO UPDATE SET processing_started_at = now()`,
		documentID, loc.Bucket, loc.Key, fileNameFromKey(loc.Key),
	)
	if err != nil {
		return fmt.Errorf("failed to mark processing started for %s: %w", documentID, err)
	}
	return nil
}

// StaleDocuments returns documents whose processing started before cutoff
// and never completed.
func (s *PostgresIndex) StaleDocuments(ctx context.Context, cutoff time.Time, limit int) ([]outbound.StaleDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, bucket, object_key
		FROM documents
		WHERE processed_at IS NULL
		  AND processing_started_at IS NOT NULL
		  AND processing_started_at < $1
		ORDER BY processing_started_at
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stale document query failed: %w", err)
	}
	defer rows.Close()

	var stale []outbound.StaleDocument
	for rows.Next() {
		var doc outbound.StaleDocument
		if err := rows.Scan(&doc.DocumentID, &doc.Locator.Bucket, &doc.Locator.Key); err != nil {
			return nil, fmt.Errorf("failed to scan stale document: %w", err)
		}
		stale = append(stale, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to collect stale documents: %w", err)
	}
	return stale, nil
}

// Dimensions returns the vector width the index schema was built with.
func (s *PostgresIndex) Dimensions() int { return s.dimensions }

// Ping verifies the database answers.
func (s *PostgresIndex) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("index unreachable: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresIndex) Close() error {
	s.pool.Close()
	return nil
}

func fileNameFromKey(key string) string {
	return path.Base(key)
}
