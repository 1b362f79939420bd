package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

type pingIndex struct {
	err      error
	stale    []outbound.StaleDocument
	staleErr error
}

func (i *pingIndex) MarkProcessingStarted(context.Context, string, entity.Locator) error { return nil }
func (i *pingIndex) Upsert(context.Context, *entity.ProcessingResult) error              { return nil }
func (i *pingIndex) AttachVector(context.Context, string, []float32) error               { return nil }

func (i *pingIndex) Query(context.Context, outbound.SearchQuery) ([]outbound.SearchResult, error) {
	return nil, nil
}

func (i *pingIndex) StaleDocuments(context.Context, time.Time, int) ([]outbound.StaleDocument, error) {
	return i.stale, i.staleErr
}

func (i *pingIndex) Dimensions() int            { return 4 }
func (i *pingIndex) Ping(context.Context) error { return i.err }
func (i *pingIndex) Close() error               { return nil }

type pingEmbedder struct{ err error }

func (e *pingEmbedder) EmbedImage(context.Context, []byte, string) ([]float32, error) {
	return nil, nil
}

func (e *pingEmbedder) Dimensions() int            { return 4 }
func (e *pingEmbedder) Ping(context.Context) error { return e.err }

func preflightHarness(t *testing.T, idx *pingIndex, emb *pingEmbedder) *Preflight {
	t.Helper()
	cfg := config.PreflightConfig{
		MinDiskBytes:   1, // any real filesystem clears this
		MinMemoryBytes: 1,
		CheckTimeout:   5 * time.Second,
		DataDir:        t.TempDir(),
	}
	return NewPreflight(cfg, config.ExtractionConfig{}, &stubWorkQueue{}, newStubArchiveStore(), idx, emb)
}

func TestPreflight_AllChecksPass(t *testing.T) {
	status := preflightHarness(t, &pingIndex{}, &pingEmbedder{}).Run(context.Background())

	assert.True(t, status.Healthy())
	assert.Zero(t, status.Warnings())
	require.Len(t, status.Checks, 6)
	for _, c := range status.Checks {
		assert.Positive(t, c.Duration)
	}
}

func TestPreflight_IndexOutageIsCritical(t *testing.T) {
	status := preflightHarness(t, &pingIndex{err: errors.New("connection refused")}, &pingEmbedder{}).Run(context.Background())

	assert.False(t, status.Healthy())
	assert.Equal(t, 1, status.CriticalFailures())
	assert.Contains(t, status.FailureSummary(), "search-index")
}

func TestPreflight_EmbedderOutageOnlyWarns(t *testing.T) {
	status := preflightHarness(t, &pingIndex{}, &pingEmbedder{err: errors.New("503")}).Run(context.Background())

	assert.True(t, status.Healthy(), "a missing embedder degrades results, it does not block startup")
	assert.Equal(t, 1, status.Warnings())
}

func TestPreflight_MissingOCRBinaryBlocksStartup(t *testing.T) {
	cfg := config.PreflightConfig{
		MinDiskBytes:   1,
		MinMemoryBytes: 1,
		CheckTimeout:   5 * time.Second,
		DataDir:        t.TempDir(),
	}
	extraction := config.ExtractionConfig{OCREnabled: true, OCRBinary: "no-such-ocr-binary"}

	status := NewPreflight(cfg, extraction, &stubWorkQueue{}, newStubArchiveStore(), &pingIndex{}, &pingEmbedder{}).Run(context.Background())

	assert.False(t, status.Healthy())
	assert.Contains(t, status.FailureSummary(), "ocr-binary")
}

func TestPreflight_PresentOCRBinaryPasses(t *testing.T) {
	cfg := config.PreflightConfig{
		MinDiskBytes:   1,
		MinMemoryBytes: 1,
		CheckTimeout:   5 * time.Second,
		DataDir:        t.TempDir(),
	}
	extraction := config.ExtractionConfig{OCREnabled: true, OCRBinary: "sh"}

	status := NewPreflight(cfg, extraction, &stubWorkQueue{}, newStubArchiveStore(), &pingIndex{}, &pingEmbedder{}).Run(context.Background())

	assert.True(t, status.Healthy())
	require.Len(t, status.Checks, 7)
}

func TestPreflight_RerunSeesNewFailures(t *testing.T) {
	idx := &pingIndex{}
	p := preflightHarness(t, idx, &pingEmbedder{})

	require.True(t, p.Run(context.Background()).Healthy())

	// The same instance gates every loop restart, so a dependency that
	// broke since startup has to show up on the next run.
	idx.err = errors.New("connection refused")
	status := p.Run(context.Background())
	assert.False(t, status.Healthy())
	assert.Contains(t, status.FailureSummary(), "index")
}
