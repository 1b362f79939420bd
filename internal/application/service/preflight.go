package service

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

// Preflight runs startup health checks before the worker accepts any work.
// Critical failures abort startup; warnings are logged and tolerated.
type Preflight struct {
	cfg        config.PreflightConfig
	extraction config.ExtractionConfig
	queue      outbound.Queue
	store      outbound.ObjectStore
	index      outbound.SearchIndex
	embedder   outbound.EmbeddingService
}

func NewPreflight(
	cfg config.PreflightConfig,
	extraction config.ExtractionConfig,
	queue outbound.Queue,
	store outbound.ObjectStore,
	index outbound.SearchIndex,
	embedder outbound.EmbeddingService,
) *Preflight {
	return &Preflight{
		cfg:        cfg,
		extraction: extraction,
		queue:      queue,
		store:      store,
		index:      index,
		embedder:   embedder,
	}
}

// Run executes every check and returns the aggregate status. It never stops
// at the first failure; operators get the full picture in one pass.
func (p *Preflight) Run(ctx context.Context) *entity.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CheckTimeout)
	defer cancel()

	status := &entity.HealthStatus{CheckedAt: time.Now().UTC()}

	// The queue and index are load-bearing: without them no item can be
	// processed or committed, so their failures block startup. The embedding
	// service only degrades results, and the object store check is advisory
	// because per-bucket permissions vary by item.
	status.Checks = append(status.Checks,
		p.ping(ctx, "queue", entity.SeverityCritical, p.queue.Ping),
		p.ping(ctx, "search-index", entity.SeverityCritical, p.index.Ping),
		p.ping(ctx, "object-store", entity.SeverityWarning, p.store.Ping),
		p.ping(ctx, "embedding-service", entity.SeverityWarning, p.embedder.Ping),
		p.checkDisk(),
		p.checkMemory(),
	)
	if p.extraction.OCREnabled {
		status.Checks = append(status.Checks, p.checkOCRBinary())
	}

	for _, c := range status.Checks {
		if c.Passed {
			slogger.Debug(ctx, "Pre-flight check passed", slogger.Fields{"check": c.Name})
		} else {
			slogger.Warn(ctx, "Pre-flight check failed", slogger.Fields3(
				"check", c.Name,
				"severity", string(c.Severity),
				"message", c.Message,
			))
		}
	}
	return status
}

func (p *Preflight) ping(ctx context.Context, name string, severity entity.CheckSeverity, probe func(context.Context) error) entity.CheckResult {
	started := time.Now()
	result := entity.CheckResult{Name: name, Severity: severity, Passed: true}
	if err := probe(ctx); err != nil {
		result.Passed = false
		result.Message = err.Error()
	}
	result.Duration = time.Since(started)
	return result
}

func (p *Preflight) checkDisk() entity.CheckResult {
	started := time.Now()
	result := entity.CheckResult{Name: "disk-space", Severity: entity.SeverityCritical, Passed: true}

	var stat unix.Statfs_t
	if err := unix.Statfs(p.cfg.DataDir, &stat); err != nil {
		result.Passed = false
		result.Message = fmt.Sprintf("statfs %s failed: %v", p.cfg.DataDir, err)
	} else if free := stat.Bavail * uint64(stat.Bsize); free < p.cfg.MinDiskBytes {
		result.Passed = false
		result.Message = fmt.Sprintf("%d bytes free on %s, need %d", free, p.cfg.DataDir, p.cfg.MinDiskBytes)
	}

	result.Duration = time.Since(started)
	return result
}

// checkOCRBinary confirms the configured OCR binary is on PATH. With OCR
// enabled a missing binary would fail every image item, so this blocks
// startup rather than burning delivery budgets.
func (p *Preflight) checkOCRBinary() entity.CheckResult {
	started := time.Now()
	result := entity.CheckResult{Name: "ocr-binary", Severity: entity.SeverityCritical, Passed: true}

	if _, err := exec.LookPath(p.extraction.OCRBinary); err != nil {
		result.Passed = false
		result.Message = fmt.Sprintf("%s not found: %v", p.extraction.OCRBinary, err)
	}

	result.Duration = time.Since(started)
	return result
}

func (p *Preflight) checkMemory() entity.CheckResult {
	started := time.Now()
	result := entity.CheckResult{Name: "memory", Severity: entity.SeverityWarning, Passed: true}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		result.Passed = false
		result.Message = fmt.Sprintf("sysinfo failed: %v", err)
	} else if available := uint64(info.Freeram+info.Bufferram) * uint64(info.Unit); available < p.cfg.MinMemoryBytes {
		result.Passed = false
		result.Message = fmt.Sprintf("%d bytes of memory available, want %d", available, p.cfg.MinMemoryBytes)
	}

	result.Duration = time.Since(started)
	return result
}
