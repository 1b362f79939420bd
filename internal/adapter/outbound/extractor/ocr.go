package extractor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

// OCRExtractor shells out to tesseract for image files. It parses the TSV
// output to recover both the recognized text and a mean word confidence, and
// discards results below the configured confidence floor.
type OCRExtractor struct {
	cfg config.ExtractionConfig
}

func NewOCRExtractor(cfg config.ExtractionConfig) *OCRExtractor {
	return &OCRExtractor{cfg: cfg}
}

func (e *OCRExtractor) Name() string { return "ocr" }

func (e *OCRExtractor) Supports(loc entity.Locator, contentType string) bool {
	return e.cfg.OCREnabled && IsImage(loc, contentType)
}

func (e *OCRExtractor) Extract(ctx context.Context, loc entity.Locator, r io.Reader, _ int64) (*outbound.ExtractionResult, error) {
	tmp, err := os.CreateTemp("", "ocr-*"+loc.Extension())
	if err != nil {
		return nil, fmt.Errorf("failed to stage image for OCR: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to stage %s for OCR: %w", loc, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to stage %s for OCR: %w", loc, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.OCRTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.cfg.OCRBinary,
		filepath.Clean(tmp.Name()), "stdout", "-l", e.cfg.OCRLanguages, "tsv")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("OCR timed out on %s: %w", loc, ctx.Err())
		}
		return nil, fmt.Errorf("%w: OCR failed on %s: %v: %s",
			entity.ErrExtractionFailed, loc, err, strings.TrimSpace(stderr.String()))
	}

	text, confidence := parseTSV(&stdout)
	if confidence < e.cfg.MinOCRConfidence {
		slogger.Debug(ctx, "Discarding low-confidence OCR text", slogger.Fields2(
			"locator", loc.String(),
			"confidence", confidence,
		))
		text = ""
	}

	return &outbound.ExtractionResult{
		Text:          text,
		PageCount:     1,
		CharCount:     len([]rune(text)),
		OCRConfidence: confidence,
		Extractor:     e.Name(),
	}, nil
}

// parseTSV walks tesseract TSV output, joining word tokens and averaging the
// per-word confidence. Rows with conf -1 are layout markers, not words.
func parseTSV(r io.Reader) (string, float64) {
	var words []string
	var confSum float64
	var confCount int

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header row
			continue
		}
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(fields[11])
		if word == "" {
			continue
		}
		words = append(words, word)
		confSum += conf
		confCount++
	}

	if confCount == 0 {
		return "", 0
	}
	return strings.Join(words, " "), confSum / float64(confCount)
}
