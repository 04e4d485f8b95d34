// Package extract wraps PDF validation and text extraction behind a small
// engine interface used by the worker pipeline.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"

	"github.com/paperviz/pdf-extract-service/pkg/types"
)

// ValidationError marks a permanent input defect. Jobs failing validation
// are never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Engine validates downloaded documents and extracts their text.
type Engine struct {
	maxFileSize int64
	maxPages    int
}

// NewEngine creates an Engine with the given input limits.
func NewEngine(maxFileSize int64, maxPages int) *Engine {
	return &Engine{
		maxFileSize: maxFileSize,
		maxPages:    maxPages,
	}
}

// Validate checks a downloaded document against the configured limits and
// probes it for its page count. Any violation is a ValidationError; callers
// must not retry those.
func (e *Engine) Validate(path string, size int64) (int, error) {
	if size > e.maxFileSize {
		return 0, validationErrorf("file too large: %.1fMB (limit %.0fMB)",
			float64(size)/(1024*1024), float64(e.maxFileSize)/(1024*1024))
	}

	kind, err := mimetype.DetectFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read document for type detection: %w", err)
	}
	if !kind.Is("application/pdf") {
		return 0, validationErrorf("not a valid PDF file (detected %s)", kind.String())
	}

	pageCount, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, validationErrorf("unable to read PDF: %v", err)
	}

	if pageCount < 1 {
		return 0, validationErrorf("PDF has no pages")
	}
	if pageCount > e.maxPages {
		return 0, validationErrorf("too many pages: %d (limit %d)", pageCount, e.maxPages)
	}

	return pageCount, nil
}

// Extract produces page-segmented text from a validated document. Failures
// here are engine errors and may be retried by the caller.
func (e *Engine) Extract(ctx context.Context, path string, mode types.Mode) (pageCount int, text string, err error) {
	// Malformed content streams can make the parser panic; surface that as
	// an engine error instead of taking down the worker.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() {
		_ = f.Close() // Close errors are not critical
	}()

	pageCount = reader.NumPage()

	var sb strings.Builder
	for num := 1; num <= pageCount; num++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, "", ctxErr
		}

		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return 0, "", fmt.Errorf("failed to extract text from page %d: %w", num, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}

		sb.WriteString(pageHeader(mode, num))
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}

	text = sb.String()
	logrus.WithFields(logrus.Fields{
		"pages":       pageCount,
		"text_length": len(text),
	}).Debug("Extraction finished")

	return pageCount, text, nil
}

func pageHeader(mode types.Mode, num int) string {
	if mode == types.ModeMarkdown {
		return fmt.Sprintf("\n## Page %d\n\n", num)
	}
	return fmt.Sprintf("\n--- Page %d ---\n", num)
}
