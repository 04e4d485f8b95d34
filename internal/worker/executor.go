// Package worker executes extraction units of work pulled from the queue,
// driving each job through the download, validate, extract, upload and
// finalize phases while committing progress to the status store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/paperviz/pdf-extract-service/internal/extract"
	"github.com/paperviz/pdf-extract-service/internal/metrics"
	"github.com/paperviz/pdf-extract-service/internal/queue"
	"github.com/paperviz/pdf-extract-service/internal/storage"
	"github.com/paperviz/pdf-extract-service/pkg/types"
)

// errAbandoned signals that the job record reached a terminal state under
// the executor's feet (cancellation) and the remaining phases were skipped.
var errAbandoned = errors.New("job record reached a terminal state")

// DocumentStore is the document store contract the pipeline depends on.
type DocumentStore interface {
	FetchDocument(ctx context.Context, reference string) (string, int64, error)
	StoreText(ctx context.Context, documentID string, mode types.Mode, text string) (string, error)
	Cleanup(tempPath string) error
}

// Engine is the extraction engine contract the pipeline depends on.
type Engine interface {
	Validate(path string, size int64) (int, error)
	Extract(ctx context.Context, path string, mode types.Mode) (int, string, error)
}

// Executor consumes extraction tasks and applies the retry policy.
type Executor struct {
	store         *storage.Store
	docs          DocumentStore
	engine        Engine
	metrics       *metrics.Metrics
	maxRetries    int
	hardTimeLimit time.Duration
}

// NewExecutor creates an Executor.
func NewExecutor(store *storage.Store, docs DocumentStore, engine Engine, m *metrics.Metrics, maxRetries int, hardTimeLimit time.Duration) *Executor {
	return &Executor{
		store:         store,
		docs:          docs,
		engine:        engine,
		metrics:       m,
		maxRetries:    maxRetries,
		hardTimeLimit: hardTimeLimit,
	}
}

// ProcessTask is the asynq handler for extraction tasks.
func (e *Executor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload queue.TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("missing document_id in task payload: %w", asynq.SkipRetry)
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	token, _ := asynq.GetTaskID(ctx)

	return e.Run(ctx, payload, token, retryCount)
}

// Run executes one attempt of a job under the hard wall-clock limit and maps
// the pipeline outcome onto the retry policy: nil acknowledges the unit, a
// plain error re-enters the queue, and an error wrapping asynq.SkipRetry is
// terminal.
func (e *Executor) Run(ctx context.Context, payload queue.TaskPayload, token string, retryCount int) error {
	log := logrus.WithFields(logrus.Fields{
		"document_id": payload.DocumentID,
		"mode":        payload.Mode,
		"attempt":     retryCount + 1,
	})
	log.Info("Starting extraction attempt")

	if e.metrics != nil {
		e.metrics.ActiveJobs.Inc()
		defer e.metrics.ActiveJobs.Dec()
	}
	start := time.Now()

	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.runPipeline(pipeCtx, payload, token, retryCount)
	}()

	var hardLimit <-chan time.Time
	if e.hardTimeLimit > 0 {
		timer := time.NewTimer(e.hardTimeLimit)
		defer timer.Stop()
		hardLimit = timer.C
	}

	select {
	case err := <-done:
		if e.metrics != nil {
			e.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
		}
		return e.settle(ctx, payload, retryCount, err, log)
	case <-hardLimit:
		// The unit of work is abandoned outright; the pipeline goroutine is
		// cancelled and left to unwind its own cleanup.
		cancel()
		msg := fmt.Sprintf("extraction timed out (hard limit %s exceeded)", e.hardTimeLimit)
		log.Error(msg)
		e.markFailed(context.Background(), payload, msg)
		if e.metrics != nil {
			e.metrics.JobsTotal.WithLabelValues("timeout").Inc()
		}
		return fmt.Errorf("%s: %w", msg, asynq.SkipRetry)
	}
}

// settle turns a pipeline result into a durable record state plus the
// handler return value asynq interprets.
func (e *Executor) settle(ctx context.Context, payload queue.TaskPayload, retryCount int, err error, log *logrus.Entry) error {
	// Terminal commits must still land after the handler context expired.
	commitCtx := context.WithoutCancel(ctx)

	if err == nil {
		if e.metrics != nil {
			e.metrics.JobsTotal.WithLabelValues("completed").Inc()
		}
		log.Info("Extraction completed")
		return nil
	}

	if errors.Is(err, errAbandoned) {
		// Cancellation won a checkpoint race; the record already says so.
		log.Info("Extraction abandoned, record is terminal")
		return nil
	}

	var validationErr *extract.ValidationError
	if errors.As(err, &validationErr) {
		log.WithError(err).Error("Validation failed")
		e.markFailed(commitCtx, payload, validationErr.Reason)
		if e.metrics != nil {
			e.metrics.JobsTotal.WithLabelValues("validation_failed").Inc()
		}
		return fmt.Errorf("%s: %w", validationErr.Reason, asynq.SkipRetry)
	}

	if errors.Is(err, context.Canceled) {
		// The cancellation controller marks the record before it signals,
		// so a cancelled record means this interrupt was user-initiated.
		// Otherwise the worker is shutting down and the unit must be
		// redelivered, not acknowledged.
		record, getErr := e.store.GetJob(commitCtx, payload.DocumentID, payload.Mode)
		if getErr == nil && record.Status == types.StatusCancelled {
			log.Info("Extraction interrupted by cancellation")
			return nil
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		// Soft limit: the attempt consumed its time budget, do not retry.
		msg := "extraction timed out (soft limit exceeded)"
		log.Error(msg)
		e.markFailed(commitCtx, payload, msg)
		if e.metrics != nil {
			e.metrics.JobsTotal.WithLabelValues("timeout").Inc()
		}
		return fmt.Errorf("%s: %w", msg, asynq.SkipRetry)
	}

	// Transient failure, including anything unanticipated.
	if retryCount >= e.maxRetries {
		msg := fmt.Sprintf("extraction failed after %d retries: %v", e.maxRetries, err)
		log.WithError(err).Error("Retry budget exhausted")
		e.markFailed(commitCtx, payload, msg)
		if e.metrics != nil {
			e.metrics.JobsTotal.WithLabelValues("transient_failed").Inc()
		}
		return fmt.Errorf("%s: %w", msg, asynq.SkipRetry)
	}

	log.WithError(err).WithField("retry", retryCount+1).Warn("Transient failure, scheduling retry")

	queued := types.StatusQueued
	nextRetry := retryCount + 1
	retryMsg := fmt.Sprintf("retrying: %v", err)
	updated, updateErr := e.store.UpdateActive(commitCtx, payload.DocumentID, payload.Mode, storage.JobUpdate{
		Status:       &queued,
		RetryCount:   &nextRetry,
		ErrorMessage: &retryMsg,
	})
	if updateErr != nil {
		log.WithError(updateErr).Error("Failed to record retry state")
	}
	if updateErr == nil && !updated {
		// Cancelled while we were failing; nothing left to do.
		return nil
	}

	if e.metrics != nil {
		e.metrics.RetriesTotal.Inc()
	}
	return err
}

// runPipeline drives one attempt through the phases. Each phase transition
// is committed to the status store before the phase runs, with a terminal
// state guard so a cancelled job is abandoned at the next checkpoint.
func (e *Executor) runPipeline(ctx context.Context, payload queue.TaskPayload, token string, retryCount int) error {
	// Phase 1: downloading.
	now := time.Now()
	downloading := types.StatusDownloading
	progressStart := 0
	noError := ""
	upd := storage.JobUpdate{
		Status:          &downloading,
		ProgressPercent: &progressStart,
		ErrorMessage:    &noError,
		RetryCount:      &retryCount,
		StartedAt:       &now,
	}
	if token != "" {
		upd.JobToken = &token
	}
	if err := e.commit(ctx, payload, upd); err != nil {
		return err
	}

	tempPath, size, err := e.docs.FetchDocument(ctx, payload.SourceReference)
	if err != nil {
		return fmt.Errorf("failed to download document: %w", err)
	}
	defer func() {
		if cleanupErr := e.docs.Cleanup(tempPath); cleanupErr != nil {
			logrus.WithError(cleanupErr).WithField("document_id", payload.DocumentID).
				Warn("Failed to remove temp document")
		}
	}()

	// Phase 2: validation. Violations are permanent input defects and pass
	// through untouched so settle never retries them.
	pageCount, err := e.engine.Validate(tempPath, size)
	if err != nil {
		return err
	}

	// Phase 3: extracting.
	extracting := types.StatusExtracting
	progressExtract := 50
	if err := e.commit(ctx, payload, storage.JobUpdate{
		Status:          &extracting,
		ProgressPercent: &progressExtract,
		PageCount:       &pageCount,
	}); err != nil {
		return err
	}

	pageCount, text, err := e.engine.Extract(ctx, tempPath, payload.Mode)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	// Phase 4: uploading.
	uploading := types.StatusUploading
	progressUpload := 80
	if err := e.commit(ctx, payload, storage.JobUpdate{
		Status:          &uploading,
		ProgressPercent: &progressUpload,
	}); err != nil {
		return err
	}

	location, err := e.docs.StoreText(ctx, payload.DocumentID, payload.Mode, text)
	if err != nil {
		return fmt.Errorf("failed to store extracted text: %w", err)
	}

	// Phase 5: finalizing.
	completed := types.StatusCompleted
	progressDone := 100
	textLength := len(text)
	completedAt := time.Now()
	return e.commit(ctx, payload, storage.JobUpdate{
		Status:          &completed,
		ProgressPercent: &progressDone,
		PageCount:       &pageCount,
		TextLength:      &textLength,
		ResultLocation:  &location,
		ErrorMessage:    &noError,
		CompletedAt:     &completedAt,
	})
}

// commit writes a phase transition through the terminal-state guard.
func (e *Executor) commit(ctx context.Context, payload queue.TaskPayload, upd storage.JobUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	updated, err := e.store.UpdateActive(ctx, payload.DocumentID, payload.Mode, upd)
	if err != nil {
		return fmt.Errorf("failed to commit phase: %w", err)
	}
	if !updated {
		return errAbandoned
	}
	return nil
}

// markFailed commits a terminal failure. The guard keeps a cancellation that
// sneaked in first intact.
func (e *Executor) markFailed(ctx context.Context, payload queue.TaskPayload, message string) {
	failed := types.StatusFailed
	completedAt := time.Now()
	if _, err := e.store.UpdateActive(ctx, payload.DocumentID, payload.Mode, storage.JobUpdate{
		Status:       &failed,
		ErrorMessage: &message,
		CompletedAt:  &completedAt,
	}); err != nil {
		logrus.WithError(err).WithField("document_id", payload.DocumentID).
			Error("Failed to record terminal failure")
	}
}
