// Package dispatch accepts extraction submissions, deduplicates them against
// existing job records, enqueues units of work, and handles cancellation.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paperviz/pdf-extract-service/internal/metrics"
	"github.com/paperviz/pdf-extract-service/internal/queue"
	"github.com/paperviz/pdf-extract-service/internal/storage"
	"github.com/paperviz/pdf-extract-service/pkg/types"
)

// Enqueuer submits units of work to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.TaskPayload, token string) error
}

// TaskCanceller interrupts a queued or running unit of work.
type TaskCanceller interface {
	Cancel(token string)
}

// SubmitOutcome describes the result of a submission.
type SubmitOutcome struct {
	Accepted     bool
	Deduplicated bool
	JobToken     string
	Status       types.JobStatus
	Message      string
}

// CancelOutcome describes the result of a cancellation request.
type CancelOutcome struct {
	Success bool
	Message string
}

// Dispatcher coordinates job records and the work queue.
type Dispatcher struct {
	store     *storage.Store
	enqueuer  Enqueuer
	canceller TaskCanceller
	metrics   *metrics.Metrics
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store *storage.Store, enqueuer Enqueuer, canceller TaskCanceller, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:     store,
		enqueuer:  enqueuer,
		canceller: canceller,
		metrics:   m,
	}
}

// Submit registers an extraction request. At most one execution is ever
// active per (document_id, mode): a submission matching an active or
// completed record is deduplicated, while one matching a failed or cancelled
// record starts a fresh execution. The job record is durably visible as
// queued before the unit of work is enqueued.
func (d *Dispatcher) Submit(ctx context.Context, documentID, sourceReference string, mode types.Mode) (*SubmitOutcome, error) {
	if _, err := uuid.Parse(documentID); err != nil {
		return nil, fmt.Errorf("document_id must be a valid UUID: %w", err)
	}
	if sourceReference == "" {
		return nil, fmt.Errorf("source_reference must not be empty")
	}
	if mode != types.ModeText && mode != types.ModeMarkdown {
		return nil, fmt.Errorf("unrecognized mode: %q", mode)
	}

	token := uuid.New().String()
	created, existing, err := d.store.CreateOrResetJob(ctx, &storage.JobRecord{
		DocumentID:      documentID,
		Mode:            mode,
		JobToken:        token,
		SourceReference: sourceReference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register job: %w", err)
	}

	if !created {
		if d.metrics != nil {
			d.metrics.SubmissionsTotal.WithLabelValues("deduplicated").Inc()
		}
		outcome := &SubmitOutcome{
			Deduplicated: true,
			JobToken:     existing.JobToken,
			Status:       existing.Status,
		}
		if existing.Status == types.StatusCompleted {
			outcome.Message = "extraction already completed"
		} else {
			outcome.Message = fmt.Sprintf("extraction in progress (status: %s)", existing.Status)
		}
		return outcome, nil
	}

	payload := queue.TaskPayload{
		DocumentID:      documentID,
		SourceReference: sourceReference,
		Mode:            mode,
	}
	if err := d.enqueuer.Enqueue(ctx, payload, token); err != nil {
		// The record would otherwise sit in queued forever with no task
		// behind it.
		failed := types.StatusFailed
		msg := fmt.Sprintf("failed to enqueue extraction: %v", err)
		if _, markErr := d.store.UpdateActive(ctx, documentID, mode, storage.JobUpdate{
			Status:       &failed,
			ErrorMessage: &msg,
		}); markErr != nil {
			logrus.WithError(markErr).WithField("document_id", documentID).
				Error("Failed to mark unenqueueable job as failed")
		}
		return nil, fmt.Errorf("failed to enqueue extraction: %w", err)
	}

	if d.metrics != nil {
		d.metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	}

	logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"mode":        mode,
		"job_token":   token,
	}).Info("Extraction job enqueued")

	return &SubmitOutcome{
		Accepted: true,
		JobToken: token,
		Status:   types.StatusQueued,
		Message:  "extraction job submitted",
	}, nil
}

// Status returns the job record for a document. With an empty mode the most
// recently updated record for the document is returned.
func (d *Dispatcher) Status(ctx context.Context, documentID string, mode types.Mode) (*storage.JobRecord, error) {
	if mode == "" {
		return d.store.GetLatestJob(ctx, documentID)
	}
	return d.store.GetJob(ctx, documentID, mode)
}

// Cancel requests cancellation of a queued or running job. Cancelling a job
// that already reached a terminal state fails with a message citing that
// state. The record is marked cancelled before the execution unit is
// signalled, so a late success commit from the worker can never win.
func (d *Dispatcher) Cancel(ctx context.Context, documentID string, mode types.Mode) (*CancelOutcome, error) {
	record, err := d.Status(ctx, documentID, mode)
	if err != nil {
		return nil, err
	}

	if record.Status.IsTerminal() {
		return &CancelOutcome{
			Success: false,
			Message: fmt.Sprintf("cannot cancel: job already %s", record.Status),
		}, nil
	}

	cancelled, err := d.store.MarkCancelled(ctx, record.DocumentID, record.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	if !cancelled {
		// Lost the race against a terminal commit; report the state we lost to.
		current, err := d.store.GetJob(ctx, record.DocumentID, record.Mode)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		status := types.JobStatus("unknown")
		if current != nil {
			status = current.Status
		}
		return &CancelOutcome{
			Success: false,
			Message: fmt.Sprintf("cannot cancel: job already %s", status),
		}, nil
	}

	if d.canceller != nil {
		d.canceller.Cancel(record.JobToken)
	}
	if d.metrics != nil {
		d.metrics.JobsTotal.WithLabelValues("cancelled").Inc()
	}

	logrus.WithFields(logrus.Fields{
		"document_id": record.DocumentID,
		"mode":        record.Mode,
		"job_token":   record.JobToken,
	}).Info("Extraction job cancelled")

	return &CancelOutcome{
		Success: true,
		Message: "extraction cancelled",
	}, nil
}

// ListJobs returns job records for the admin listing endpoint.
func (d *Dispatcher) ListJobs(ctx context.Context, filter storage.ListJobsFilter) ([]*storage.JobRecord, error) {
	return d.store.ListJobs(ctx, filter)
}

// ActiveJobs returns the number of jobs in a non-terminal state.
func (d *Dispatcher) ActiveJobs(ctx context.Context) (int, error) {
	return d.store.CountActiveJobs(ctx)
}
