package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperviz/pdf-extract-service/internal/dispatch"
	"github.com/paperviz/pdf-extract-service/internal/storage"
	"github.com/paperviz/pdf-extract-service/pkg/types"
)

const testDocID = "4a8e3f1c-9b2d-4e6a-8c1f-0d5b7a9e2c43"

// MockExtractService implements ExtractService for testing
type MockExtractService struct {
	submitFunc     func(ctx context.Context, documentID, sourceReference string, mode types.Mode) (*dispatch.SubmitOutcome, error)
	statusFunc     func(ctx context.Context, documentID string, mode types.Mode) (*storage.JobRecord, error)
	cancelFunc     func(ctx context.Context, documentID string, mode types.Mode) (*dispatch.CancelOutcome, error)
	listFunc       func(ctx context.Context, filter storage.ListJobsFilter) ([]*storage.JobRecord, error)
	activeJobsFunc func(ctx context.Context) (int, error)
}

func (m *MockExtractService) Submit(ctx context.Context, documentID, sourceReference string, mode types.Mode) (*dispatch.SubmitOutcome, error) {
	if m.submitFunc != nil {
		return m.submitFunc(ctx, documentID, sourceReference, mode)
	}
	return &dispatch.SubmitOutcome{Accepted: true, JobToken: "token", Status: types.StatusQueued}, nil
}

func (m *MockExtractService) Status(ctx context.Context, documentID string, mode types.Mode) (*storage.JobRecord, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, documentID, mode)
	}
	return nil, storage.ErrNotFound
}

func (m *MockExtractService) Cancel(ctx context.Context, documentID string, mode types.Mode) (*dispatch.CancelOutcome, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, documentID, mode)
	}
	return nil, storage.ErrNotFound
}

func (m *MockExtractService) ListJobs(ctx context.Context, filter storage.ListJobsFilter) ([]*storage.JobRecord, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockExtractService) ActiveJobs(ctx context.Context) (int, error) {
	if m.activeJobsFunc != nil {
		return m.activeJobsFunc(ctx)
	}
	return 0, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping() error {
	return m.err
}

func setupTestRouter(service ExtractService, pinger QueuePinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, NewHandler(service, pinger), nil, nil)
	return router
}

func TestSubmitExtraction_Accepted(t *testing.T) {
	var gotMode types.Mode
	service := &MockExtractService{
		submitFunc: func(_ context.Context, documentID, sourceReference string, mode types.Mode) (*dispatch.SubmitOutcome, error) {
			assert.Equal(t, testDocID, documentID)
			assert.Equal(t, "papers/doc.pdf", sourceReference)
			gotMode = mode
			return &dispatch.SubmitOutcome{
				Accepted: true,
				JobToken: "token-1",
				Status:   types.StatusQueued,
				Message:  "extraction job submitted",
			}, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	body := `{"document_id":"` + testDocID + `","source_reference":"papers/doc.pdf","mode":"markdown"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/extract", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, types.ModeMarkdown, gotMode)

	var response types.ExtractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Accepted)
	assert.Equal(t, "token-1", response.JobToken)
}

func TestSubmitExtraction_DefaultsToTextMode(t *testing.T) {
	var gotMode types.Mode
	service := &MockExtractService{
		submitFunc: func(_ context.Context, _, _ string, mode types.Mode) (*dispatch.SubmitOutcome, error) {
			gotMode = mode
			return &dispatch.SubmitOutcome{Accepted: true, Status: types.StatusQueued}, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	body := `{"document_id":"` + testDocID + `","source_reference":"papers/doc.pdf"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/extract", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, types.ModeText, gotMode)
}

func TestSubmitExtraction_Deduplicated(t *testing.T) {
	service := &MockExtractService{
		submitFunc: func(_ context.Context, _, _ string, _ types.Mode) (*dispatch.SubmitOutcome, error) {
			return &dispatch.SubmitOutcome{
				Deduplicated: true,
				JobToken:     "token-1",
				Status:       types.StatusExtracting,
				Message:      "extraction in progress (status: extracting)",
			}, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	body := `{"document_id":"` + testDocID + `","source_reference":"papers/doc.pdf"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/extract", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response types.ExtractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Accepted)
	assert.True(t, response.Deduplicated)
}

func TestSubmitExtraction_InvalidRequests(t *testing.T) {
	router := setupTestRouter(&MockExtractService{}, &mockPinger{})

	cases := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{not json`},
		{"missing document_id", `{"source_reference":"papers/doc.pdf"}`},
		{"document_id not a UUID", `{"document_id":"doc-1","source_reference":"papers/doc.pdf"}`},
		{"missing source_reference", `{"document_id":"` + testDocID + `"}`},
		{"unknown mode", `{"document_id":"` + testDocID + `","source_reference":"papers/doc.pdf","mode":"docx"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/v1/extract", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSubmitExtraction_ServiceError(t *testing.T) {
	service := &MockExtractService{
		submitFunc: func(_ context.Context, _, _ string, _ types.Mode) (*dispatch.SubmitOutcome, error) {
			return nil, errors.New("failed to enqueue extraction: redis unreachable")
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	body := `{"document_id":"` + testDocID + `","source_reference":"papers/doc.pdf"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/extract", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetExtractionStatus(t *testing.T) {
	now := time.Now()
	service := &MockExtractService{
		statusFunc: func(_ context.Context, documentID string, mode types.Mode) (*storage.JobRecord, error) {
			assert.Equal(t, testDocID, documentID)
			assert.Equal(t, types.Mode(""), mode)
			return &storage.JobRecord{
				DocumentID:      documentID,
				Mode:            types.ModeText,
				Status:          types.StatusExtracting,
				ProgressPercent: 50,
				PageCount:       12,
				JobToken:        "token-1",
				CreatedAt:       now,
				UpdatedAt:       now,
				StartedAt:       &now,
			}, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/extract/status/"+testDocID, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response types.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, types.StatusExtracting, response.Status)
	assert.Equal(t, 50, response.ProgressPercent)
	assert.Equal(t, 12, response.PageCount)
	require.NotNil(t, response.StartedAt)
}

func TestGetExtractionStatus_WithModeFilter(t *testing.T) {
	service := &MockExtractService{
		statusFunc: func(_ context.Context, documentID string, mode types.Mode) (*storage.JobRecord, error) {
			assert.Equal(t, types.ModeMarkdown, mode)
			return &storage.JobRecord{
				DocumentID: documentID,
				Mode:       mode,
				Status:     types.StatusQueued,
			}, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/extract/status/"+testDocID+"?mode=markdown", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetExtractionStatus_InvalidMode(t *testing.T) {
	router := setupTestRouter(&MockExtractService{}, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/extract/status/"+testDocID+"?mode=docx", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetExtractionStatus_NotFound(t *testing.T) {
	router := setupTestRouter(&MockExtractService{}, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/extract/status/"+testDocID, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "job not found", response.Error)
}

func TestCancelExtraction_Success(t *testing.T) {
	service := &MockExtractService{
		cancelFunc: func(_ context.Context, _ string, _ types.Mode) (*dispatch.CancelOutcome, error) {
			return &dispatch.CancelOutcome{Success: true, Message: "extraction cancelled"}, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/extract/cancel/"+testDocID, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response types.CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
}

func TestCancelExtraction_AlreadyTerminal(t *testing.T) {
	service := &MockExtractService{
		cancelFunc: func(_ context.Context, _ string, _ types.Mode) (*dispatch.CancelOutcome, error) {
			return &dispatch.CancelOutcome{Success: false, Message: "cannot cancel: job already completed"}, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/extract/cancel/"+testDocID, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	var response types.CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Success)
	assert.Contains(t, response.Message, "already completed")
}

func TestCancelExtraction_NotFound(t *testing.T) {
	router := setupTestRouter(&MockExtractService{}, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/extract/cancel/"+testDocID, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	var gotFilter storage.ListJobsFilter
	service := &MockExtractService{
		listFunc: func(_ context.Context, filter storage.ListJobsFilter) ([]*storage.JobRecord, error) {
			gotFilter = filter
			return []*storage.JobRecord{
				{DocumentID: testDocID, Mode: types.ModeText, Status: types.StatusCompleted},
			}, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/extract/jobs?status=completed&limit=10&offset=5", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", gotFilter.Status)
	assert.Equal(t, 10, gotFilter.Limit)
	assert.Equal(t, 5, gotFilter.Offset)

	var response struct {
		Jobs []types.StatusResponse `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Jobs, 1)
	assert.Equal(t, types.StatusCompleted, response.Jobs[0].Status)
}

func TestListJobs_InvalidLimit(t *testing.T) {
	router := setupTestRouter(&MockExtractService{}, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/extract/jobs?limit=banana", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheck(t *testing.T) {
	service := &MockExtractService{
		activeJobsFunc: func(context.Context) (int, error) {
			return 3, nil
		},
	}
	router := setupTestRouter(service, &mockPinger{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response types.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, 3, response.ActiveJobs)
	assert.Equal(t, Version, response.Version)
}

func TestHealthCheck_QueueUnreachable(t *testing.T) {
	router := setupTestRouter(&MockExtractService{}, &mockPinger{err: errors.New("dial tcp: connection refused")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response types.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "degraded", response.Status)
	assert.Contains(t, response.Queue, "connection refused")
}
