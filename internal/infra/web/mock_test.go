//go:build !integration

package web

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-ingest/internal/config"
	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/infra/api"
	"voice-ingest/internal/usecase"
)

// ---- Mock IngestUseCase ----

type mockIngestUC struct {
	CreateMessageFunc          func(ctx context.Context, projectID string, meta usecase.MessageMeta, audio *usecase.AudioPayload) (*model.Message, error)
	BulkUploadFunc             func(ctx context.Context, projectID string, data []byte) (*usecase.BulkUploadResult, error)
	UploadFilesFunc            func(ctx context.Context, projectID string, files []usecase.AudioPayload) []usecase.FileUploadStatus
	TriggerProcessingFunc      func(ctx context.Context, id string) (*model.Message, error)
	RetryProcessingFunc        func(ctx context.Context, id string) (*model.Message, error)
	UpdateProcessingStatusFunc func(ctx context.Context, id string, patch model.StatusPatch) (*model.Message, error)
	ListFailedFunc             func(ctx context.Context, projectID string) ([]*model.Message, error)
	ProcessBacklogFunc         func(ctx context.Context, projectID string) (int, error)
	RetryAllFailedFunc         func(ctx context.Context, projectID string) (int, error)
	GetMessageFunc             func(ctx context.Context, id string) (*model.Message, error)
	DeleteMessageFunc          func(ctx context.Context, id string) error
}

var _ usecase.IngestUseCase = (*mockIngestUC)(nil)

func (m *mockIngestUC) CreateMessage(ctx context.Context, projectID string, meta usecase.MessageMeta, audio *usecase.AudioPayload) (*model.Message, error) {
	if m.CreateMessageFunc != nil {
		return m.CreateMessageFunc(ctx, projectID, meta, audio)
	}
	return nil, domain.ErrOperationFailed
}

func (m *mockIngestUC) BulkUpload(ctx context.Context, projectID string, data []byte) (*usecase.BulkUploadResult, error) {
	if m.BulkUploadFunc != nil {
		return m.BulkUploadFunc(ctx, projectID, data)
	}
	return nil, domain.ErrOperationFailed
}

func (m *mockIngestUC) UploadFiles(ctx context.Context, projectID string, files []usecase.AudioPayload) []usecase.FileUploadStatus {
	if m.UploadFilesFunc != nil {
		return m.UploadFilesFunc(ctx, projectID, files)
	}
	return nil
}

func (m *mockIngestUC) TriggerProcessing(ctx context.Context, id string) (*model.Message, error) {
	if m.TriggerProcessingFunc != nil {
		return m.TriggerProcessingFunc(ctx, id)
	}
	return nil, domain.ErrOperationFailed
}

func (m *mockIngestUC) RetryProcessing(ctx context.Context, id string) (*model.Message, error) {
	if m.RetryProcessingFunc != nil {
		return m.RetryProcessingFunc(ctx, id)
	}
	return nil, domain.ErrOperationFailed
}

func (m *mockIngestUC) UpdateProcessingStatus(ctx context.Context, id string, patch model.StatusPatch) (*model.Message, error) {
	if m.UpdateProcessingStatusFunc != nil {
		return m.UpdateProcessingStatusFunc(ctx, id, patch)
	}
	return nil, domain.ErrOperationFailed
}

func (m *mockIngestUC) ListFailed(ctx context.Context, projectID string) ([]*model.Message, error) {
	if m.ListFailedFunc != nil {
		return m.ListFailedFunc(ctx, projectID)
	}
	return nil, nil
}

func (m *mockIngestUC) ProcessBacklog(ctx context.Context, projectID string) (int, error) {
	if m.ProcessBacklogFunc != nil {
		return m.ProcessBacklogFunc(ctx, projectID)
	}
	return 0, nil
}

func (m *mockIngestUC) RetryAllFailed(ctx context.Context, projectID string) (int, error) {
	if m.RetryAllFailedFunc != nil {
		return m.RetryAllFailedFunc(ctx, projectID)
	}
	return 0, nil
}

func (m *mockIngestUC) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	if m.GetMessageFunc != nil {
		return m.GetMessageFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockIngestUC) DeleteMessage(ctx context.Context, id string) error {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, id)
	}
	return nil
}

// ---- Mock Limiter ----

type mockLimiter struct {
	mu    sync.Mutex
	count map[string]int
	err   error
}

func (l *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == nil {
		l.count = map[string]int{}
	}
	l.count[key]++
	return l.count[key] <= limit, nil
}

// -----------------------------
// Utilities
// -----------------------------

const (
	testSecret      = "test-admin-jwt-secret-please-change"
	testWorkerToken = "worker-token"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestAuth() *AuthManager {
	return NewAuthManager(config.AuthConfig{JWTSecret: testSecret, SessionTTL: time.Minute})
}

func newTestServer(uc usecase.IngestUseCase, limiter *mockLimiter, rate int) *Server {
	httpCfg := config.HTTPConfig{
		RequestTimeout: 5 * time.Second,
		MaxUploadBytes: 10 << 20,
		UploadRate:     rate,
		UploadWindow:   time.Minute,
	}
	var l api.Limiter
	if limiter != nil {
		l = limiter
	}
	return NewServer(uc, newTestAuth(), testWorkerToken, httpCfg, 1<<10, l, newTestLogger())
}

func sampleMessage(id string, status model.ProcessingStatus) *model.Message {
	m, _ := model.NewMessage(id, "p1", id+".mp3")
	m.ProcessingStatus = status
	return m
}
