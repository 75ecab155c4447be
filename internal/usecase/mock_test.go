//go:build !integration

package usecase_test

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/domain/ports/adapter"
	"voice-ingest/internal/domain/ports/repository"
)

// =============================
// Adapters
// =============================

// ---- Mock BlobStore ----

type MockBlobStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Deleted []string

	UploadFunc func(ctx context.Context, scopeID, filename string, data []byte, mimeType string) (string, error)
	DeleteFunc func(ctx context.Context, key string) error
}

var _ adapter.BlobStore = (*MockBlobStore)(nil)

func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{Objects: map[string][]byte{}}
}

func (b *MockBlobStore) Upload(ctx context.Context, scopeID, filename string, data []byte, mimeType string) (string, error) {
	if b.UploadFunc != nil {
		return b.UploadFunc(ctx, scopeID, filename, data, mimeType)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := fmt.Sprintf("projects/%s/%d-%s", scopeID, len(b.Objects), filename)
	b.Objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (b *MockBlobStore) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	b.Deleted = append(b.Deleted, key)
	b.mu.Unlock()
	if b.DeleteFunc != nil {
		return b.DeleteFunc(ctx, key)
	}
	b.mu.Lock()
	delete(b.Objects, key)
	b.mu.Unlock()
	return nil
}

// ---- Mock JobQueue ----

type MockJobQueue struct {
	mu       sync.Mutex
	Enqueued []string // message ids, in call order
	Retried  []string

	EnqueueFunc func(ctx context.Context, messageID, scopeID string) error
	RetryFunc   func(ctx context.Context, messageID string) error
}

var _ adapter.JobQueue = (*MockJobQueue)(nil)

func (q *MockJobQueue) EnqueueProcessing(ctx context.Context, messageID, scopeID string) error {
	if q.EnqueueFunc != nil {
		if err := q.EnqueueFunc(ctx, messageID, scopeID); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Enqueued = append(q.Enqueued, messageID)
	return nil
}

func (q *MockJobQueue) Retry(ctx context.Context, messageID string) error {
	if q.RetryFunc != nil {
		if err := q.RetryFunc(ctx, messageID); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Retried = append(q.Retried, messageID)
	return nil
}

func (q *MockJobQueue) EnqueueCount(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.Enqueued {
		if e == id {
			n++
		}
	}
	return n
}

// ---- Mock Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker { return &MockLocker{held: map[string]string{}} }

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.TryLockFunc != nil {
		return l.TryLockFunc(ctx, key, ttl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrOperationInProgress
	}
	tok := fmt.Sprintf("tok-%d", len(l.held)+1)
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *MockLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// =============================
// Repositories
// =============================

// ---- Mock MessageRepository ----

type MockMessageRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Message

	CreateFunc           func(ctx context.Context, tx repository.Tx, msg *model.Message) error
	TransitionStatusHook func(id string) // runs before the compare-and-set, outside the lock
}

var _ repository.MessageRepository = (*MockMessageRepo)(nil)

func NewMockMessageRepo() *MockMessageRepo {
	return &MockMessageRepo{byID: map[string]*model.Message{}}
}

func (r *MockMessageRepo) Create(ctx context.Context, tx repository.Tx, msg *model.Message) error {
	if r.CreateFunc != nil {
		if err := r.CreateFunc(ctx, tx, msg); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[msg.ID]; ok {
		return fmt.Errorf("duplicate id %s", msg.ID)
	}
	r.byID[msg.ID] = msg.Clone()
	return nil
}

func (r *MockMessageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (r *MockMessageRepo) FindMany(ctx context.Context, tx repository.Tx, f repository.MessageFilter) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Message
	for _, m := range r.byID {
		if f.ProjectID != "" && m.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != nil && m.ProcessingStatus != *f.Status {
			continue
		}
		if f.HasAudio != nil && m.HasAudio() != *f.HasAudio {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		if f.NewestFirst {
			a, b = out[j].UpdatedAt, out[i].UpdatedAt
		}
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(b)
	})
	return out, nil
}

func (r *MockMessageRepo) Update(ctx context.Context, tx repository.Tx, id string, p model.MessagePatch) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.Apply(m, time.Now())
	return m.Clone(), nil
}

func (r *MockMessageRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from []model.ProcessingStatus, p model.MessagePatch) (*model.Message, bool, error) {
	if r.TransitionStatusHook != nil {
		r.TransitionStatusHook(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	for _, s := range from {
		if m.ProcessingStatus == s {
			p.Apply(m, time.Now())
			return m.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (r *MockMessageRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// Seed stores msg as-is, bypassing the use case.
func (r *MockMessageRepo) Seed(msg *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[msg.ID] = msg.Clone()
}

func (r *MockMessageRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	mu    sync.Mutex
	calls int
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(ctx, nil)
}

func (m *MockTxManager) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func seedMessage(r *MockMessageRepo, id, project string, status model.ProcessingStatus, withAudio bool) *model.Message {
	m, _ := model.NewMessage(id, project, id+".mp3")
	m.ProcessingStatus = status
	if withAudio {
		m.AudioKey = model.Ptr("projects/" + project + "/" + id + ".mp3")
	}
	r.Seed(m)
	return m
}

type zipFile struct {
	name string
	body string
}

func buildZip(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", f.name, err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			t.Fatalf("zip write %s: %v", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}
