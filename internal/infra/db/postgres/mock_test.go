//go:build !integration

package postgres

import (
	"context"
	"time"

	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/domain/ports/repository"
	red "voice-ingest/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerMessageRepo mocks the database repository that the decorator wraps.
type mockInnerMessageRepo struct {
	CreateFunc           func(ctx context.Context, tx repository.Tx, m *model.Message) error
	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id string) (*model.Message, error)
	FindManyFunc         func(ctx context.Context, tx repository.Tx, f repository.MessageFilter) ([]*model.Message, error)
	UpdateFunc           func(ctx context.Context, tx repository.Tx, id string, p model.MessagePatch) (*model.Message, error)
	TransitionStatusFunc func(ctx context.Context, tx repository.Tx, id string, from []model.ProcessingStatus, p model.MessagePatch) (*model.Message, bool, error)
	DeleteFunc           func(ctx context.Context, tx repository.Tx, id string) error
}

func (m *mockInnerMessageRepo) Create(ctx context.Context, tx repository.Tx, msg *model.Message) error {
	return m.CreateFunc(ctx, tx, msg)
}
func (m *mockInnerMessageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Message, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerMessageRepo) FindMany(ctx context.Context, tx repository.Tx, f repository.MessageFilter) ([]*model.Message, error) {
	return m.FindManyFunc(ctx, tx, f)
}
func (m *mockInnerMessageRepo) Update(ctx context.Context, tx repository.Tx, id string, p model.MessagePatch) (*model.Message, error) {
	return m.UpdateFunc(ctx, tx, id, p)
}
func (m *mockInnerMessageRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from []model.ProcessingStatus, p model.MessagePatch) (*model.Message, bool, error) {
	return m.TransitionStatusFunc(ctx, tx, id, from, p)
}
func (m *mockInnerMessageRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	return m.DeleteFunc(ctx, tx, id)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", red.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error {
	if m.PingFunc == nil {
		return nil
	}
	return m.PingFunc(ctx)
}
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error {
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}
