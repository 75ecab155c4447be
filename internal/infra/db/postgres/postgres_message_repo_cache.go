package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/domain/ports/repository"
	"voice-ingest/internal/infra/metrics"
	red "voice-ingest/internal/infra/redis"
)

var _ repository.MessageRepository = (*messageRepoCacheDecorator)(nil)

// messageRepoCacheDecorator caches single-record reads. Listings always go to
// the database so sweeps never act on stale status.
type messageRepoCacheDecorator struct {
	inner repository.MessageRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewMessageRepoCacheDecorator(inner repository.MessageRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.MessageRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "MessageCache").Logger()
	return &messageRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func messageKey(id string) string { return fmt.Sprintf("message:%s", id) }

func (d *messageRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Message, error) {
	// reads inside a transaction must see that transaction's writes
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	val, err := d.cache.Get(ctx, messageKey(id))
	switch {
	case err == nil:
		var m model.Message
		if json.Unmarshal([]byte(val), &m) == nil {
			metrics.IncCacheRequest("message", "hit")
			return &m, nil
		}
	case !errors.Is(err, red.Nil):
		metrics.IncCacheRequest("message", "error")
		d.log.Warn().Err(err).Str("message_id", id).Msg("cache read failed")
	}

	metrics.IncCacheRequest("message", "miss")
	m, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, m)
	return m, nil
}

func (d *messageRepoCacheDecorator) FindMany(ctx context.Context, tx repository.Tx, f repository.MessageFilter) ([]*model.Message, error) {
	return d.inner.FindMany(ctx, tx, f)
}

func (d *messageRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, m *model.Message) error {
	if err := d.inner.Create(ctx, tx, m); err != nil {
		return err
	}
	d.invalidate(ctx, m.ID)
	return nil
}

func (d *messageRepoCacheDecorator) Update(ctx context.Context, tx repository.Tx, id string, p model.MessagePatch) (*model.Message, error) {
	d.invalidate(ctx, id)
	m, err := d.inner.Update(ctx, tx, id, p)
	d.invalidate(ctx, id)
	return m, err
}

func (d *messageRepoCacheDecorator) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from []model.ProcessingStatus, p model.MessagePatch) (*model.Message, bool, error) {
	d.invalidate(ctx, id)
	m, ok, err := d.inner.TransitionStatus(ctx, tx, id, from, p)
	d.invalidate(ctx, id)
	return m, ok, err
}

func (d *messageRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id string) error {
	d.invalidate(ctx, id)
	return d.inner.Delete(ctx, tx, id)
}

func (d *messageRepoCacheDecorator) store(ctx context.Context, m *model.Message) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, messageKey(m.ID), b, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("message_id", m.ID).Msg("cache write failed")
	}
}

// invalidate runs on both sides of a write so a concurrent miss can't re-cache the old row for long.
func (d *messageRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	if err := d.cache.Del(ctx, messageKey(id)); err != nil {
		d.log.Warn().Err(err).Str("message_id", id).Msg("cache invalidation failed")
	}
}
