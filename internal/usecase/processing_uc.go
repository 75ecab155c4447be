// File: internal/usecase/processing_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/domain/ports/repository"
	"voice-ingest/internal/infra/logging"
	"voice-ingest/internal/infra/metrics"
	"voice-ingest/internal/infra/worker"
)

const (
	backlogLockPrefix = "ingest:backlog:"
	retryLockPrefix   = "ingest:retry:"

	// attempts for the callback's compare-and-set against a concurrently moving status
	maxTransitionAttempts = 3
)

// TriggerProcessing queues a message that has audio and no outstanding job.
func (u *ingestUC) TriggerProcessing(ctx context.Context, messageID string) (*model.Message, error) {
	msg, err := u.messages.FindByID(ctx, nil, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.HasAudio() {
		return nil, domain.ErrMissingAudio
	}
	return u.enqueue(ctx, msg, []model.ProcessingStatus{model.StatusPending, model.StatusFailed})
}

// enqueue moves msg from one of from to QUEUED and publishes the job. When the
// publish fails the status and error are put back and the failure is returned.
func (u *ingestUC) enqueue(ctx context.Context, msg *model.Message, from []model.ProcessingStatus) (*model.Message, error) {
	log := logging.With(logging.WithMessageID(logging.WithProjectID(ctx, msg.ProjectID), msg.ID), u.log)

	queued, ok, err := u.messages.TransitionStatus(ctx, nil, msg.ID, from, model.QueuedPatch())
	if err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}
	if !ok {
		return nil, u.rejectTrigger(ctx, msg.ID)
	}
	metrics.IncStatusTransition(string(msg.ProcessingStatus), string(model.StatusQueued))

	err = u.queue.EnqueueProcessing(ctx, msg.ID, msg.ProjectID)
	metrics.IncEnqueue("process", err)
	if err != nil {
		revert := model.MessagePatch{Status: &msg.ProcessingStatus, ProcessingError: msg.ProcessingError}
		if _, _, rerr := u.messages.TransitionStatus(ctx, nil, msg.ID, []model.ProcessingStatus{model.StatusQueued}, revert); rerr != nil {
			log.Error().Err(rerr).Msg("failed to revert status after enqueue failure")
		}
		return nil, gatewayErr("enqueue processing", err)
	}
	log.Debug().Str("from", string(msg.ProcessingStatus)).Msg("message queued")
	return queued, nil
}

// rejectTrigger explains why the conditional update did not match.
func (u *ingestUC) rejectTrigger(ctx context.Context, id string) error {
	cur, err := u.messages.FindByID(ctx, nil, id)
	if err != nil {
		return err
	}
	switch {
	case cur.ProcessingStatus.IsActive():
		return domain.ErrAlreadyQueued
	case cur.ProcessingStatus == model.StatusCompleted:
		return fmt.Errorf("%w: message already completed", domain.ErrInvalidTransition)
	default:
		// the status moved back between the update and this read
		return fmt.Errorf("%w: status changed to %s", domain.ErrOperationInProgress, cur.ProcessingStatus)
	}
}

// RetryProcessing puts a message back to QUEUED whatever its status, counts the
// attempt and asks the queue to resubmit the job.
func (u *ingestUC) RetryProcessing(ctx context.Context, messageID string) (*model.Message, error) {
	msg, err := u.messages.FindByID(ctx, nil, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.HasAudio() {
		return nil, domain.ErrMissingAudio
	}

	patch := model.QueuedPatch()
	patch.IncrementRetry = true
	queued, err := u.messages.Update(ctx, nil, messageID, patch)
	if err != nil {
		return nil, fmt.Errorf("retry message: %w", err)
	}
	if msg.ProcessingStatus != model.StatusQueued {
		metrics.IncStatusTransition(string(msg.ProcessingStatus), string(model.StatusQueued))
	}

	err = u.queue.Retry(ctx, messageID)
	metrics.IncEnqueue("retry", err)
	if err != nil {
		// The message stays QUEUED with the attempt counted; the caller retries again.
		return nil, gatewayErr("retry job", err)
	}
	logging.With(logging.WithMessageID(ctx, messageID), u.log).Debug().
		Int("retry_count", queued.RetryCount).Msg("message retried")
	return queued, nil
}

// UpdateProcessingStatus merges a worker callback into the record.
func (u *ingestUC) UpdateProcessingStatus(ctx context.Context, messageID string, sp model.StatusPatch) (*model.Message, error) {
	log := logging.With(logging.WithMessageID(ctx, messageID), u.log)
	if sp.RetryCount != nil {
		log.Debug().Int("retry_count", *sp.RetryCount).Msg("ignoring retryCount from callback")
	}
	if err := validateStatusPatch(sp); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := u.messages.FindByID(ctx, nil, messageID)
		if err != nil {
			return nil, err
		}
		patch, err := buildMessagePatch(cur, sp, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if patch.IsEmpty() {
			return cur, nil
		}

		updated, ok, err := u.messages.TransitionStatus(ctx, nil, messageID, []model.ProcessingStatus{cur.ProcessingStatus}, patch)
		if err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
		if !ok {
			log.Debug().Int("attempt", attempt+1).Msg("status moved during callback, re-reading")
			continue
		}
		if updated.ProcessingStatus != cur.ProcessingStatus {
			metrics.IncStatusTransition(string(cur.ProcessingStatus), string(updated.ProcessingStatus))
			log.Info().Str("from", string(cur.ProcessingStatus)).Str("to", string(updated.ProcessingStatus)).Msg("status updated")
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: status of %s keeps changing", domain.ErrOperationInProgress, messageID)
}

func validateStatusPatch(sp model.StatusPatch) error {
	if sp.Status != nil {
		if _, ok := model.ParseStatus(string(*sp.Status)); !ok {
			return fmt.Errorf("%w: status %q", domain.ErrInvalidArgument, *sp.Status)
		}
	}
	if sp.Tone != nil {
		if _, ok := model.ParseTone(string(*sp.Tone)); !ok {
			return fmt.Errorf("%w: tone %q", domain.ErrInvalidArgument, *sp.Tone)
		}
	}
	if sp.EmotionalLoad != nil {
		if _, ok := model.ParseEmotionalLoad(string(*sp.EmotionalLoad)); !ok {
			return fmt.Errorf("%w: emotional load %q", domain.ErrInvalidArgument, *sp.EmotionalLoad)
		}
	}
	if sp.Duration != nil && *sp.Duration < 0 {
		return fmt.Errorf("%w: negative duration", domain.ErrInvalidArgument)
	}
	return nil
}

// buildMessagePatch checks the callback against cur and produces the sparse write.
func buildMessagePatch(cur *model.Message, sp model.StatusPatch, now time.Time) (model.MessagePatch, error) {
	p := model.MessagePatch{
		ProcessedAt:   sp.ProcessedAt,
		GCPJobID:      sp.GCPJobID,
		GCPDuration:   sp.GCPDuration,
		Tone:          sp.Tone,
		Transcript:    sp.Transcript,
		Speaker:       sp.Speaker,
		Duration:      sp.Duration,
		Quote:         sp.Quote,
		EmotionalLoad: sp.EmotionalLoad,
	}

	target := cur.ProcessingStatus
	if sp.Status != nil {
		target, _ = model.ParseStatus(string(*sp.Status))
		if !model.CanTransition(cur.ProcessingStatus, target) {
			return p, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, cur.ProcessingStatus, target)
		}
		if target != cur.ProcessingStatus {
			p.Status = &target
			if target.IsTerminal() && p.ProcessedAt == nil {
				p.ProcessedAt = &now
			}
		}
		if target != model.StatusFailed && cur.ProcessingError != nil {
			p.ClearProcessingError = true
		}
	}
	if sp.ProcessingError != nil {
		if target != model.StatusFailed {
			return p, fmt.Errorf("%w: processing error only allowed with status FAILED", domain.ErrInvalidArgument)
		}
		p.ProcessingError = sp.ProcessingError
	}
	return p, nil
}

// ListFailed returns the project's FAILED messages, most recently updated first.
func (u *ingestUC) ListFailed(ctx context.Context, projectID string) ([]*model.Message, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	failed := model.StatusFailed
	return u.messages.FindMany(ctx, nil, repository.MessageFilter{
		ProjectID:   projectID,
		Status:      &failed,
		NewestFirst: true,
	})
}

// ProcessBacklog queues every PENDING message that has audio. Per-message
// failures are logged and skipped; the number queued is returned.
func (u *ingestUC) ProcessBacklog(ctx context.Context, projectID string) (int, error) {
	if strings.TrimSpace(projectID) == "" {
		return 0, domain.ErrInvalidArgument
	}
	defer metrics.ObserveBulk("process_backlog", time.Now())

	var queued int
	err := u.withProjectLock(ctx, backlogLockPrefix+projectID, func(ctx context.Context) error {
		pending := model.StatusPending
		hasAudio := true
		backlog, err := u.messages.FindMany(ctx, nil, repository.MessageFilter{
			ProjectID: projectID,
			Status:    &pending,
			HasAudio:  &hasAudio,
		})
		if err != nil {
			return err
		}
		queued = u.sweep(ctx, "process_backlog", backlog, func(ctx context.Context, m *model.Message) error {
			_, err := u.enqueue(ctx, m, []model.ProcessingStatus{model.StatusPending})
			return err
		})
		return nil
	})
	return queued, err
}

// RetryAllFailed retries every FAILED message of the project and returns how many succeeded.
func (u *ingestUC) RetryAllFailed(ctx context.Context, projectID string) (int, error) {
	if strings.TrimSpace(projectID) == "" {
		return 0, domain.ErrInvalidArgument
	}
	defer metrics.ObserveBulk("retry_failed", time.Now())

	var retried int
	err := u.withProjectLock(ctx, retryLockPrefix+projectID, func(ctx context.Context) error {
		failed, err := u.ListFailed(ctx, projectID)
		if err != nil {
			return err
		}
		retried = u.sweep(ctx, "retry_failed", failed, func(ctx context.Context, m *model.Message) error {
			_, err := u.RetryProcessing(ctx, m.ID)
			return err
		})
		return nil
	})
	return retried, err
}

func (u *ingestUC) sweep(ctx context.Context, op string, msgs []*model.Message, fn func(context.Context, *model.Message) error) int {
	tasks := make([]worker.Task, len(msgs))
	for i, m := range msgs {
		m := m
		tasks[i] = func(ctx context.Context) error { return fn(ctx, m) }
	}
	errs := u.pool.Run(ctx, tasks)
	for i, err := range errs {
		if err != nil {
			logging.With(logging.WithMessageID(ctx, msgs[i].ID), u.log).Warn().Err(err).Str("op", op).Msg("sweep item failed")
		}
	}
	n := worker.Succeeded(errs)
	u.log.Info().Str("op", op).Int("total", len(msgs)).Int("succeeded", n).Msg("sweep finished")
	return n
}

// withProjectLock runs fn while holding key. Without a locker fn runs unguarded.
func (u *ingestUC) withProjectLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if u.locker == nil {
		return fn(ctx)
	}
	token, err := u.locker.TryLock(ctx, key, u.opts.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrOperationInProgress) {
			return err
		}
		return gatewayErr("acquire lock", err)
	}
	defer func() {
		// release even when the request context is already gone
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := u.locker.Unlock(uctx, key, token); err != nil {
			u.log.Warn().Err(err).Str("lock", key).Msg("unlock failed")
		}
	}()
	return fn(ctx)
}
