//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/domain/ports/repository"
)

func TestMessageRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	repo := NewMessageRepo(testPool)
	ctx := context.Background()

	newMsg := func(t *testing.T, id, project string) *model.Message {
		t.Helper()
		m, err := model.NewMessage(id, project, id+".mp3")
		if err != nil {
			t.Fatalf("model.NewMessage() failed: %v", err)
		}
		return m
	}

	t.Run("should perform full CRUD cycle", func(t *testing.T) {
		cleanup(t)

		// 1. Create with tags
		m := newMsg(t, "m-1", "p1")
		m.AudioKey = model.Ptr("projects/p1/m-1.mp3")
		m.Speaker = model.Ptr("Alice")
		m.ThemeIDs = []string{"t2", "t1"}
		m.Emotions = []string{"joy"}
		if err := repo.Create(ctx, nil, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		// 2. Read back
		got, err := repo.FindByID(ctx, nil, "m-1")
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if got.Speaker == nil || *got.Speaker != "Alice" || got.ProcessingStatus != model.StatusPending {
			t.Errorf("unexpected message %+v", got)
		}
		if len(got.ThemeIDs) != 2 || got.ThemeIDs[0] != "t1" || len(got.Emotions) != 1 {
			t.Errorf("tags not loaded: %v %v", got.ThemeIDs, got.Emotions)
		}

		// 3. Sparse update
		tone := model.ToneNeutral
		updated, err := repo.Update(ctx, nil, "m-1", model.MessagePatch{Tone: &tone, IncrementRetry: true})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.Tone == nil || *updated.Tone != tone || updated.RetryCount != 1 || updated.Speaker == nil {
			t.Errorf("sparse update wrong: %+v", updated)
		}

		// 4. Delete
		if err := repo.Delete(ctx, nil, "m-1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.FindByID(ctx, nil, "m-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, nil, "m-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("TransitionStatus only moves from the expected states", func(t *testing.T) {
		cleanup(t)
		m := newMsg(t, "m-2", "p1")
		m.ProcessingStatus = model.StatusFailed
		m.ProcessingError = model.Ptr("timeout")
		if err := repo.Create(ctx, nil, m); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		_, ok, err := repo.TransitionStatus(ctx, nil, "m-2", []model.ProcessingStatus{model.StatusPending}, model.QueuedPatch())
		if err != nil || ok {
			t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
		}

		got, ok, err := repo.TransitionStatus(ctx, nil, "m-2", []model.ProcessingStatus{model.StatusPending, model.StatusFailed}, model.QueuedPatch())
		if err != nil || !ok {
			t.Fatalf("expected a match, got ok=%v err=%v", ok, err)
		}
		if got.ProcessingStatus != model.StatusQueued || got.ProcessingError != nil {
			t.Errorf("expected QUEUED with the error cleared, got %s %v", got.ProcessingStatus, got.ProcessingError)
		}

		if _, _, err := repo.TransitionStatus(ctx, nil, "missing", []model.ProcessingStatus{model.StatusPending}, model.QueuedPatch()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FindMany filters by project, status and audio", func(t *testing.T) {
		cleanup(t)
		for i, id := range []string{"a", "b", "c"} {
			m := newMsg(t, id, "p1")
			m.CreatedAt = m.CreatedAt.Add(time.Duration(i) * time.Second)
			if id != "c" {
				m.AudioKey = model.Ptr("k/" + id)
			}
			if err := repo.Create(ctx, nil, m); err != nil {
				t.Fatalf("Create %s failed: %v", id, err)
			}
		}
		other := newMsg(t, "x", "p2")
		other.AudioKey = model.Ptr("k/x")
		if err := repo.Create(ctx, nil, other); err != nil {
			t.Fatalf("Create x failed: %v", err)
		}

		pending := model.StatusPending
		yes := true
		got, err := repo.FindMany(ctx, nil, repository.MessageFilter{ProjectID: "p1", Status: &pending, HasAudio: &yes})
		if err != nil {
			t.Fatalf("FindMany failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
			t.Errorf("expected [a b], got %d rows", len(got))
		}
	})

	t.Run("TxManager rolls back on error", func(t *testing.T) {
		cleanup(t)
		txm := NewTxManager(testPool)
		boom := errors.New("boom")
		err := txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.Create(ctx, tx, newMsg(t, "rolled", "p1")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, err := repo.FindByID(ctx, nil, "rolled"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected the insert to be rolled back, got %v", err)
		}
	})
}
