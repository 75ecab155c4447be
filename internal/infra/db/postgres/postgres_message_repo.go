package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/domain/ports/repository"
)

var _ repository.MessageRepository = (*PostgresMessageRepo)(nil)

const messageColumns = `id, project_id, filename, audio_key, duration, speaker, transcript, tone, quote,
       emotional_load, processing_status, processing_error, processed_at, retry_count,
       gcp_job_id, gcp_duration, created_at, updated_at`

type PostgresMessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *PostgresMessageRepo {
	return &PostgresMessageRepo{pool: pool}
}

// Create inserts the message together with its theme and emotion tags.
func (r *PostgresMessageRepo) Create(ctx context.Context, tx repository.Tx, m *model.Message) error {
	const q = `
INSERT INTO messages (
  id, project_id, filename, audio_key, duration, speaker, transcript, tone, quote,
  emotional_load, processing_status, processing_error, processed_at, retry_count,
  gcp_job_id, gcp_duration, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18);`

	return inTx(ctx, r.pool, tx, func(ex executor) error {
		if _, err := ex.Exec(ctx, q,
			m.ID, m.ProjectID, m.Filename, m.AudioKey, m.Duration, m.Speaker, m.Transcript,
			toneArg(m.Tone), m.Quote, loadArg(m.EmotionalLoad), string(m.ProcessingStatus),
			m.ProcessingError, m.ProcessedAt, m.RetryCount, m.GCPJobID, m.GCPDuration,
			m.CreatedAt, m.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		for _, theme := range m.ThemeIDs {
			if _, err := ex.Exec(ctx, `INSERT INTO message_themes (message_id, theme_id) VALUES ($1,$2) ON CONFLICT DO NOTHING;`, m.ID, theme); err != nil {
				return fmt.Errorf("insert message theme: %w", err)
			}
		}
		for _, emotion := range m.Emotions {
			if _, err := ex.Exec(ctx, `INSERT INTO message_emotions (message_id, emotion) VALUES ($1,$2) ON CONFLICT DO NOTHING;`, m.ID, emotion); err != nil {
				return fmt.Errorf("insert message emotion: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresMessageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Message, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	m, err := scanMessage(ex.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1;`, id))
	if err != nil {
		return nil, err
	}
	if err := loadTags(ctx, ex, []*model.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PostgresMessageRepo) FindMany(ctx context.Context, tx repository.Tx, f repository.MessageFilter) ([]*model.Message, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []interface{}
	)
	if f.ProjectID != "" {
		args = append(args, f.ProjectID)
		where = append(where, fmt.Sprintf("project_id=$%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("processing_status=$%d", len(args)))
	}
	if f.HasAudio != nil {
		if *f.HasAudio {
			where = append(where, "audio_key IS NOT NULL AND audio_key <> ''")
		} else {
			where = append(where, "(audio_key IS NULL OR audio_key = '')")
		}
	}

	q := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.NewestFirst {
		q += " ORDER BY updated_at DESC, id"
	} else {
		q += " ORDER BY created_at ASC, id"
	}

	rows, err := ex.Query(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	if err := loadTags(ctx, ex, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresMessageRepo) Update(ctx context.Context, tx repository.Tx, id string, p model.MessagePatch) (*model.Message, error) {
	sets, args := patchSet(p, []interface{}{id})
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `UPDATE messages SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 RETURNING ` + messageColumns + `;`
	m, err := scanMessage(ex.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, err
	}
	if err := loadTags(ctx, ex, []*model.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// TransitionStatus is a single conditional UPDATE; a miss is told apart from a
// missing row with a follow-up existence check.
func (r *PostgresMessageRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from []model.ProcessingStatus, p model.MessagePatch) (*model.Message, bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	sets, args := patchSet(p, []interface{}{id, states})
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, false, err
	}
	q := `UPDATE messages SET ` + strings.Join(sets, ", ") +
		` WHERE id=$1 AND processing_status = ANY($2::text[]) RETURNING ` + messageColumns + `;`
	m, err := scanMessage(ex.QueryRow(ctx, q, args...))
	if errors.Is(err, domain.ErrNotFound) {
		var exists bool
		if err := ex.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1);`, id).Scan(&exists); err != nil {
			return nil, false, fmt.Errorf("check message: %w", err)
		}
		if !exists {
			return nil, false, domain.ErrNotFound
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := loadTags(ctx, ex, []*model.Message{m}); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (r *PostgresMessageRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM messages WHERE id=$1;`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// patchSet renders the SET list for p; args already holds the WHERE arguments.
func patchSet(p model.MessagePatch, args []interface{}) ([]string, []interface{}) {
	sets := []string{"updated_at=NOW()"}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.AudioKey != nil {
		add("audio_key", *p.AudioKey)
	}
	if p.Status != nil {
		add("processing_status", string(*p.Status))
	}
	if p.ProcessingError != nil {
		add("processing_error", *p.ProcessingError)
	} else if p.ClearProcessingError {
		sets = append(sets, "processing_error=NULL")
	}
	if p.ProcessedAt != nil {
		add("processed_at", *p.ProcessedAt)
	}
	if p.IncrementRetry {
		sets = append(sets, "retry_count=retry_count+1")
	}
	if p.GCPJobID != nil {
		add("gcp_job_id", *p.GCPJobID)
	}
	if p.GCPDuration != nil {
		add("gcp_duration", *p.GCPDuration)
	}
	if p.Tone != nil {
		add("tone", string(*p.Tone))
	}
	if p.Transcript != nil {
		add("transcript", *p.Transcript)
	}
	if p.Speaker != nil {
		add("speaker", *p.Speaker)
	}
	if p.Duration != nil {
		add("duration", *p.Duration)
	}
	if p.Quote != nil {
		add("quote", *p.Quote)
	}
	if p.EmotionalLoad != nil {
		add("emotional_load", string(*p.EmotionalLoad))
	}
	return sets, args
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m          model.Message
		tone, load *string
		status     string
	)
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Filename, &m.AudioKey, &m.Duration, &m.Speaker, &m.Transcript,
		&tone, &m.Quote, &load, &status, &m.ProcessingError, &m.ProcessedAt, &m.RetryCount,
		&m.GCPJobID, &m.GCPDuration, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	m.ProcessingStatus = model.ProcessingStatus(status)
	if tone != nil {
		t := model.Tone(*tone)
		m.Tone = &t
	}
	if load != nil {
		l := model.EmotionalLoad(*load)
		m.EmotionalLoad = &l
	}
	return &m, nil
}

// loadTags fills ThemeIDs and Emotions for msgs with one query per join table.
func loadTags(ctx context.Context, ex executor, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[string]*model.Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	load := func(q string, assign func(m *model.Message, v string)) error {
		rows, err := ex.Query(ctx, q, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, v string
			if err := rows.Scan(&id, &v); err != nil {
				return err
			}
			if m, ok := byID[id]; ok {
				assign(m, v)
			}
		}
		return rows.Err()
	}

	if err := load(`SELECT message_id, theme_id FROM message_themes WHERE message_id = ANY($1::text[]) ORDER BY theme_id;`,
		func(m *model.Message, v string) { m.ThemeIDs = append(m.ThemeIDs, v) }); err != nil {
		return fmt.Errorf("load themes: %w", err)
	}
	if err := load(`SELECT message_id, emotion FROM message_emotions WHERE message_id = ANY($1::text[]) ORDER BY emotion;`,
		func(m *model.Message, v string) { m.Emotions = append(m.Emotions, v) }); err != nil {
		return fmt.Errorf("load emotions: %w", err)
	}
	return nil
}

func toneArg(t *model.Tone) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func loadArg(l *model.EmotionalLoad) *string {
	if l == nil {
		return nil
	}
	s := string(*l)
	return &s
}
