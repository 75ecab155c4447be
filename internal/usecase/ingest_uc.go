// File: internal/usecase/ingest_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"voice-ingest/internal/archive"
	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/domain/ports/adapter"
	"voice-ingest/internal/domain/ports/repository"
	"voice-ingest/internal/infra/logging"
	"voice-ingest/internal/infra/metrics"
	"voice-ingest/internal/infra/worker"
)

// Compile-time check
var _ IngestUseCase = (*ingestUC)(nil)

// IngestUseCase accepts audio, stores it and drives each message through processing.
type IngestUseCase interface {
	CreateMessage(ctx context.Context, projectID string, meta MessageMeta, audio *AudioPayload) (*model.Message, error)
	BulkUpload(ctx context.Context, projectID string, archiveData []byte) (*BulkUploadResult, error)
	UploadFiles(ctx context.Context, projectID string, files []AudioPayload) []FileUploadStatus

	TriggerProcessing(ctx context.Context, messageID string) (*model.Message, error)
	RetryProcessing(ctx context.Context, messageID string) (*model.Message, error)
	UpdateProcessingStatus(ctx context.Context, messageID string, patch model.StatusPatch) (*model.Message, error)

	ListFailed(ctx context.Context, projectID string) ([]*model.Message, error)
	ProcessBacklog(ctx context.Context, projectID string) (int, error)
	RetryAllFailed(ctx context.Context, projectID string) (int, error)

	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// MessageMeta is the client-supplied part of a new message.
type MessageMeta struct {
	Filename      string               `json:"filename"`
	Speaker       *string              `json:"speaker,omitempty"`
	Transcript    *string              `json:"transcript,omitempty"`
	Tone          *model.Tone          `json:"tone,omitempty"`
	Quote         *string              `json:"quote,omitempty"`
	EmotionalLoad *model.EmotionalLoad `json:"emotionalLoad,omitempty"`
	Duration      *int                 `json:"duration,omitempty"`
	ThemeIDs      []string             `json:"themeIds,omitempty"`
	Emotions      []string             `json:"emotions,omitempty"`
}

type AudioPayload struct {
	Filename string
	Data     []byte
	MimeType string
}

type BulkUploadResult struct {
	Uploaded int      `json:"uploaded"`
	IDs      []string `json:"ids"`
	Failed   []string `json:"failed,omitempty"` // filenames that did not become messages
}

type FileStatus string

const (
	FileUploaded FileStatus = "uploaded"
	FileError    FileStatus = "error"
)

type FileUploadStatus struct {
	Filename  string     `json:"filename"`
	MessageID string     `json:"messageId,omitempty"`
	Status    FileStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
}

type IngestOptions struct {
	UploadConcurrency int           // ad hoc multi-file batch size
	LockTTL           time.Duration // project sweep lock
}

type ingestUC struct {
	messages repository.MessageRepository
	tm       repository.TransactionManager // optional
	blobs    adapter.BlobStore
	queue    adapter.JobQueue
	locker   adapter.Locker // optional
	parser   *archive.Parser
	pool     *worker.Pool
	opts     IngestOptions
	log      *zerolog.Logger
}

func NewIngestUseCase(
	messages repository.MessageRepository,
	tm repository.TransactionManager,
	blobs adapter.BlobStore,
	queue adapter.JobQueue,
	locker adapter.Locker,
	parser *archive.Parser,
	pool *worker.Pool,
	opts IngestOptions,
	logger *zerolog.Logger,
) *ingestUC {
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 5
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if parser == nil {
		parser = archive.NewParser(nil, 0, logger)
	}
	if pool == nil {
		pool = worker.NewPool(1)
	}
	l := logger.With().Str("component", "IngestUC").Logger()
	return &ingestUC{
		messages: messages,
		tm:       tm,
		blobs:    blobs,
		queue:    queue,
		locker:   locker,
		parser:   parser,
		pool:     pool,
		opts:     opts,
		log:      &l,
	}
}

// CreateMessage persists a PENDING message. A failed audio upload leaves the
// message without audio; a failed enqueue leaves it PENDING for the backlog.
func (u *ingestUC) CreateMessage(ctx context.Context, projectID string, meta MessageMeta, audio *AudioPayload) (*model.Message, error) {
	return u.create(ctx, "single", projectID, meta, audio, false)
}

// BulkUpload turns every audio entry of an archive into a message. Entries are
// independent: a failed upload or insert drops that entry only.
func (u *ingestUC) BulkUpload(ctx context.Context, projectID string, archiveData []byte) (*BulkUploadResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	defer metrics.ObserveBulk("bulk_upload", time.Now())
	log := logging.With(logging.WithProjectID(ctx, projectID), u.log)

	bundle, err := u.parser.Parse(archiveData)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(bundle.Entries))
	tasks := make([]worker.Task, len(bundle.Entries))
	for i := range bundle.Entries {
		i, entry := i, bundle.Entries[i]
		tasks[i] = func(ctx context.Context) error {
			meta := MessageMeta{Filename: entry.Name}
			if entry.Meta != nil {
				meta.Transcript = entry.Meta.Transcript
				meta.Speaker = entry.Meta.Speaker
				meta.Tone = entry.Meta.Tone
			}
			payload := &AudioPayload{Filename: entry.Name, Data: entry.Data, MimeType: archive.MimeTypeFor(entry.Name)}
			msg, err := u.create(ctx, "bulk", projectID, meta, payload, true)
			if err != nil {
				return err
			}
			ids[i] = msg.ID
			return nil
		}
	}

	errs := u.pool.Run(ctx, tasks)

	res := &BulkUploadResult{IDs: make([]string, 0, len(tasks))}
	for i, err := range errs {
		if err != nil {
			log.Warn().Err(err).Str("entry", bundle.Entries[i].Path).Msg("bulk entry skipped")
			res.Failed = append(res.Failed, bundle.Entries[i].Name)
			continue
		}
		res.IDs = append(res.IDs, ids[i])
	}
	res.Uploaded = len(res.IDs)
	log.Info().Int("entries", len(tasks)).Int("uploaded", res.Uploaded).Msg("bulk upload finished")
	return res, nil
}

// UploadFiles ingests loose files in fixed-size batches and reports a status per file.
func (u *ingestUC) UploadFiles(ctx context.Context, projectID string, files []AudioPayload) []FileUploadStatus {
	out := make([]FileUploadStatus, len(files))
	tasks := make([]worker.Task, len(files))
	for i := range files {
		i, f := i, files[i]
		out[i].Filename = f.Filename
		tasks[i] = func(ctx context.Context) error {
			msg, err := u.create(ctx, "batch", projectID, MessageMeta{Filename: f.Filename}, &f, true)
			if err != nil {
				return err
			}
			out[i].MessageID = msg.ID
			return nil
		}
	}

	errs := worker.RunBatches(ctx, u.opts.UploadConcurrency, tasks)
	for i, err := range errs {
		if err != nil {
			out[i].Status = FileError
			out[i].Error = err.Error()
			continue
		}
		out[i].Status = FileUploaded
	}
	return out
}

// create is shared by the single, bulk and batch paths. strictUpload makes a
// failed blob upload fatal for this message instead of storing it without audio.
func (u *ingestUC) create(ctx context.Context, source, projectID string, meta MessageMeta, audio *AudioPayload, strictUpload bool) (*model.Message, error) {
	filename := strings.TrimSpace(meta.Filename)
	if filename == "" && audio != nil {
		filename = strings.TrimSpace(audio.Filename)
	}
	msg, err := model.NewMessage("", projectID, filename)
	if err != nil {
		return nil, err
	}
	if err := applyMeta(msg, meta); err != nil {
		return nil, err
	}
	log := logging.With(logging.WithMessageID(logging.WithProjectID(ctx, projectID), msg.ID), u.log)

	if audio != nil && len(audio.Data) > 0 {
		mime := audio.MimeType
		if mime == "" {
			mime = archive.MimeTypeFor(filename)
		}
		key, err := u.blobs.Upload(ctx, projectID, filename, audio.Data, mime)
		metrics.IncUpload(source, err)
		if err != nil {
			err = gatewayErr("upload audio", err)
			if strictUpload {
				return nil, err
			}
			log.Warn().Err(err).Msg("audio upload failed; storing message without audio")
		} else {
			msg.AudioKey = &key
		}
	} else if strictUpload {
		return nil, fmt.Errorf("%w: empty audio payload for %s", domain.ErrInvalidArgument, filename)
	}

	if err := u.messages.Create(ctx, nil, msg); err != nil {
		if msg.HasAudio() {
			if derr := u.blobs.Delete(ctx, *msg.AudioKey); derr != nil {
				log.Warn().Err(derr).Msg("orphaned audio blob after failed insert")
			}
		}
		return nil, fmt.Errorf("create message: %w", err)
	}

	if !msg.HasAudio() {
		return msg, nil
	}
	queued, err := u.enqueue(ctx, msg, []model.ProcessingStatus{model.StatusPending})
	if err != nil {
		log.Warn().Err(err).Msg("enqueue after create failed; message stays PENDING")
		return msg, nil
	}
	return queued, nil
}

func applyMeta(msg *model.Message, meta MessageMeta) error {
	if meta.Tone != nil {
		if _, ok := model.ParseTone(string(*meta.Tone)); !ok {
			return fmt.Errorf("%w: tone %q", domain.ErrInvalidArgument, *meta.Tone)
		}
	}
	if meta.EmotionalLoad != nil {
		if _, ok := model.ParseEmotionalLoad(string(*meta.EmotionalLoad)); !ok {
			return fmt.Errorf("%w: emotional load %q", domain.ErrInvalidArgument, *meta.EmotionalLoad)
		}
	}
	if meta.Duration != nil && *meta.Duration < 0 {
		return fmt.Errorf("%w: negative duration", domain.ErrInvalidArgument)
	}
	msg.Speaker = meta.Speaker
	msg.Transcript = meta.Transcript
	msg.Tone = meta.Tone
	msg.Quote = meta.Quote
	msg.EmotionalLoad = meta.EmotionalLoad
	msg.Duration = meta.Duration
	msg.ThemeIDs = append([]string(nil), meta.ThemeIDs...)
	msg.Emotions = append([]string(nil), meta.Emotions...)
	return nil
}

func (u *ingestUC) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	return u.messages.FindByID(ctx, nil, messageID)
}

// DeleteMessage removes the record and then, best effort, its audio.
func (u *ingestUC) DeleteMessage(ctx context.Context, messageID string) error {
	var msg *model.Message
	del := func(ctx context.Context, tx repository.Tx) error {
		m, err := u.messages.FindByID(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if err := u.messages.Delete(ctx, tx, messageID); err != nil {
			return err
		}
		msg = m
		return nil
	}

	var err error
	if u.tm != nil {
		err = u.tm.WithTx(ctx, pgx.TxOptions{}, del)
	} else {
		err = del(ctx, nil)
	}
	if err != nil {
		return err
	}

	if msg.HasAudio() {
		if err := u.blobs.Delete(ctx, *msg.AudioKey); err != nil {
			logging.With(logging.WithMessageID(ctx, messageID), u.log).
				Warn().Err(err).Str("audio_key", *msg.AudioKey).Msg("audio cleanup failed")
		}
	}
	return nil
}

// gatewayErr tags backend failures so callers can match domain.ErrGatewayUnavailable.
func gatewayErr(op string, err error) error {
	if errors.Is(err, domain.ErrGatewayUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrGatewayUnavailable, err)
}
