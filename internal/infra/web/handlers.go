package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"voice-ingest/internal/domain"
	"voice-ingest/internal/domain/model"
	"voice-ingest/internal/infra/api"
	"voice-ingest/internal/infra/logging"
	"voice-ingest/internal/usecase"
)

const multipartMemory = 32 << 20

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMissingAudio),
		errors.Is(err, domain.ErrInvalidArchive),
		errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyQueued),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOperationInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	api.WriteJSONError(w, status, msg)
}

func (s *Server) readMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return fmt.Errorf("%w: multipart body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func readPart(fh *multipart.FileHeader) (usecase.AudioPayload, error) {
	f, err := fh.Open()
	if err != nil {
		return usecase.AudioPayload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return usecase.AudioPayload{}, err
	}
	return usecase.AudioPayload{
		Filename: fh.Filename,
		Data:     data,
		MimeType: fh.Header.Get("Content-Type"),
	}, nil
}

// POST /projects/{projectID}/messages
// Multipart fields: "metadata" (JSON, optional) and "audio" (file, optional).
func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.readMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}

	var meta usecase.MessageMeta
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: metadata: %v", domain.ErrInvalidArgument, err))
			return
		}
	}

	var audio *usecase.AudioPayload
	if fhs := r.MultipartForm.File["audio"]; len(fhs) > 0 {
		p, err := readPart(fhs[0])
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: audio: %v", domain.ErrInvalidArgument, err))
			return
		}
		audio = &p
	}

	msg, err := s.ingest.CreateMessage(r.Context(), chi.URLParam(r, "projectID"), meta, audio)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, msg)
}

// POST /projects/{projectID}/messages/bulk
func (s *Server) bulkUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.readMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	fhs := r.MultipartForm.File["archive"]
	if len(fhs) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: archive file is required", domain.ErrInvalidArgument))
		return
	}
	if s.maxArchive > 0 && fhs[0].Size > s.maxArchive {
		s.writeError(w, r, fmt.Errorf("%w: archive exceeds %d bytes", domain.ErrInvalidArgument, s.maxArchive))
		return
	}
	part, err := readPart(fhs[0])
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: archive: %v", domain.ErrInvalidArgument, err))
		return
	}

	res, err := s.ingest.BulkUpload(r.Context(), chi.URLParam(r, "projectID"), part.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, res)
}

// POST /projects/{projectID}/messages/batch
func (s *Server) uploadFiles(w http.ResponseWriter, r *http.Request) {
	if err := s.readMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	fhs := r.MultipartForm.File["files"]
	if len(fhs) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: at least one file is required", domain.ErrInvalidArgument))
		return
	}

	files := make([]usecase.AudioPayload, 0, len(fhs))
	for _, fh := range fhs {
		p, err := readPart(fh)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, fh.Filename, err))
			return
		}
		files = append(files, p)
	}

	results := s.ingest.UploadFiles(r.Context(), chi.URLParam(r, "projectID"), files)
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) listFailed(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.ingest.ListFailed(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": msgs})
}

func (s *Server) processBacklog(w http.ResponseWriter, r *http.Request) {
	n, err := s.ingest.ProcessBacklog(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"queued": n})
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.ingest.RetryAllFailed(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"retried": n})
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.ingest.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, msg)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.ingest.DeleteMessage(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) triggerProcessing(w http.ResponseWriter, r *http.Request) {
	msg, err := s.ingest.TriggerProcessing(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, msg)
}

func (s *Server) retryProcessing(w http.ResponseWriter, r *http.Request) {
	msg, err := s.ingest.RetryProcessing(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, msg)
}

// PATCH /messages/{messageID}/status, called by the processing workers.
func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var patch model.StatusPatch
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&patch); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: status patch: %v", domain.ErrInvalidArgument, err))
		return
	}
	if patch.Status != nil {
		st := model.ProcessingStatus(strings.ToUpper(string(*patch.Status)))
		patch.Status = &st
	}

	msg, err := s.ingest.UpdateProcessingStatus(r.Context(), chi.URLParam(r, "messageID"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, msg)
}
