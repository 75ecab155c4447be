package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"voice-ingest/internal/config"
	"voice-ingest/internal/infra/api"
	red "voice-ingest/internal/infra/redis"
	"voice-ingest/internal/usecase"
)

type Server struct {
	ingest      usecase.IngestUseCase
	auth        *AuthManager
	workerToken string
	limiter     api.Limiter // optional
	cfg         config.HTTPConfig
	maxArchive  int64
	log         *zerolog.Logger
}

func NewServer(
	ingest usecase.IngestUseCase,
	auth *AuthManager,
	workerToken string,
	httpCfg config.HTTPConfig,
	maxArchiveBytes int64,
	limiter api.Limiter,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "http").Logger()
	if httpCfg.RequestTimeout <= 0 {
		httpCfg.RequestTimeout = 2 * time.Minute
	}
	return &Server{
		ingest:      ingest,
		auth:        auth,
		workerToken: workerToken,
		limiter:     limiter,
		cfg:         httpCfg,
		maxArchive:  maxArchiveBytes,
		log:         &l,
	}
}

// Routes builds the full HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.Timeout(s.cfg.RequestTimeout))

		// Processing workers report back with the shared worker token.
		r.With(s.requireWorker).Patch("/messages/{messageID}/status", s.updateStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/session", s.refreshSession)
			r.Delete("/session", s.endSession)

			r.Route("/projects/{projectID}/messages", func(r chi.Router) {
				r.With(s.uploadLimit("create")).Post("/", s.createMessage)
				r.With(s.uploadLimit("bulk")).Post("/bulk", s.bulkUpload)
				r.With(s.uploadLimit("batch")).Post("/batch", s.uploadFiles)
				r.Get("/failed", s.listFailed)
				r.Post("/process-backlog", s.processBacklog)
				r.Post("/retry-failed", s.retryFailed)
			})

			r.Route("/messages/{messageID}", func(r chi.Router) {
				r.Get("/", s.getMessage)
				r.Delete("/", s.deleteMessage)
				r.Post("/process", s.triggerProcessing)
				r.Post("/retry", s.retryProcessing)
			})
		})
	})

	return api.Chain(r, api.TraceID(), api.RequestLog(s.log), api.Recover(s.log))
}

func (s *Server) uploadLimit(route string) func(http.Handler) http.Handler {
	window := s.cfg.UploadWindow
	if window <= 0 {
		window = time.Minute
	}
	return api.RateLimit(s.limiter, route, s.cfg.UploadRate, window, red.UploadKey, s.log)
}

func (s *Server) refreshSession(w http.ResponseWriter, _ *http.Request) {
	tok, err := s.auth.Mint(w)
	if err != nil {
		s.log.Error().Err(err).Msg("mint session token")
		api.WriteJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) endSession(w http.ResponseWriter, _ *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}
