// Package api exposes the HTTP surface for OCR task orchestration: the
// synchronous image route, the queued PDF route, polling, and artifact
// download.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pagelens/pagelens/internal/cache"
	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/model"
	"github.com/pagelens/pagelens/internal/payload"
	"github.com/pagelens/pagelens/internal/storage"
)

// TaskStore is the slice of the repository the handlers depend on.
type TaskStore interface {
	Create(ctx context.Context, t *model.OcrTask) error
	Get(ctx context.Context, id string) (*model.OcrTask, error)
	MarkRunning(ctx context.Context, t *model.OcrTask) error
	MarkSucceeded(ctx context.Context, t *model.OcrTask, doc payload.Document, outputDir string) error
	MarkFailed(ctx context.Context, t *model.OcrTask, message string) error
}

// Enqueuer hands a created PDF task to the worker queue.
type Enqueuer interface {
	EnqueuePDF(ctx context.Context, taskID string) error
}

// Server exposes the OCR HTTP endpoints.
type Server struct {
	cfg    *config.Config
	store  TaskStore
	files  *storage.Manager
	engine engine.Engine
	queue  Enqueuer
	cache  *cache.StatusCache
	log    *logrus.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server. cache may be nil to disable status caching.
func New(cfg *config.Config, store TaskStore, files *storage.Manager, eng engine.Engine, queue Enqueuer, statusCache *cache.StatusCache, log *logrus.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		files:  files,
		engine: eng,
		queue:  queue,
		cache:  statusCache,
		log:    log,
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/ocr/image", s.handleImageOCR)
	mux.HandleFunc("/api/ocr/pdf", s.handlePDFOCR)
	mux.HandleFunc("/api/tasks/", s.handleTaskRoute)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.WithField("address", s.cfg.Address).Info("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, errors.New("multipart form field 'file' is required")
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func jsonBody(body any) ([]byte, error) {
	return json.Marshal(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": fmt.Sprint(time.Since(start)),
		}).Info("request")
	})
}
