package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/grounding"
	"github.com/pagelens/pagelens/internal/model"
	"github.com/pagelens/pagelens/internal/pathsafe"
	"github.com/pagelens/pagelens/internal/payload"
	"github.com/pagelens/pagelens/internal/repository"
	"github.com/pagelens/pagelens/internal/result"
)

// ImageOCRResponse mirrors the succeeded image task's payload plus identity
// and timing.
type ImageOCRResponse struct {
	Success    bool                  `json:"success"`
	Text       string                `json:"text"`
	RawText    string                `json:"raw_text"`
	Boxes      []payload.BoundingBox `json:"boxes"`
	ImageDims  *payload.Dims         `json:"image_dims,omitempty"`
	TaskID     string                `json:"task_id"`
	Timing     *model.Timing         `json:"timing,omitempty"`
	DurationMS *int64                `json:"duration_ms,omitempty"`
}

// StatusResponse is the polling view of a task.
type StatusResponse struct {
	TaskID       string             `json:"task_id"`
	Status       model.TaskStatus   `json:"status"`
	TaskType     model.TaskType     `json:"task_type"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Result       *result.TaskResult `json:"result,omitempty"`
	Progress     *payload.Progress  `json:"progress,omitempty"`
	Timing       *model.Timing      `json:"timing,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "PageLens OCR API is running",
		"engine":  s.engine.Name(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := s.engine.Ready(r.Context())
	status := "healthy"
	if !ready {
		status = "starting"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"model_loaded": ready,
		"engine":       s.engine.Name(),
	})
}

// handleImageOCR runs the synchronous image path: temp upload, task record,
// inference, grounding parse, payload assembly. Any failure after the record
// exists marks it failed and surfaces the same "<Kind>: <message>" text.
func (s *Server) handleImageOCR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	if !s.engine.Ready(ctx) {
		respondError(w, http.StatusServiceUnavailable, "model not loaded yet")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer part.Close()
	tmpPath, err := s.files.SaveTemp(part, "image-*")
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("UploadError: %v", err))
		return
	}
	// The temp image is owned by this request and removed on every exit path.
	defer os.Remove(tmpPath)

	task := model.NewTask(uuid.NewString(), model.TypeImage, tmpPath)
	if err := s.store.Create(ctx, task); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("PersistError: %v", err))
		return
	}
	// Running must be persisted before inference so a crash mid-call is
	// observable rather than silently lost.
	if err := s.store.MarkRunning(ctx, task); err != nil {
		s.failTask(w, r, task, "PersistError", err)
		return
	}

	params := engine.Params{BaseSize: s.cfg.BaseSize, ImageSize: s.cfg.ImageSize, CropMode: s.cfg.CropMode}
	rawText, err := s.engine.Infer(ctx, s.cfg.Prompt, tmpPath, params)
	if err != nil {
		s.failTask(w, r, task, "InferenceError", err)
		return
	}

	img, err := imaging.Open(tmpPath)
	if err != nil {
		s.failTask(w, r, task, "ImageDecodeError", err)
		return
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	boxes := []payload.BoundingBox{}
	if grounding.HasGrounding(rawText) {
		boxes = append(boxes, grounding.ParseDetections(rawText, width, height)...)
	}
	cleaned := grounding.Strip(rawText)
	if cleaned == "" {
		cleaned = rawText
	}

	dims := &payload.Dims{W: width, H: height}
	doc := payload.Document{Image: &payload.ImageResult{
		Text:      cleaned,
		RawText:   rawText,
		Boxes:     boxes,
		ImageDims: dims,
	}}
	if err := s.store.MarkSucceeded(ctx, task, doc, ""); err != nil {
		s.failTask(w, r, task, "PersistError", err)
		return
	}

	respondJSON(w, http.StatusOK, ImageOCRResponse{
		Success:    true,
		Text:       cleaned,
		RawText:    rawText,
		Boxes:      boxes,
		ImageDims:  dims,
		TaskID:     task.ID,
		Timing:     task.Timing(),
		DurationMS: task.DurationMS,
	})
}

// failTask records a terminal failure and surfaces the same message to the
// caller as a server error.
func (s *Server) failTask(w http.ResponseWriter, r *http.Request, task *model.OcrTask, kind string, err error) {
	msg := fmt.Sprintf("%s: %v", kind, err)
	if mErr := s.store.MarkFailed(r.Context(), task, msg); mErr != nil {
		s.log.WithError(mErr).WithField("task_id", task.ID).Error("mark failed did not persist")
	}
	respondError(w, http.StatusInternalServerError, msg)
}

var pdfContentTypes = map[string]bool{
	"application/pdf":   true,
	"application/x-pdf": true,
}

// handlePDFOCR accepts a PDF, creates a pending task, and hands it to the
// worker queue. The response carries only the task identity.
func (s *Server) handlePDFOCR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer part.Close()

	contentType := strings.ToLower(part.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "application/pdf"
	}
	if !pdfContentTypes[contentType] {
		respondError(w, http.StatusBadRequest, "only PDF files are supported")
		return
	}

	taskID := uuid.NewString()
	filename := filepath.Base(part.FileName())
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		filename = taskID + ".pdf"
	}
	inputDir, err := s.files.TaskInputDir(taskID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("StorageError: %v", err))
		return
	}
	inputPath := filepath.Join(inputDir, filename)
	if _, err := s.files.SaveUpload(part, inputPath); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("UploadError: %v", err))
		return
	}

	task := model.NewTask(taskID, model.TypePDF, inputPath)
	if err := s.store.Create(ctx, task); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("PersistError: %v", err))
		return
	}
	if err := s.queue.EnqueuePDF(ctx, taskID); err != nil {
		s.failTask(w, r, task, "EnqueueError", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// handleTaskRoute dispatches /api/tasks/{id} and /api/tasks/{id}/download/{path}.
func (s *Server) handleTaskRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.SplitN(rest, "/", 3)
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch {
	case len(parts) == 1:
		s.handleTaskStatus(w, r, id)
	case len(parts) == 3 && parts[1] == "download" && parts[2] != "":
		s.handleDownload(w, r, id, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	if s.cache != nil {
		if body, ok := s.cache.Get(ctx, id); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}
	}
	task, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("PersistError: %v", err))
		return
	}
	doc := payload.Decode(task.ResultPayload)
	resp := StatusResponse{
		TaskID:       task.ID,
		Status:       task.Status,
		TaskType:     task.Type,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
		ErrorMessage: task.ErrorMessage,
		Result:       result.Assemble(task.ID, doc),
		Progress:     doc.Progress,
		Timing:       task.Timing(),
	}
	if s.cache != nil && task.Status.Terminal() {
		if body, err := jsonBody(resp); err == nil {
			_ = s.cache.Set(ctx, id, body)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id, relPath string) {
	task, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("PersistError: %v", err))
		return
	}
	if task.Status != model.StatusSucceeded || task.OutputDir == "" {
		respondError(w, http.StatusNotFound, "task has no results yet")
		return
	}
	target, err := pathsafe.Resolve(task.OutputDir, relPath)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid file path")
		return
	}
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(target)))
	http.ServeFile(w, r, target)
}
