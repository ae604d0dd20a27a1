package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/model"
	"github.com/pagelens/pagelens/internal/payload"
	"github.com/pagelens/pagelens/internal/queue"
	"github.com/pagelens/pagelens/internal/repository"
	"github.com/pagelens/pagelens/internal/storage"
)

type memStore struct {
	tasks    map[string]*model.OcrTask
	progress []payload.Progress
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]*model.OcrTask{}}
}

func (m *memStore) Get(_ context.Context, id string) (*model.OcrTask, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (m *memStore) MarkRunning(_ context.Context, t *model.OcrTask) error {
	t.MarkRunning()
	return nil
}

func (m *memStore) MarkSucceeded(_ context.Context, t *model.OcrTask, doc payload.Document, outputDir string) error {
	encoded, err := doc.Encode()
	if err != nil {
		return err
	}
	t.MarkSucceeded(encoded, outputDir)
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, t *model.OcrTask, message string) error {
	t.MarkFailed(message)
	return nil
}

func (m *memStore) PatchProgress(_ context.Context, _ string, p payload.Progress) error {
	m.progress = append(m.progress, p)
	return nil
}

type stubEngine struct {
	text string
	err  error
}

func (s *stubEngine) Name() string               { return "stub" }
func (s *stubEngine) Ready(context.Context) bool { return true }

func (s *stubEngine) Infer(context.Context, string, string, engine.Params) (string, error) {
	return s.text, s.err
}

// stubSplitter renders n fake page images into destDir.
type stubSplitter struct {
	n   int
	err error
}

func (s *stubSplitter) Split(_ context.Context, _ string, destDir string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	var out []string
	for i := 1; i <= s.n; i++ {
		var buf bytes.Buffer
		if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
			return nil, err
		}
		path := filepath.Join(destDir, "page-0"+string(rune('0'+i))+".png")
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

func newTestProcessor(t *testing.T, store *memStore, eng engine.Engine, splitter Splitter) *Processor {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{Prompt: "prompt", BaseSize: 1024, ImageSize: 640}
	return NewProcessor(store, storage.NewManager(t.TempDir()), eng, splitter, nil, cfg, log)
}

func pdfJob(t *testing.T, taskID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.PDFPayload{TaskID: taskID})
	require.NoError(t, err)
	return asynq.NewTask(queue.ProcessPDFTask, data)
}

func seedTask(store *memStore, id string) *model.OcrTask {
	task := model.NewTask(id, model.TypePDF, "/nonexistent/input.pdf")
	store.tasks[id] = task
	return task
}

func TestHandlePDFSuccess(t *testing.T) {
	store := newMemStore()
	task := seedTask(store, "T")
	eng := &stubEngine{text: "Page text <|ref|>fig<|/ref|><|det|>[[0, 0, 999, 999]]<|/det|>"}
	p := newTestProcessor(t, store, eng, &stubSplitter{n: 2})

	require.NoError(t, p.HandlePDF(context.Background(), pdfJob(t, "T")))

	assert.Equal(t, model.StatusSucceeded, task.Status)
	require.NotEmpty(t, task.OutputDir)
	doc := payload.Decode(task.ResultPayload)
	require.NotNil(t, doc.PDF)
	assert.Equal(t, "result.md", doc.PDF.MarkdownFile)
	assert.Equal(t, "result.json", doc.PDF.RawJSONFile)
	assert.Equal(t, "result.zip", doc.PDF.ArchiveFile)
	require.Len(t, doc.PDF.Pages, 2)
	assert.Equal(t, 0, doc.PDF.Pages[0].Index)
	assert.Equal(t, []string{"pages/page-01.png"}, doc.PDF.Pages[0].ImageAssets)
	require.Len(t, doc.PDF.Pages[0].Boxes, 1)
	assert.Equal(t, []int{0, 0, 8, 8}, doc.PDF.Pages[0].Boxes[0].Box)
	assert.NotContains(t, doc.PDF.Pages[0].Markdown, "<|ref|>")
	require.NotNil(t, doc.Progress)
	assert.Equal(t, 2, doc.Progress.Current)
	assert.Equal(t, 100.0, doc.Progress.Percent)

	for _, name := range []string{"result.md", "result.json", "result.zip"} {
		_, err := os.Stat(filepath.Join(task.OutputDir, name))
		assert.NoError(t, err, name)
	}
	// One patch after rendering plus one per page.
	require.Len(t, store.progress, 3)
	assert.Equal(t, 0, store.progress[0].Current)
	assert.Equal(t, 2, store.progress[2].Current)
	assert.Equal(t, "page 2/2", store.progress[2].Message)
}

func TestHandlePDFSplitFailureMarksFailed(t *testing.T) {
	store := newMemStore()
	task := seedTask(store, "T")
	p := newTestProcessor(t, store, &stubEngine{text: "x"}, &stubSplitter{err: errors.New("render exploded")})

	// Processing failures are recorded on the task, not retried.
	require.NoError(t, p.HandlePDF(context.Background(), pdfJob(t, "T")))
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, "SplitError: render exploded", task.ErrorMessage)
}

func TestHandlePDFInferenceFailureMarksFailed(t *testing.T) {
	store := newMemStore()
	task := seedTask(store, "T")
	p := newTestProcessor(t, store, &stubEngine{err: errors.New("sidecar gone")}, &stubSplitter{n: 1})

	require.NoError(t, p.HandlePDF(context.Background(), pdfJob(t, "T")))
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "InferenceError")
	assert.Contains(t, task.ErrorMessage, "page 1")
}

func TestHandlePDFSkipsTerminalTask(t *testing.T) {
	store := newMemStore()
	task := seedTask(store, "T")
	task.MarkRunning()
	task.MarkSucceeded([]byte(`{}`), "/out")
	updated := task.UpdatedAt
	p := newTestProcessor(t, store, &stubEngine{text: "x"}, &stubSplitter{n: 1})

	// A retried job after a completed attempt must not add transitions.
	require.NoError(t, p.HandlePDF(context.Background(), pdfJob(t, "T")))
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.Equal(t, updated, task.UpdatedAt)
	assert.Empty(t, store.progress)
}

func TestHandlePDFUnknownTaskConsumed(t *testing.T) {
	p := newTestProcessor(t, newMemStore(), &stubEngine{text: "x"}, &stubSplitter{n: 1})
	require.NoError(t, p.HandlePDF(context.Background(), pdfJob(t, "ghost")))
}
