// Package worker consumes queued PDF OCR jobs: it renders pages, runs each
// one through the inference engine, writes artifacts into the task output
// directory, and drives the task record to its terminal state.
package worker

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/grounding"
	"github.com/pagelens/pagelens/internal/model"
	"github.com/pagelens/pagelens/internal/payload"
	"github.com/pagelens/pagelens/internal/pdfinfo"
	"github.com/pagelens/pagelens/internal/queue"
	"github.com/pagelens/pagelens/internal/s3mirror"
	"github.com/pagelens/pagelens/internal/storage"
)

// TaskStore is the slice of the repository the processor depends on.
type TaskStore interface {
	Get(ctx context.Context, id string) (*model.OcrTask, error)
	MarkRunning(ctx context.Context, t *model.OcrTask) error
	MarkSucceeded(ctx context.Context, t *model.OcrTask, doc payload.Document, outputDir string) error
	MarkFailed(ctx context.Context, t *model.OcrTask, message string) error
	PatchProgress(ctx context.Context, id string, p payload.Progress) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	store    TaskStore
	files    *storage.Manager
	engine   engine.Engine
	splitter Splitter
	mirror   *s3mirror.Mirror
	cfg      *config.Config
	log      *logrus.Logger
}

// NewProcessor constructs a worker processor. mirror may be nil.
func NewProcessor(store TaskStore, files *storage.Manager, eng engine.Engine, splitter Splitter, mirror *s3mirror.Mirror, cfg *config.Config, log *logrus.Logger) *Processor {
	return &Processor{
		store:    store,
		files:    files,
		engine:   eng,
		splitter: splitter,
		mirror:   mirror,
		cfg:      cfg,
		log:      log,
	}
}

// Handler registers the PDF job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessPDFTask, p.HandlePDF)
	return mux
}

// HandlePDF processes one queued PDF task. A returned error makes asynq retry
// the job, so only transient conditions (engine warming up, load failures
// before any transition) propagate; processing failures are recorded on the
// task record instead and the job is consumed.
func (p *Processor) HandlePDF(ctx context.Context, job *asynq.Task) error {
	var pl queue.PDFPayload
	if err := json.Unmarshal(job.Payload(), &pl); err != nil {
		return fmt.Errorf("decode payload: %w", asynq.SkipRetry)
	}
	log := p.log.WithField("task_id", pl.TaskID)

	task, err := p.store.Get(ctx, pl.TaskID)
	if err != nil {
		log.WithError(err).Warn("pdf job references unknown task")
		return nil
	}
	// A retried job must add at most one transition; a task another attempt
	// already finished is left untouched.
	if task.Status.Terminal() {
		log.WithField("status", task.Status).Info("task already terminal, skipping")
		return nil
	}
	if !p.engine.Ready(ctx) {
		return engine.ErrNotReady
	}
	if err := p.store.MarkRunning(ctx, task); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	doc, outputDir, err := p.process(ctx, task, log)
	if err != nil {
		log.WithError(err).Error("pdf processing failed")
		if mErr := p.store.MarkFailed(ctx, task, err.Error()); mErr != nil {
			return fmt.Errorf("mark failed: %w", mErr)
		}
		return nil
	}
	if err := p.store.MarkSucceeded(ctx, task, doc, outputDir); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	log.WithField("pages", len(doc.PDF.Pages)).Info("pdf task succeeded")

	if p.mirror != nil && doc.PDF.ArchiveFile != "" {
		archivePath := filepath.Join(outputDir, doc.PDF.ArchiveFile)
		if key, err := p.mirror.UploadArchive(ctx, task.ID, archivePath); err != nil {
			log.WithError(err).Warn("archive mirroring failed")
		} else {
			log.WithField("object_key", key).Debug("archive mirrored")
		}
	}
	return nil
}

// process runs the page pipeline and returns the final payload. Errors carry
// a "<Kind>: <message>" prefix that ends up in the task's error_message.
func (p *Processor) process(ctx context.Context, task *model.OcrTask, log *logrus.Entry) (payload.Document, string, error) {
	fail := func(kind string, err error) (payload.Document, string, error) {
		return payload.Document{}, "", fmt.Errorf("%s: %v", kind, err)
	}

	outputDir, err := p.files.TaskOutputDir(task.ID)
	if err != nil {
		return fail("StorageError", err)
	}
	total, err := pdfinfo.PageCount(task.InputPath)
	if err != nil {
		// Some PDFs defeat the metadata reader but still render; the split
		// result becomes the authoritative total.
		log.WithError(err).Warn("page count failed, deferring to splitter")
		total = 0
	}
	pageImages, err := p.splitter.Split(ctx, task.InputPath, filepath.Join(outputDir, "pages"))
	if err != nil {
		return fail("SplitError", err)
	}
	if total == 0 {
		total = len(pageImages)
	}
	p.patchProgress(ctx, task.ID, 0, total, "rendering complete")

	var (
		pages     []payload.Page
		images    []string
		mdBuilder strings.Builder
	)
	params := engine.Params{BaseSize: p.cfg.BaseSize, ImageSize: p.cfg.ImageSize, CropMode: p.cfg.CropMode}
	for i, imgPath := range pageImages {
		raw, err := p.engine.Infer(ctx, p.cfg.Prompt, imgPath, params)
		if err != nil {
			return fail("InferenceError", fmt.Errorf("page %d: %w", i+1, err))
		}
		var boxes []payload.BoundingBox
		if grounding.HasGrounding(raw) {
			if w, h, err := imageDims(imgPath); err == nil {
				boxes = grounding.ParseDetections(raw, w, h)
			}
		}
		markdown := grounding.Strip(raw)
		if markdown == "" {
			markdown = raw
		}
		rel, err := filepath.Rel(outputDir, imgPath)
		if err != nil {
			return fail("StorageError", err)
		}
		rel = filepath.ToSlash(rel)
		images = append(images, rel)
		pages = append(pages, payload.Page{
			Index:       i,
			Markdown:    markdown,
			RawText:     raw,
			ImageAssets: []string{rel},
			Boxes:       boxes,
		})
		mdBuilder.WriteString(markdown)
		mdBuilder.WriteString("\n\n")
		p.patchProgress(ctx, task.ID, i+1, total, fmt.Sprintf("page %d/%d", i+1, total))
	}

	res := &payload.PDFResult{Images: images, Pages: pages}
	if err := writeArtifacts(outputDir, mdBuilder.String(), pages, res); err != nil {
		return fail("ArtifactError", err)
	}
	doc := payload.Document{
		PDF: res,
		Progress: &payload.Progress{
			Current: len(pages),
			Total:   total,
			Percent: 100,
			Message: "done",
		},
	}
	return doc, outputDir, nil
}

func (p *Processor) patchProgress(ctx context.Context, taskID string, current, total int, message string) {
	percent := 0.0
	if total > 0 {
		percent = float64(current) / float64(total) * 100
	}
	err := p.store.PatchProgress(ctx, taskID, payload.Progress{
		Current: current,
		Total:   total,
		Percent: percent,
		Message: message,
	})
	if err != nil {
		p.log.WithError(err).WithField("task_id", taskID).Warn("progress patch failed")
	}
}

func imageDims(path string) (int, int, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return 0, 0, err
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}

// writeArtifacts persists result.md, result.json, and result.zip into the
// output dir and records their relative paths on the result.
func writeArtifacts(outputDir, combinedMarkdown string, pages []payload.Page, res *payload.PDFResult) error {
	mdPath := filepath.Join(outputDir, "result.md")
	if err := os.WriteFile(mdPath, []byte(combinedMarkdown), 0o644); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	res.MarkdownFile = "result.md"

	rawJSON, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pages: %w", err)
	}
	jsonPath := filepath.Join(outputDir, "result.json")
	if err := os.WriteFile(jsonPath, rawJSON, 0o644); err != nil {
		return fmt.Errorf("write raw json: %w", err)
	}
	res.RawJSONFile = "result.json"

	if err := archiveDir(outputDir, filepath.Join(outputDir, "result.zip")); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	res.ArchiveFile = "result.zip"
	return nil
}

// archiveDir zips everything under dir into dest, skipping dest itself.
func archiveDir(dir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	defer zw.Close()
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || path == dest {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
}
