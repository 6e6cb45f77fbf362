package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sar-timelapse/internal/utils/naming"
)

// ProgressCallback is called during video export to report progress
type ProgressCallback func(current, total int, percent int, status string)

// LogCallback is called to emit log messages
type LogCallback func(message string)

// LoadImage decodes a PNG frame from disk.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// Manager handles timelapse video export orchestration
type Manager struct {
	outputDir        string
	progressCallback ProgressCallback
	logCallback      LogCallback
	imageLoader      FrameLoader
	sinkFactory      SinkFactory
}

// Config holds configuration for the video Manager
type Config struct {
	OutputDir        string
	ProgressCallback ProgressCallback
	LogCallback      LogCallback
	ImageLoader      FrameLoader
	SinkFactory      SinkFactory
}

// NewManager creates a new video export manager
func NewManager(cfg Config) *Manager {
	return &Manager{
		outputDir:        cfg.OutputDir,
		progressCallback: cfg.ProgressCallback,
		logCallback:      cfg.LogCallback,
		imageLoader:      cfg.ImageLoader,
		sinkFactory:      cfg.SinkFactory,
	}
}

// emitLog sends a log message via callback if available
func (m *Manager) emitLog(message string) {
	if m.logCallback != nil {
		m.logCallback(message)
	} else {
		log.Println(message)
	}
}

// emitProgress sends progress update via callback if available
func (m *Manager) emitProgress(current, total, percent int, status string) {
	if m.progressCallback != nil {
		m.progressCallback(current, total, percent, status)
	}
}

// ListFrames returns every PNG frame in dir in name order.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// ExportTimeseries assembles the PNG frames in framesDir into
// <outputDir>/<id>_timeseries.<ext>. ErrEmptyResult is passed through so
// callers can report a no-op.
func (m *Manager) ExportTimeseries(ctx context.Context, framesDir, id string, opts AssembleOptions) (*AssembleResult, error) {
	frames, err := ListFrames(framesDir)
	if err != nil {
		return nil, err
	}
	return m.ExportFrames(ctx, frames, id, opts)
}

// ExportFrames assembles exactly the given frame files. Nothing else in their
// directory is read.
func (m *Manager) ExportFrames(ctx context.Context, frames []string, id string, opts AssembleOptions) (*AssembleResult, error) {
	log.Printf("[VideoExport] Starting timeseries video export for %d frames", len(frames))
	m.emitLog(fmt.Sprintf("Starting timeseries video export for %d frames", len(frames)))

	if err := os.MkdirAll(m.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(m.outputDir, naming.VideoFilename(id, string(opts.Sink.Format)))

	a := NewAssembler(opts, m.imageLoader, m.sinkFactory, m.progressCallback)
	res, err := a.Assemble(ctx, frames, outputPath)
	if errors.Is(err, ErrEmptyResult) {
		m.emitLog("No frames to make video")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to export video: %w", err)
	}

	m.emitLog(fmt.Sprintf("Video exported successfully: %s", res.Path))
	m.emitProgress(len(res.Frames), len(res.Frames), 100, fmt.Sprintf("Video export complete: %s", filepath.Base(res.Path)))
	return res, nil
}
