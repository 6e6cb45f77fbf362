package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"sar-timelapse/internal/timeseries"
)

// ErrEmptyResult means no frame survived date filtering; no file is written.
var ErrEmptyResult = errors.New("no frames to make video")

// FrameLoader loads a frame image from disk.
type FrameLoader func(path string) (image.Image, error)

// SinkFactory opens a video sink once the frame size is known.
type SinkFactory func(path string, width, height int, opts SinkOptions) (Sink, error)

// AssembleOptions configures the TimeSeriesAssembler.
type AssembleOptions struct {
	Profile timeseries.Profile

	// Start and End bound acquisition dates inclusively; zero is open
	Start time.Time
	End   time.Time

	Overlay Overlay
	Sink    SinkOptions
}

// Assembler orders frames by acquisition time and streams them to a sink.
type Assembler struct {
	opts     AssembleOptions
	loader   FrameLoader
	newSink  SinkFactory
	progress ProgressCallback
}

// AssembleResult describes a written video.
type AssembleResult struct {
	Path     string
	Frames   []timeseries.Frame
	Warnings []string
}

// NewAssembler creates an assembler. A nil loader or factory selects the
// defaults.
func NewAssembler(opts AssembleOptions, loader FrameLoader, newSink SinkFactory, progress ProgressCallback) *Assembler {
	if loader == nil {
		loader = LoadImage
	}
	if newSink == nil {
		newSink = NewSink
	}
	return &Assembler{opts: opts, loader: loader, newSink: newSink, progress: progress}
}

// Plan parses, sorts and filters the frame paths without touching pixels.
func (a *Assembler) Plan(paths []string) ([]timeseries.Frame, []string) {
	frames, warnings := a.opts.Profile.Collect(paths)
	return timeseries.FilterDates(frames, a.opts.Start, a.opts.End), warnings
}

// Assemble writes every retained frame, in acquisition order, to a video at
// outputPath. It returns ErrEmptyResult when nothing is left to write.
func (a *Assembler) Assemble(ctx context.Context, paths []string, outputPath string) (*AssembleResult, error) {
	frames, warnings := a.Plan(paths)
	if len(frames) == 0 {
		log.Printf("[VideoExport] No frames left after date filtering (%d candidates)", len(paths))
		return nil, ErrEmptyResult
	}

	var labeler *Labeler
	if a.opts.Overlay.Enabled() {
		l, err := NewLabeler(a.opts.Overlay)
		if err != nil {
			return nil, err
		}
		defer l.Close()
		labeler = l
	}

	var sink Sink
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, abortAfter(sink, err)
		}
		a.emitProgress(i, len(frames), fmt.Sprintf("Encoding frame %d/%d: %s", i+1, len(frames), f.Name))

		img, err := a.loader(f.Path)
		if err != nil {
			return nil, abortAfter(sink, fmt.Errorf("failed to load frame %s: %w", f.Name, err))
		}
		if labeler != nil {
			img = labeler.Draw(img, f.Label())
		}

		if sink == nil {
			b := img.Bounds()
			sink, err = a.newSink(outputPath, b.Dx(), b.Dy(), a.opts.Sink)
			if err != nil {
				return nil, fmt.Errorf("failed to create video writer: %w", err)
			}
		}
		if err := sink.WriteFrame(img); err != nil {
			return nil, abortAfter(sink, fmt.Errorf("frame %s: %w", f.Name, err))
		}
	}

	if err := sink.Close(); err != nil {
		return nil, err
	}
	a.emitProgress(len(frames), len(frames), "Video export complete")
	return &AssembleResult{Path: sink.Path(), Frames: frames, Warnings: warnings}, nil
}

func (a *Assembler) emitProgress(done, total int, status string) {
	if a.progress != nil {
		a.progress(done, total, done*100/max(total, 1), status)
	}
}

// abortAfter discards a half-written video and keeps the original error.
func abortAfter(sink Sink, err error) error {
	if sink != nil {
		if aerr := sink.Abort(); aerr != nil {
			log.Printf("[VideoExport] Warning: discarding %s after error: %v", sink.Path(), aerr)
		}
	}
	return err
}
