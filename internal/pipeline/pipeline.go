// Package pipeline runs a whole timelapse job: scan the input scenes, align
// them onto one grid, estimate the value range, normalize each frame and
// assemble the video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sar-timelapse/internal/align"
	"sar-timelapse/internal/aoi"
	"sar-timelapse/internal/config"
	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/normalize"
	"sar-timelapse/internal/raster"
	"sar-timelapse/internal/stats"
	"sar-timelapse/internal/timeseries"
	"sar-timelapse/internal/utils/naming"
	"sar-timelapse/internal/video"
	"sar-timelapse/internal/warp"
)

// ProgressCallback reports per-phase progress
type ProgressCallback func(phase string, current, total int)

// Options carries the hooks a caller may inject into a run.
type Options struct {
	// Warper overrides the resampling backend chosen by the settings
	Warper warp.Warper

	// SinkFactory overrides how the video file is opened
	SinkFactory video.SinkFactory

	ProgressCallback ProgressCallback
	LogCallback      video.LogCallback
}

// Pipeline is one configured timelapse run. It is not reusable.
type Pipeline struct {
	settings *config.Settings
	opts     Options

	nodata  float64
	mode    warp.Mode
	start   time.Time
	end     time.Time
	cutline *aoi.Cutline
	epsg    int

	mu     sync.Mutex
	report *Report
}

// New validates the settings and prepares a run.
func New(settings *config.Settings, opts Options) (*Pipeline, error) {
	if settings == nil {
		return nil, errors.New("settings are required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if settings.InputDir == "" {
		return nil, errors.New("input directory is required")
	}
	if settings.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}

	nodata, _ := settings.NoDataValue()
	mode, _ := settings.Mode()
	start, end, _ := settings.DateRange()
	cutline, _ := settings.Cutline()

	return &Pipeline{
		settings: settings,
		opts:     opts,
		nodata:   nodata,
		mode:     mode,
		start:    start,
		end:      end,
		cutline:  cutline,
		report:   NewReport(settings.TimeseriesID),
	}, nil
}

// Run is a one-shot helper for New followed by Pipeline.Run.
func Run(ctx context.Context, settings *config.Settings, opts Options) (*Report, error) {
	p, err := New(settings, opts)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

// Report returns the run report. It is complete once Run returns.
func (p *Pipeline) Report() *Report { return p.report }

func (p *Pipeline) emitLog(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[Pipeline] %s", msg)
	if p.opts.LogCallback != nil {
		p.opts.LogCallback(msg)
	}
}

func (p *Pipeline) warn(msg string) {
	p.mu.Lock()
	p.report.Warn(msg)
	p.mu.Unlock()
	log.Printf("[Pipeline] Warning: %s", msg)
}

func (p *Pipeline) progress(phase string) func(current, total int) {
	return func(current, total int) {
		p.mu.Lock()
		p.report.UpdateProgress(phase, current, total)
		p.mu.Unlock()
		if p.opts.ProgressCallback != nil {
			p.opts.ProgressCallback(phase, current, total)
		}
	}
}

// Scan lists the input scenes in acquisition order and reads their headers.
func (p *Pipeline) Scan(ctx context.Context) ([]timeseries.Frame, []raster.Header, error) {
	paths, err := raster.ListGeoTIFFs(p.settings.InputDir)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoScenes, p.settings.InputDir)
	}

	frames, warnings := p.settings.Filename.Collect(paths)
	for _, w := range warnings {
		p.warn(w)
	}
	if len(frames) == 0 {
		return nil, nil, fmt.Errorf("%w: every file name was unparsable", ErrNoScenes)
	}

	headers := make([]raster.Header, len(frames))
	channel := p.settings.Channel
	err = forEach(ctx, len(frames), p.settings.Workers, p.progress(PhaseScan), func(_ context.Context, i int) error {
		h, err := raster.ReadHeader(frames[i].Path)
		if err != nil {
			return sceneErr(PhaseScan, frames[i].Name, err)
		}
		if channel > h.BandCount {
			return sceneErr(PhaseScan, frames[i].Name, fmt.Errorf("band %d out of range (file has %d)", channel, h.BandCount))
		}
		headers[i] = *h
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return frames, headers, nil
}

// BuildGrid derives the shared grid from the scene headers, or from the
// area of interest when one is configured. A polygon contributes its
// envelope.
func (p *Pipeline) BuildGrid(headers []raster.Header) (grid.Grid, error) {
	var bounds []grid.SceneBounds
	switch {
	case p.cutline != nil:
		bounds = []grid.SceneBounds{p.cutline.Bounds()}
	case p.settings.AOI != nil:
		bounds = []grid.SceneBounds{p.settings.AOI.Bounds()}
	default:
		for _, h := range headers {
			bounds = append(bounds, h.Bounds)
		}
	}
	return grid.Build(bounds, p.settings.Resolution)
}

// Run executes every phase and always writes the report to the output
// directory. A run whose date window keeps no frame ends as a no-op with a
// nil error.
func (p *Pipeline) Run(ctx context.Context) (rep *Report, err error) {
	s := p.settings
	p.report.MarkStarted()
	p.emitLog("Starting timeseries %q from %s", s.TimeseriesID, s.InputDir)

	workDir := filepath.Join(s.OutputDir, naming.IntermediateDirName(s.TimeseriesID))
	defer func() {
		if !s.KeepIntermediate {
			if rmErr := os.RemoveAll(workDir); rmErr != nil {
				log.Printf("[Pipeline] Warning: failed to remove %s: %v", workDir, rmErr)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			p.report.MarkCancelled()
		default:
			p.report.MarkFailed(err)
		}
		if path, saveErr := p.report.SaveToFile(s.OutputDir); saveErr != nil {
			log.Printf("[Pipeline] Warning: %v", saveErr)
		} else {
			p.emitLog("Report written to %s", path)
		}
		rep = p.report
	}()

	frames, headers, err := p.Scan(ctx)
	if err != nil {
		return nil, err
	}
	p.report.Scenes = make([]SceneReport, len(frames))
	for i, f := range frames {
		p.report.Scenes[i] = SceneReport{Name: f.Name, Path: f.Path}
		if f.Parsed {
			p.report.Scenes[i].Acquired = f.Date()
		}
	}

	g, err := p.BuildGrid(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to build grid: %w", err)
	}
	p.report.Grid = &g
	p.emitLog("Grid %s for %d scenes", g, len(frames))
	p.epsg = p.commonEPSG(headers)

	// outputs of an earlier run under the same id must not leak into this one
	alignedDir := filepath.Join(workDir, "aligned")
	framesDir := filepath.Join(workDir, "pngs")
	geoDir := filepath.Join(s.OutputDir, naming.FramesDirName(s.TimeseriesID))
	stale := []string{alignedDir, framesDir}
	if s.FramesGeoTIFF {
		stale = append(stale, geoDir)
	}
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", dir, err)
		}
	}

	aligned, err := p.alignAll(ctx, g, headers, alignedDir)
	if err != nil {
		return nil, err
	}

	var mask *raster.Band
	if s.Landmask != "" {
		if mask, err = p.loadLandmask(ctx, g); err != nil {
			return nil, err
		}
	}

	rng, err := p.estimateRange(ctx, aligned, mask)
	if err != nil {
		return nil, err
	}
	p.report.Range = &rng
	p.emitLog("Value range %s (%s)", rng, p.report.RangeSource)

	var geo *frameGeoTIFF
	if s.FramesGeoTIFF {
		geo = &frameGeoTIFF{dir: geoDir, grid: g}
	}
	written, err := p.normalizeAll(ctx, rng, mask, frames, aligned, framesDir, geo)
	if err != nil {
		return nil, err
	}

	mgr := video.NewManager(video.Config{
		OutputDir:   s.OutputDir,
		LogCallback: p.opts.LogCallback,
		ProgressCallback: func(current, total, _ int, _ string) {
			p.progress(PhaseVideo)(current, total)
		},
		SinkFactory: p.opts.SinkFactory,
	})
	format, _ := s.VideoFormat()
	res, err := mgr.ExportFrames(ctx, timeseries.Paths(written), s.TimeseriesID, video.AssembleOptions{
		Profile: s.Filename,
		Start:   p.start,
		End:     p.end,
		Overlay: s.Overlay,
		Sink: video.SinkOptions{
			Format:    format,
			FrameRate: s.FrameRate,
			Quality:   s.Video.Quality,
			UseH264:   s.Video.UseH264,
		},
	})
	if errors.Is(err, video.ErrEmptyResult) {
		p.report.MarkNoOp("no frames within the date range; no video written")
		p.emitLog("No frames to make video")
		return p.report, nil
	}
	if err != nil {
		return nil, err
	}

	for _, f := range res.Frames {
		p.report.Frames = append(p.report.Frames, f.Name)
	}
	p.report.MarkCompleted(res.Path)
	p.emitLog("Timeseries complete: %s (%d frames)", res.Path, len(res.Frames))
	return p.report, nil
}

func (p *Pipeline) warper(workDir string) (warp.Warper, error) {
	if p.opts.Warper != nil {
		return p.opts.Warper, nil
	}
	if !p.settings.Warp.UseGDAL {
		return warp.Resampler{}, nil
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return warp.NewGDALWarper(p.settings.Warp.GDALWarpPath, workDir)
}

// commonEPSG is the first CRS code found; scenes in another CRS get a warning.
func (p *Pipeline) commonEPSG(headers []raster.Header) int {
	epsg := 0
	for _, h := range headers {
		if h.EPSG == 0 {
			continue
		}
		if epsg == 0 {
			epsg = h.EPSG
		} else if h.EPSG != epsg {
			p.warn(fmt.Sprintf("%s is in EPSG:%d, expected EPSG:%d; scenes are not reprojected", h.Name, h.EPSG, epsg))
		}
	}
	return epsg
}

// alignAll aligns every scene on the worker pool and writes one Float32
// GeoTIFF per scene into dir. The returned paths follow scene order.
func (p *Pipeline) alignAll(ctx context.Context, g grid.Grid, headers []raster.Header, dir string) ([]string, error) {
	s := p.settings
	w, err := p.warper(dir)
	if err != nil {
		return nil, err
	}
	aligner := align.New(g, align.Options{Mode: p.mode, NoData: p.nodata, Warper: w})

	var inside []bool
	if p.cutline != nil {
		inside = p.cutline.Mask(g)
	}

	out := make([]string, len(headers))
	err = forEach(ctx, len(headers), s.Workers, p.progress(PhaseAlign), func(ctx context.Context, i int) error {
		h := headers[i]
		band, _, err := raster.ReadBand(h.Path, s.Channel)
		if err != nil {
			return sceneErr(PhaseAlign, h.Name, err)
		}
		res, err := aligner.Align(ctx, align.Scene{
			Header:    h,
			Band:      band,
			Channel:   s.Channel,
			SrcNoData: h.SourceNoData(p.nodata),
		})
		if err != nil {
			return sceneErr(PhaseAlign, h.Name, err)
		}
		if inside != nil {
			if _, err := aoi.Apply(res.Band, inside, p.nodata); err != nil {
				return sceneErr(PhaseAlign, h.Name, err)
			}
		}
		if s.Decibel {
			raster.ToDecibel(res.Band, p.nodata)
		}

		path := filepath.Join(dir, naming.AlignedFilename(h.Name))
		if err := raster.WriteAligned(path, res.Band, g, p.nodata, p.epsg); err != nil {
			return sceneErr(PhaseAlign, h.Name, err)
		}
		out[i] = path

		p.mu.Lock()
		sr := &p.report.Scenes[i]
		sr.Strategy = string(res.Strategy)
		sr.OutOfExtent = res.OutOfExtent
		sr.AlignedPath = path
		sr.Warnings = append(sr.Warnings, res.Warnings...)
		p.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadLandmask places the land/ocean raster at path on g. Zero is ocean;
// anything else, NaN included, is land. Pixels the mask does not cover
// count as ocean.
func LoadLandmask(ctx context.Context, path string, g grid.Grid) (*raster.Band, []string, error) {
	band, h, err := raster.ReadBand(path, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read landmask: %w", err)
	}
	// NaN would be treated as nodata during alignment
	for i, v := range band.Data {
		if math.IsNaN(float64(v)) {
			band.Data[i] = 1
		}
	}

	a := align.New(g, align.Options{Mode: warp.Nearest, NoData: 0, Warper: warp.Resampler{}})
	res, err := a.Align(ctx, align.Scene{Header: *h, Band: band, Channel: 1, SrcNoData: h.SourceNoData(math.NaN())})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to align landmask: %w", err)
	}
	return res.Band, res.Warnings, nil
}

func (p *Pipeline) loadLandmask(ctx context.Context, g grid.Grid) (*raster.Band, error) {
	mask, warnings, err := LoadLandmask(ctx, p.settings.Landmask, g)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		p.warn("landmask: " + w)
	}
	return mask, nil
}

func (p *Pipeline) estimateRange(ctx context.Context, aligned []string, mask *raster.Band) (stats.ValueRange, error) {
	s := p.settings
	src := stats.Files{Paths: aligned, Channel: 1}
	opts := stats.Options{NoData: p.nodata, Mask: mask, Percentiles: s.Percentiles, Workers: s.Workers}

	if s.HistogramPlot {
		path := filepath.Join(s.OutputDir, naming.HistogramFilename(s.TimeseriesID))
		if err := stats.PlotHistogram(ctx, src, opts, s.HistogramBins, path); err != nil {
			p.warn(fmt.Sprintf("histogram plot skipped: %v", err))
		}
	}

	if rng, ok := s.ValueOverride(); ok {
		p.report.RangeSource = RangeFromUser
		return rng, nil
	}
	if s.VMin != nil || s.VMax != nil {
		p.warn("vmin and vmax must both be set to override the range; estimating from data")
	}

	var est stats.Estimator
	switch s.StatsMethod {
	case config.StatsHistogram:
		est = stats.HistogramEstimator{Options: opts, Bins: s.HistogramBins}
		p.report.RangeSource = RangeFromHistogram
	default:
		est = stats.ExactEstimator{Options: opts}
		p.report.RangeSource = RangeFromExact
	}

	p.progress(PhaseStats)(0, 1)
	rng, err := est.Estimate(ctx, src)
	if err != nil {
		return stats.ValueRange{}, fmt.Errorf("failed to estimate value range: %w", err)
	}
	p.progress(PhaseStats)(1, 1)
	return rng, nil
}

// frameGeoTIFF places georeferenced copies of the frames in dir.
type frameGeoTIFF struct {
	dir  string
	grid grid.Grid
}

// normalizeAll converts the aligned scenes to 8-bit frames strictly in
// acquisition order, since each frame inherits invalid pixels from the one
// before it. It returns the frames with Path pointing at the PNG written for
// each, in the same order.
func (p *Pipeline) normalizeAll(ctx context.Context, rng stats.ValueRange, mask *raster.Band, frames []timeseries.Frame, aligned []string, dir string, geo *frameGeoTIFF) ([]timeseries.Frame, error) {
	if !timeseries.Ordered(frames) {
		return nil, errors.New("frames are not in acquisition order")
	}
	n, err := normalize.New(rng, p.nodata, mask)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	var state normalize.FrameState
	written := make([]timeseries.Frame, 0, len(frames))
	report := p.progress(PhaseNormalize)
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		band, _, err := raster.ReadBand(aligned[i], 1)
		if err != nil {
			return nil, sceneErr(PhaseNormalize, f.Name, err)
		}
		frame, err := state.Next(n, band)
		if err != nil {
			return nil, sceneErr(PhaseNormalize, f.Name, err)
		}

		path := filepath.Join(dir, naming.FrameFilename(f.Name))
		if err := normalize.WritePNG(path, frame.Image); err != nil {
			return nil, sceneErr(PhaseNormalize, f.Name, err)
		}
		var geoPath string
		if geo != nil {
			geoPath = filepath.Join(geo.dir, naming.FrameGeoTIFFFilename(f.Name))
			if err := raster.WriteFrame(geoPath, frame.Image, geo.grid, p.epsg); err != nil {
				return nil, sceneErr(PhaseNormalize, f.Name, err)
			}
		}
		out := f
		out.Path = path
		written = append(written, out)

		p.mu.Lock()
		sr := &p.report.Scenes[i]
		sr.FramePath = path
		sr.GeoTIFFPath = geoPath
		sr.Filled = frame.Filled
		sr.Warnings = append(sr.Warnings, frame.Warnings...)
		p.mu.Unlock()
		report(i+1, len(frames))
	}
	p.emitLog("Normalized %d frames with range %s", state.Count(), n.Range())
	return written, nil
}
