package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	goruntime "runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"

	"sar-timelapse/internal/config"
	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/pipeline"
	"sar-timelapse/internal/raster"
	"sar-timelapse/internal/stats"
	"sar-timelapse/internal/video"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// App struct
type App struct {
	settings *config.Settings
	mu       sync.Mutex
	verbose  bool
	phClient posthog.Client

	// distinctID identifies this process in telemetry; no user data is sent
	distinctID string
}

// NewApp creates a new App for one job
func NewApp(settings *config.Settings, verbose bool) *App {
	if settings == nil {
		settings = config.DefaultSettings()
	}

	// Initialize PostHog; the job file key wins over the linker key
	key, host := settings.Telemetry.PostHogKey, settings.Telemetry.PostHogHost
	if key == "" {
		key, host = PostHogKey, PostHogHost
	}
	var phClient posthog.Client
	if key != "" {
		client, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: host})
		if err != nil {
			log.Printf("Failed to initialize PostHog: %v", err)
		} else {
			phClient = client
		}
	}

	return &App{
		settings:   settings,
		verbose:    verbose,
		phClient:   phClient,
		distinctID: uuid.NewString(),
	}
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient == nil {
		return
	}
	if props == nil {
		props = map[string]interface{}{}
	}
	props["version"] = a.GetAppVersion()
	props["os"] = goruntime.GOOS
	props["arch"] = goruntime.GOARCH
	a.phClient.Enqueue(posthog.Capture{
		DistinctId: a.distinctID,
		Event:      event,
		Properties: props,
	})
}

// Shutdown flushes telemetry
func (a *App) Shutdown() {
	if a.phClient != nil {
		a.phClient.Close()
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

func (a *App) logProgress(phase string, current, total int) {
	if a.verbose {
		log.Printf("[%s] %d/%d", phase, current, total)
	}
}

// RunTimeseries executes the full job described by the settings
func (a *App) RunTimeseries(ctx context.Context) (*pipeline.Report, error) {
	s := a.GetSettings()
	rep, err := pipeline.Run(ctx, s, pipeline.Options{ProgressCallback: a.logProgress})

	props := map[string]interface{}{
		"stats_method": s.StatsMethod,
		"resampling":   s.Resampling,
		"format":       s.Video.Format,
		"landmask":     s.Landmask != "",
	}
	if rep != nil {
		props["scenes"] = len(rep.Scenes)
		props["frames"] = len(rep.Frames)
		props["status"] = string(rep.Status)
	}
	if err != nil {
		props["error"] = err.Error()
		a.TrackEvent("timeseries_failed", props)
		return rep, err
	}
	a.TrackEvent("timeseries_complete", props)
	return rep, nil
}

// PreviewGrid reads the scene headers and returns the grid a run would use
func (a *App) PreviewGrid(ctx context.Context) (grid.Grid, int, error) {
	p, err := pipeline.New(a.GetSettings(), pipeline.Options{})
	if err != nil {
		return grid.Grid{}, 0, err
	}
	_, headers, err := p.Scan(ctx)
	if err != nil {
		return grid.Grid{}, 0, err
	}
	g, err := p.BuildGrid(headers)
	return g, len(headers), err
}

// headerGrid is the grid an already aligned raster lives on.
func headerGrid(h *raster.Header) grid.Grid {
	return grid.Grid{
		OriginX:    h.Bounds.Left,
		OriginY:    h.Bounds.Top,
		Resolution: h.ResX,
		Width:      h.Width,
		Height:     h.Height,
	}
}

// ComputeStats estimates the value range of a directory of aligned rasters.
// plotPath, when set, also writes the pooled histogram.
func (a *App) ComputeStats(ctx context.Context, dir, plotPath string) (stats.ValueRange, error) {
	s := a.GetSettings()
	paths, err := raster.ListGeoTIFFs(dir)
	if err != nil {
		return stats.ValueRange{}, err
	}
	if len(paths) == 0 {
		return stats.ValueRange{}, fmt.Errorf("%w: %s", pipeline.ErrNoScenes, dir)
	}
	nodata, err := s.NoDataValue()
	if err != nil {
		return stats.ValueRange{}, err
	}

	opts := stats.Options{NoData: nodata, Percentiles: s.Percentiles, Workers: s.Workers}
	if s.Landmask != "" {
		h, err := raster.ReadHeader(paths[0])
		if err != nil {
			return stats.ValueRange{}, err
		}
		mask, warnings, err := pipeline.LoadLandmask(ctx, s.Landmask, headerGrid(h))
		if err != nil {
			return stats.ValueRange{}, err
		}
		for _, w := range warnings {
			log.Printf("[Stats] Warning: landmask: %s", w)
		}
		opts.Mask = mask
	}

	src := stats.Files{Paths: paths, Channel: s.Channel}
	if plotPath != "" {
		if err := stats.PlotHistogram(ctx, src, opts, s.HistogramBins, plotPath); err != nil {
			return stats.ValueRange{}, err
		}
		log.Printf("[Stats] Histogram written to %s", plotPath)
	}

	var est stats.Estimator = stats.ExactEstimator{Options: opts}
	if s.StatsMethod == config.StatsHistogram {
		est = stats.HistogramEstimator{Options: opts, Bins: s.HistogramBins}
	}
	rng, err := est.Estimate(ctx, src)
	if err != nil {
		return stats.ValueRange{}, err
	}
	a.TrackEvent("stats_complete", map[string]interface{}{"rasters": len(paths), "method": s.StatsMethod})
	return rng, nil
}

// ExportVideo assembles existing frames into <output>/<id>_timeseries.<ext>.
// It returns (nil, nil) when the date window keeps no frame.
func (a *App) ExportVideo(ctx context.Context, framesDir string) (*video.AssembleResult, error) {
	s := a.GetSettings()
	format, err := s.VideoFormat()
	if err != nil {
		return nil, err
	}
	start, end, err := s.DateRange()
	if err != nil {
		return nil, err
	}

	mgr := video.NewManager(video.Config{
		OutputDir: s.OutputDir,
		ProgressCallback: func(current, total, _ int, _ string) {
			a.logProgress(pipeline.PhaseVideo, current, total)
		},
	})
	res, err := mgr.ExportTimeseries(ctx, framesDir, s.TimeseriesID, video.AssembleOptions{
		Profile: s.Filename,
		Start:   start,
		End:     end,
		Overlay: s.Overlay,
		Sink: video.SinkOptions{
			Format:    format,
			FrameRate: s.FrameRate,
			Quality:   s.Video.Quality,
			UseH264:   s.Video.UseH264,
		},
	})
	if errors.Is(err, video.ErrEmptyResult) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.TrackEvent("video_export_complete", map[string]interface{}{
		"frames": len(res.Frames),
		"format": filepath.Ext(res.Path),
	})
	return res, nil
}
