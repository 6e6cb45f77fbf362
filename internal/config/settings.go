package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v2"

	"sar-timelapse/internal/aoi"
	"sar-timelapse/internal/common"
	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
	"sar-timelapse/internal/stats"
	"sar-timelapse/internal/timeseries"
	"sar-timelapse/internal/video"
	"sar-timelapse/internal/warp"
)

// Statistics methods
const (
	StatsExact     = "exact"
	StatsHistogram = "histogram"
)

// BBox is an optional area of interest in scene map units.
type BBox struct {
	Left   float64 `yaml:"left" json:"left"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
	Right  float64 `yaml:"right" json:"right"`
	Top    float64 `yaml:"top" json:"top"`
}

// Bounds converts to grid bounds.
func (b BBox) Bounds() grid.SceneBounds {
	return grid.SceneBounds{Left: b.Left, Bottom: b.Bottom, Right: b.Right, Top: b.Top}
}

// VideoSettings configures the output container
type VideoSettings struct {
	Format  string `yaml:"format" json:"format"` // "mp4", "avi", "gif"
	Quality int    `yaml:"quality" json:"quality"`
	UseH264 bool   `yaml:"use_h264" json:"use_h264"`
}

// WarpSettings selects the resampling backend
type WarpSettings struct {
	UseGDAL      bool   `yaml:"use_gdal" json:"use_gdal"`
	GDALWarpPath string `yaml:"gdalwarp_path" json:"gdalwarp_path,omitempty"`
}

// TelemetrySettings enables anonymous run events. Empty key disables them.
type TelemetrySettings struct {
	PostHogKey  string `yaml:"posthog_key" json:"-"`
	PostHogHost string `yaml:"posthog_host" json:"posthog_host,omitempty"`
}

// Settings is one timelapse job
type Settings struct {
	InputDir     string `yaml:"input_dir" json:"input_dir"`
	OutputDir    string `yaml:"output_dir" json:"output_dir"`
	TimeseriesID string `yaml:"timeseries_id" json:"timeseries_id"`

	// Grid and alignment
	Resolution float64 `yaml:"resolution" json:"resolution"`
	Resampling string  `yaml:"resampling" json:"resampling"` // nearest, bilinear, cubic, lanczos, exact
	NoData     string  `yaml:"nodata" json:"nodata"`         // number or "nan"
	Channel    int     `yaml:"channel" json:"channel"`
	Decibel    bool    `yaml:"decibel" json:"decibel"`
	AOI        *BBox   `yaml:"aoi,omitempty" json:"aoi,omitempty"`

	// AOIWKT crops every scene to a polygon; pixels outside become nodata
	AOIWKT string `yaml:"aoi_wkt,omitempty" json:"aoi_wkt,omitempty"`

	// Statistics
	VMin          *float64          `yaml:"vmin,omitempty" json:"vmin,omitempty"`
	VMax          *float64          `yaml:"vmax,omitempty" json:"vmax,omitempty"`
	Percentiles   stats.Percentiles `yaml:"percentiles" json:"percentiles"`
	StatsMethod   string            `yaml:"stats_method" json:"stats_method"`
	HistogramBins int               `yaml:"histogram_bins" json:"histogram_bins"`
	HistogramPlot bool              `yaml:"histogram_plot" json:"histogram_plot"`
	Landmask      string            `yaml:"landmask" json:"landmask,omitempty"`

	// Video
	FrameRate int                `yaml:"frame_rate" json:"frame_rate"`
	StartDate string             `yaml:"start_date" json:"start_date,omitempty"` // DDMMYYYY
	EndDate   string             `yaml:"end_date" json:"end_date,omitempty"`     // DDMMYYYY
	Overlay   video.Overlay      `yaml:"overlay" json:"overlay"`
	Video     VideoSettings      `yaml:"video" json:"video"`
	Filename  timeseries.Profile `yaml:"filename" json:"filename"`

	// FramesGeoTIFF also writes each 8-bit frame as a georeferenced GeoTIFF
	FramesGeoTIFF bool `yaml:"frames_geotiff" json:"frames_geotiff"`

	// Run
	Workers          int               `yaml:"workers" json:"workers"`
	KeepIntermediate bool              `yaml:"keep_intermediate" json:"keep_intermediate"`
	Warp             WarpSettings      `yaml:"warp" json:"warp"`
	Telemetry        TelemetrySettings `yaml:"telemetry" json:"-"`
}

// DefaultSettings returns default job settings
func DefaultSettings() *Settings {
	return &Settings{
		TimeseriesID:  "timeseries",
		Resolution:    40,
		Resampling:    string(warp.Cubic),
		NoData:        "nan",
		Channel:       1,
		Percentiles:   stats.DefaultPercentiles,
		StatsMethod:   StatsExact,
		HistogramBins: stats.DefaultBins,
		FrameRate:     3,
		Overlay:       video.Overlay{FontScale: 0, Position: video.PositionBottomLeft},
		Video: VideoSettings{
			Format:  string(common.VideoMP4),
			Quality: 90,
			UseH264: true,
		},
		Filename: timeseries.DefaultProfile(),
		Workers:  runtime.NumCPU(),
	}
}

// LoadSettings reads a YAML job file. Fields missing from the file keep
// their defaults.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Zero values that can never be meant literally fall back to defaults
	defaults := DefaultSettings()
	if settings.Workers <= 0 {
		settings.Workers = defaults.Workers
	}
	if settings.HistogramBins == 0 {
		settings.HistogramBins = defaults.HistogramBins
	}
	if settings.NoData == "" {
		settings.NoData = defaults.NoData
	}

	return settings, nil
}

// SaveSettings writes settings to a YAML file
func SaveSettings(path string, settings *Settings) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// NoDataValue parses the nodata field.
func (s *Settings) NoDataValue() (float64, error) {
	return raster.ParseNoData(s.NoData)
}

// Mode parses the resampling field.
func (s *Settings) Mode() (warp.Mode, error) {
	return warp.ParseMode(s.Resampling)
}

// VideoFormat parses the video format field.
func (s *Settings) VideoFormat() (common.VideoFormat, error) {
	return common.ParseVideoFormat(s.Video.Format)
}

// DateRange parses start and end dates. Zero values are open bounds.
func (s *Settings) DateRange() (start, end time.Time, err error) {
	if start, err = common.ParseFlagDate(s.StartDate); err != nil {
		return
	}
	if end, err = common.ParseFlagDate(s.EndDate); err != nil {
		return
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		err = fmt.Errorf("end date %s is before start date %s", s.EndDate, s.StartDate)
	}
	return
}

// Cutline parses the polygon area of interest; nil when none is set.
func (s *Settings) Cutline() (*aoi.Cutline, error) {
	if s.AOIWKT == "" {
		return nil, nil
	}
	return aoi.ParseWKT(s.AOIWKT)
}

// ValueOverride returns the user range when both vmin and vmax are set.
func (s *Settings) ValueOverride() (stats.ValueRange, bool) {
	if s.VMin == nil || s.VMax == nil {
		return stats.ValueRange{}, false
	}
	return stats.ValueRange{VMin: *s.VMin, VMax: *s.VMax}, true
}

// Validate checks every field that does not depend on the file system.
func (s *Settings) Validate() error {
	if !(s.Resolution > 0) {
		return fmt.Errorf("resolution must be positive, got %g", s.Resolution)
	}
	if _, err := s.Mode(); err != nil {
		return err
	}
	if _, err := s.NoDataValue(); err != nil {
		return err
	}
	if s.Channel < 1 {
		return fmt.Errorf("channel must be >= 1, got %d", s.Channel)
	}
	if s.AOI != nil {
		if err := s.AOI.Bounds().Validate(); err != nil {
			return fmt.Errorf("aoi: %w", err)
		}
		if s.AOIWKT != "" {
			return fmt.Errorf("aoi and aoi_wkt are mutually exclusive")
		}
	}
	if _, err := s.Cutline(); err != nil {
		return err
	}
	if err := s.Percentiles.Validate(); err != nil {
		return err
	}
	switch s.StatsMethod {
	case StatsExact, StatsHistogram:
	default:
		return fmt.Errorf("invalid stats method: %s (must be exact or histogram)", s.StatsMethod)
	}
	if s.HistogramBins < 2 {
		return fmt.Errorf("histogram bins must be >= 2, got %d", s.HistogramBins)
	}
	if s.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %d", s.FrameRate)
	}
	if _, _, err := s.DateRange(); err != nil {
		return err
	}
	if s.Overlay.FontScale < 0 {
		return fmt.Errorf("font scale must be >= 0, got %g", s.Overlay.FontScale)
	}
	if _, err := video.ParsePosition(string(s.Overlay.Position)); err != nil {
		return err
	}
	if _, err := s.VideoFormat(); err != nil {
		return err
	}
	if s.Video.Quality < 0 || s.Video.Quality > 100 {
		return fmt.Errorf("video quality must be 0-100, got %d", s.Video.Quality)
	}
	if err := s.Filename.Validate(); err != nil {
		return fmt.Errorf("filename profile: %w", err)
	}
	return nil
}
