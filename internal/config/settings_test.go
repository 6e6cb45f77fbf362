package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar-timelapse/internal/stats"
	"sar-timelapse/internal/video"
	"sar-timelapse/internal/warp"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	nd, err := s.NoDataValue()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(nd))

	mode, err := s.Mode()
	require.NoError(t, err)
	assert.Equal(t, warp.Cubic, mode)
	assert.Equal(t, 17, s.Filename.DateOffset)
	assert.Equal(t, 26, s.Filename.TimeOffset)
}

func TestLoadMergesWithDefaults(t *testing.T) {
	path := writeFile(t, `
input_dir: /data/in
output_dir: /data/out
timeseries_id: baltic
resolution: 20
vmin: -25
vmax: 0
start_date: "01032021"
overlay:
  font_scale: 1.5
  position: top-left
filename:
  drop_unparsable: true
video:
  format: gif
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "baltic", s.TimeseriesID)
	assert.Equal(t, 20.0, s.Resolution)
	assert.Equal(t, "cubic", s.Resampling)
	assert.Equal(t, 3, s.FrameRate)
	assert.Equal(t, stats.DefaultPercentiles, s.Percentiles)
	assert.Equal(t, video.PositionTopLeft, s.Overlay.Position)
	assert.Equal(t, 1.5, s.Overlay.FontScale)
	assert.True(t, s.Filename.DropUnparsable)
	assert.Equal(t, 17, s.Filename.DateOffset)
	assert.Equal(t, "gif", s.Video.Format)
	assert.Equal(t, 90, s.Video.Quality)

	r, ok := s.ValueOverride()
	require.True(t, ok)
	assert.Equal(t, stats.ValueRange{VMin: -25, VMax: 0}, r)

	start, end, err := s.DateRange()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.True(t, end.IsZero())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadSettings(writeFile(t, "resoluton: 10\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().Resolution, s.Resolution)
}

func TestSaveAndReload(t *testing.T) {
	s := DefaultSettings()
	s.InputDir = "/in"
	v := 1.5
	s.VMax = &v
	s.AOI = &BBox{Left: 0, Bottom: 0, Right: 100, Top: 50}

	path := filepath.Join(t.TempDir(), "sub", "job.yaml")
	require.NoError(t, SaveSettings(path, s))

	got, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "/in", got.InputDir)
	require.NotNil(t, got.VMax)
	assert.Equal(t, 1.5, *got.VMax)
	assert.Nil(t, got.VMin)
	assert.Equal(t, s.AOI, got.AOI)

	_, ok := got.ValueOverride()
	assert.False(t, ok)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(s *Settings){
		"resolution":  func(s *Settings) { s.Resolution = 0 },
		"resampling":  func(s *Settings) { s.Resampling = "average" },
		"nodata":      func(s *Settings) { s.NoData = "none" },
		"channel":     func(s *Settings) { s.Channel = 0 },
		"percentiles": func(s *Settings) { s.Percentiles = stats.Percentiles{Low: 50, High: 50} },
		"stats":       func(s *Settings) { s.StatsMethod = "reservoir" },
		"bins":        func(s *Settings) { s.HistogramBins = 1 },
		"frame rate":  func(s *Settings) { s.FrameRate = 0 },
		"date":        func(s *Settings) { s.StartDate = "2021-03-01" },
		"date order":  func(s *Settings) { s.StartDate, s.EndDate = "10032021", "01032021" },
		"font":        func(s *Settings) { s.Overlay.FontScale = -1 },
		"position":    func(s *Settings) { s.Overlay.Position = "center" },
		"format":      func(s *Settings) { s.Video.Format = "webm" },
		"quality":     func(s *Settings) { s.Video.Quality = 101 },
		"profile":     func(s *Settings) { s.Filename.SatelliteMode = "regex" },
		"aoi":         func(s *Settings) { s.AOI = &BBox{Left: 10, Right: 0, Bottom: 0, Top: 10} },
		"aoi wkt":     func(s *Settings) { s.AOIWKT = "POINT (1 2)" },
		"aoi both": func(s *Settings) {
			s.AOI = &BBox{Left: 0, Right: 10, Bottom: 0, Top: 10}
			s.AOIWKT = "POLYGON ((0 0, 10 0, 10 10, 0 0))"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := DefaultSettings()
			mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestLoadPolygonAOI(t *testing.T) {
	path := writeFile(t, `
aoi_wkt: "POLYGON ((100 200, 300 200, 300 400, 100 200))"
frames_geotiff: true
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.True(t, s.FramesGeoTIFF)

	c, err := s.Cutline()
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 100.0, c.Bounds().Left)
	assert.Equal(t, 400.0, c.Bounds().Top)

	c, err = DefaultSettings().Cutline()
	assert.NoError(t, err)
	assert.Nil(t, c)
}
