package main

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar-timelapse/internal/config"
	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
	"sar-timelapse/internal/video"
)

func TestFlagsOverrideOnlyWhatWasSet(t *testing.T) {
	root := newRootCmd()
	runCmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, runCmd.ParseFlags([]string{"--resolution", "20", "--vmin", "-25", "--position", "top-left", "--keep-intermediate"}))

	f := &jobFlags{}
	f.resolution, f.vmin, f.position, f.keep = 20, -25, "top-left", true
	s := config.DefaultSettings()
	f.apply(runCmd, s)

	assert.Equal(t, 20.0, s.Resolution)
	require.NotNil(t, s.VMin)
	assert.Equal(t, -25.0, *s.VMin)
	assert.Nil(t, s.VMax)
	assert.Equal(t, video.PositionTopLeft, s.Overlay.Position)
	assert.True(t, s.KeepIntermediate)
	assert.Equal(t, 3, s.FrameRate)
	assert.Equal(t, "cubic", s.Resampling)
}

func TestPolygonFlagReplacesJobBBox(t *testing.T) {
	root := newRootCmd()
	runCmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	wkt := "POLYGON ((0 0, 10 0, 10 10, 0 0))"
	require.NoError(t, runCmd.ParseFlags([]string{"--aoi-wkt", wkt, "--frames-geotiff"}))

	f := &jobFlags{aoiWKT: wkt, framesGeoTIFF: true}
	s := config.DefaultSettings()
	s.AOI = &config.BBox{Left: 0, Bottom: 0, Right: 5, Top: 5}
	f.apply(runCmd, s)

	assert.Nil(t, s.AOI)
	assert.Equal(t, wkt, s.AOIWKT)
	assert.True(t, s.FramesGeoTIFF)
	assert.NoError(t, s.Validate())
}

func TestInitWritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	root := newRootCmd()
	root.SetArgs([]string{"init", path})
	require.NoError(t, root.Execute())

	s, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings().Resolution, s.Resolution)
}

func TestPreviewGrid(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{
		"S1A_IW_GRDH_1SDV_20210301T053012_a.tif",
		"S1A_IW_GRDH_1SDV_20210305T053012_b.tif",
	} {
		g := grid.Grid{OriginX: float64(i * 5), OriginY: 20, Resolution: 5, Width: 2, Height: 2}
		require.NoError(t, raster.WriteAligned(filepath.Join(dir, name), raster.NewBand(2, 2), g, math.NaN(), 0))
	}

	s := config.DefaultSettings()
	s.InputDir = dir
	s.OutputDir = t.TempDir()
	s.Resolution = 10
	app := NewApp(s, false)
	defer app.Shutdown()

	g, n, err := app.PreviewGrid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, grid.Grid{OriginX: 0, OriginY: 20, Resolution: 10, Width: 2, Height: 1}, g)
}
