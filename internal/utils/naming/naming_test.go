package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameFilename(t *testing.T) {
	assert.Equal(t, "S1A_IW_20210305T170409.png", FrameFilename("/data/S1A_IW_20210305T170409.tif"))
	assert.Equal(t, "scene.png", FrameFilename("scene.TIFF"))
	assert.Equal(t, "scene.jp2.png", FrameFilename("scene.jp2"))
	assert.Equal(t, "S1A_IW_20210305T170409_8bit.tif", FrameGeoTIFFFilename("/data/S1A_IW_20210305T170409.tif"))
}

func TestRunFilenames(t *testing.T) {
	assert.Equal(t, "baltic_timeseries.mp4", VideoFilename("baltic", ".mp4"))
	assert.Equal(t, "baltic_timeseries.gif", VideoFilename("baltic", "gif"))
	assert.Equal(t, "intermediate_baltic", IntermediateDirName("baltic"))
	assert.Equal(t, "baltic_report.json", ReportFilename("baltic"))
	assert.Equal(t, "baltic_histogram.png", HistogramFilename("baltic"))
	assert.Equal(t, "baltic_frames", FramesDirName("baltic"))
	assert.Equal(t, "x.tif", AlignedFilename("/a/b/x.tif"))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "north-sea-2021", SanitizeID("north sea/2021"))
	assert.Equal(t, "timeseries", SanitizeID("  "))
	assert.Equal(t, "a-b", SanitizeID("a:b"))
}
