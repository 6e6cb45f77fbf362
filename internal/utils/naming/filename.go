package naming

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FrameFilename maps a scene file name to its 8-bit frame name.
// Format: {scene basename without .tif}.png
func FrameFilename(scene string) string {
	base := filepath.Base(scene)
	ext := filepath.Ext(base)
	if strings.EqualFold(ext, ".tif") || strings.EqualFold(ext, ".tiff") {
		base = strings.TrimSuffix(base, ext)
	}
	return base + ".png"
}

// FrameGeoTIFFFilename maps a scene file name to its georeferenced 8-bit frame.
// Format: {scene basename without .tif}_8bit.tif
func FrameGeoTIFFFilename(scene string) string {
	return strings.TrimSuffix(FrameFilename(scene), ".png") + "_8bit.tif"
}

// AlignedFilename keeps the scene base name so frame names still carry the
// acquisition time at the same offsets.
func AlignedFilename(scene string) string {
	return filepath.Base(scene)
}

// VideoFilename creates the output video name.
// Format: {id}_timeseries.{ext}
func VideoFilename(id, ext string) string {
	return fmt.Sprintf("%s_timeseries.%s", SanitizeID(id), strings.TrimPrefix(ext, "."))
}

// IntermediateDirName names the per-run scratch directory.
// Format: intermediate_{id}
func IntermediateDirName(id string) string {
	return "intermediate_" + SanitizeID(id)
}

// FramesDirName names the directory of georeferenced frames.
// Format: {id}_frames
func FramesDirName(id string) string {
	return SanitizeID(id) + "_frames"
}

// ReportFilename names the JSON run report.
// Format: {id}_report.json
func ReportFilename(id string) string {
	return SanitizeID(id) + "_report.json"
}

// HistogramFilename names the optional pooled-value histogram plot.
// Format: {id}_histogram.png
func HistogramFilename(id string) string {
	return SanitizeID(id) + "_histogram.png"
}
