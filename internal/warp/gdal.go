package warp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"strconv"

	"sar-timelapse/internal/common"
	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
)

// ErrGDALNotFound is returned when no gdalwarp binary can be located.
var ErrGDALNotFound = errors.New("gdalwarp not found")

// CheckGDAL checks if gdalwarp is available - first bundled, then system
func CheckGDAL() (string, bool) {
	return common.FindExecutable("gdalwarp")
}

// GDALWarper delegates resampling to an external gdalwarp process and reads
// the warped file back.
type GDALWarper struct {
	Path    string
	TempDir string
}

// NewGDALWarper locates gdalwarp unless path is given explicitly.
func NewGDALWarper(path, tempDir string) (*GDALWarper, error) {
	if path == "" {
		found, ok := CheckGDAL()
		if !ok {
			return nil, ErrGDALNotFound
		}
		path = found
	}
	log.Printf("[Warp] gdalwarp found at: %s", path)
	return &GDALWarper{Path: path, TempDir: tempDir}, nil
}

var gdalModes = map[Mode]string{
	Nearest:  "near",
	Bilinear: "bilinear",
	Cubic:    "cubic",
	Lanczos:  "lanczos",
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Args builds the gdalwarp argument list for one scene.
func (w *GDALWarper) Args(req Request, g grid.Grid, mode Mode, nodata float64, dst string) ([]string, error) {
	alg, ok := gdalModes[mode]
	if !ok {
		return nil, fmt.Errorf("resampling mode %q is not supported by gdalwarp", mode)
	}
	res := formatFloat(g.Resolution)
	return []string{
		"-overwrite",
		"-of", "GTiff",
		"-ot", "Float32",
		"-co", "COMPRESS=LZW",
		"-te", formatFloat(g.OriginX), formatFloat(g.Bottom()), formatFloat(g.Right()), formatFloat(g.OriginY),
		"-tr", res, res,
		"-r", alg,
		"-srcnodata", formatFloat(req.SrcNoData),
		"-dstnodata", formatFloat(nodata),
		req.Path,
		dst,
	}, nil
}

// Warp implements Warper.
func (w *GDALWarper) Warp(ctx context.Context, req Request, g grid.Grid, mode Mode, nodata float64) (*raster.Band, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("%s: gdalwarp needs the source file path", req.Header.Name)
	}

	tmp, err := os.CreateTemp(w.TempDir, "warp_*.tif")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	dst := tmp.Name()
	tmp.Close()
	defer os.Remove(dst)

	args, err := w.Args(req, g, mode, nodata, dst)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, w.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Printf("[Warp] gdalwarp stderr: %s", stderr.String())
		return nil, fmt.Errorf("gdalwarp failed for %s: %w\nStderr: %s", req.Header.Name, err, stderr.String())
	}

	channel := req.Channel
	if channel == 0 {
		channel = 1
	}
	band, _, err := raster.ReadBand(dst, channel)
	if err != nil {
		return nil, err
	}
	if err := band.CheckShape(g.Width, g.Height); err != nil {
		return nil, fmt.Errorf("gdalwarp output for %s: %w", req.Header.Name, err)
	}
	return band, nil
}
