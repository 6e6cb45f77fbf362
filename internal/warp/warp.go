// Package warp resamples a scene band onto a target grid.
package warp

import (
	"context"
	"fmt"
	"strings"

	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
)

// Mode is a resampling algorithm.
type Mode string

const (
	Nearest  Mode = "nearest"
	Bilinear Mode = "bilinear"
	Cubic    Mode = "cubic"
	Lanczos  Mode = "lanczos"

	// Exact forces integer-offset pixel copy; it never interpolates.
	Exact Mode = "exact"
)

// ParseMode accepts the mode names used in configuration files and flags.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Nearest, Bilinear, Cubic, Lanczos, Exact:
		return m, nil
	case "near":
		return Nearest, nil
	case "":
		return Cubic, nil
	default:
		return "", fmt.Errorf("unknown resampling mode %q (nearest, bilinear, cubic, lanczos, exact)", s)
	}
}

// Request describes one source band to be warped.
type Request struct {
	// Path of the source file; required by external warpers
	Path string

	// Channel is the 1-based band index within Path
	Channel int

	Header raster.Header
	Band   *raster.Band

	// SrcNoData marks invalid source samples (NaN is always invalid)
	SrcNoData float64
}

// Warper resamples a source band onto g. Pixels the source does not cover are nodata.
type Warper interface {
	Warp(ctx context.Context, req Request, g grid.Grid, mode Mode, nodata float64) (*raster.Band, error)
}
