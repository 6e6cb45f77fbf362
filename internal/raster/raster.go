package raster

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sar-timelapse/internal/grid"
	"sar-timelapse/pkg/geotiff"
)

// Header is the georeferencing metadata of one scene file.
type Header struct {
	Path      string           `json:"path"`
	Name      string           `json:"name"`
	Bounds    grid.SceneBounds `json:"bounds"`
	ResX      float64          `json:"resX"`
	ResY      float64          `json:"resY"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	BandCount int              `json:"bandCount"`
	HasNoData bool             `json:"hasNoData"`
	NoData    float64          `json:"-"`
	EPSG      int              `json:"epsg,omitempty"`
}

// Raster is a decoded scene: its header and every band.
type Raster struct {
	Header
	Bands []*Band
}

// Band returns the 1-based channel n.
func (r *Raster) Band(n int) (*Band, error) {
	if n < 1 || n > len(r.Bands) {
		return nil, fmt.Errorf("%s: band %d out of range (file has %d)", r.Name, n, len(r.Bands))
	}
	return r.Bands[n-1], nil
}

// SourceNoData returns the file's nodata value, or fallback when the file declares none.
func (h Header) SourceNoData(fallback float64) float64 {
	if h.HasNoData {
		return h.NoData
	}
	return fallback
}

func headerFromInfo(path string, info *geotiff.Info) Header {
	left, bottom, right, top := info.Transform.Bounds(info.Width, info.Height)
	return Header{
		Path:      path,
		Name:      filepath.Base(path),
		Bounds:    grid.SceneBounds{Left: left, Bottom: bottom, Right: right, Top: top},
		ResX:      info.Transform.PixelWidth,
		ResY:      info.Transform.PixelHeight,
		Width:     info.Width,
		Height:    info.Height,
		BandCount: info.Bands,
		HasNoData: info.HasNoData,
		NoData:    info.NoData,
		EPSG:      info.EPSG,
	}
}

// ReadHeader reads georeferencing metadata without decoding pixels.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	defer f.Close()

	info, err := geotiff.DecodeInfo(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	h := headerFromInfo(path, info)
	return &h, nil
}

// Open decodes a GeoTIFF into memory.
func Open(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	defer f.Close()

	info, data, err := geotiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	r := &Raster{Header: headerFromInfo(path, info)}
	for _, d := range data {
		r.Bands = append(r.Bands, &Band{Width: info.Width, Height: info.Height, Data: d})
	}
	return r, nil
}

// ReadBand opens path and returns its 1-based channel together with the header.
func ReadBand(path string, channel int) (*Band, *Header, error) {
	r, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	b, err := r.Band(channel)
	if err != nil {
		return nil, nil, err
	}
	return b, &r.Header, nil
}

// GridTransform converts a grid into a GeoTIFF transform.
func GridTransform(g grid.Grid) geotiff.GeoTransform {
	return geotiff.GeoTransform{
		OriginX:     g.OriginX,
		OriginY:     g.OriginY,
		PixelWidth:  g.Resolution,
		PixelHeight: g.Resolution,
	}
}

// WriteAligned stores a band that lives on g as a Float32 GeoTIFF.
func WriteAligned(path string, b *Band, g grid.Grid, nodata float64, epsg int) error {
	if err := b.CheckShape(g.Width, g.Height); err != nil {
		return fmt.Errorf("cannot write %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create raster file: %w", err)
	}
	if err := geotiff.EncodeFloat32(f, g.Width, g.Height, [][]float32{b.Data}, GridTransform(g), nodata, epsg); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// WriteFrame stores an 8-bit frame that lives on g as a GeoTIFF.
func WriteFrame(path string, img *image.Gray, g grid.Grid, epsg int) error {
	if sz := img.Bounds().Size(); sz.X != g.Width || sz.Y != g.Height {
		return fmt.Errorf("cannot write %s: frame is %dx%d, grid is %dx%d", filepath.Base(path), sz.X, sz.Y, g.Width, g.Height)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	if err := geotiff.EncodeGray(f, img, GridTransform(g), epsg); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// ListGeoTIFFs returns the .tif/.tiff files directly inside dir, sorted by name.
func ListGeoTIFFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".tif" || ext == ".tiff" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// ParseNoData accepts "nan" or a number.
func ParseNoData(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid nodata value %q", s)
	}
	return v, nil
}
