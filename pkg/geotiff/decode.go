package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

// ErrUnsupported is returned for valid TIFF layouts this decoder does not handle.
var ErrUnsupported = errors.New("unsupported tiff layout")

// Info is the metadata of the first image in a GeoTIFF.
type Info struct {
	Width         int
	Height        int
	Bands         int
	BitsPerSample int
	SampleFormat  int
	Compression   int
	Tiled         bool
	Transform     GeoTransform
	HasNoData     bool
	NoData        float64
	EPSG          int
}

type rawEntry struct {
	datatype uint16
	count    uint32
	data     []byte
}

type decoder struct {
	r       io.ReaderAt
	bo      binary.ByteOrder
	entries map[uint16]rawEntry
	info    Info

	planar    int
	predictor int
	offsets   []uint64
	counts    []uint64
	chunkW    int
	chunkH    int
}

// DecodeInfo reads only the header and first IFD.
func DecodeInfo(r io.ReaderAt) (*Info, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, err
	}
	info := d.info
	return &info, nil
}

// Decode reads every band of the first image as float32 samples in row-major order.
func Decode(r io.ReaderAt) (*Info, [][]float32, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, nil, err
	}
	bands, err := d.readBands()
	if err != nil {
		return nil, nil, err
	}
	info := d.info
	return &info, bands, nil
}

func newDecoder(r io.ReaderAt) (*decoder, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read tiff header: %w", err)
	}

	d := &decoder{r: r, entries: make(map[uint16]rawEntry)}
	switch string(hdr[:2]) {
	case "II":
		d.bo = binary.LittleEndian
	case "MM":
		d.bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a tiff file (byte order %q)", hdr[:2])
	}
	switch d.bo.Uint16(hdr[2:]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupported)
	default:
		return nil, fmt.Errorf("not a tiff file (bad magic)")
	}

	if err := d.readIFD(int64(d.bo.Uint32(hdr[4:]))); err != nil {
		return nil, err
	}
	if err := d.parse(); err != nil {
		return nil, err
	}
	return d, nil
}

func typeSize(datatype uint16) int {
	switch datatype {
	case DataType_Byte, DataType_ASCII, DataType_SByte, DataType_Undefined:
		return 1
	case DataType_Short, DataType_SShort:
		return 2
	case DataType_Long, DataType_SLong, DataType_Float, DataType_IFD:
		return 4
	case DataType_Rational, DataType_SRational, DataType_Double, DataType_Long8:
		return 8
	}
	return 0
}

func (d *decoder) readIFD(offset int64) error {
	var cnt [2]byte
	if _, err := d.r.ReadAt(cnt[:], offset); err != nil {
		return fmt.Errorf("failed to read IFD: %w", err)
	}
	n := int(d.bo.Uint16(cnt[:]))
	table := make([]byte, 12*n)
	if _, err := d.r.ReadAt(table, offset+2); err != nil {
		return fmt.Errorf("failed to read IFD entries: %w", err)
	}

	for i := 0; i < n; i++ {
		rec := table[12*i : 12*i+12]
		tag := d.bo.Uint16(rec[0:])
		dt := d.bo.Uint16(rec[2:])
		count := d.bo.Uint32(rec[4:])
		size := typeSize(dt)
		if size == 0 {
			continue // unknown type, skip per TIFF 6.0
		}
		total := int64(size) * int64(count)
		var data []byte
		if total <= 4 {
			data = append([]byte(nil), rec[8:8+total]...)
		} else {
			data = make([]byte, total)
			if _, err := d.r.ReadAt(data, int64(d.bo.Uint32(rec[8:]))); err != nil {
				return fmt.Errorf("failed to read value of tag %d: %w", tag, err)
			}
		}
		d.entries[tag] = rawEntry{datatype: dt, count: count, data: data}
	}
	return nil
}

// uints returns integer tag values; ok is false when the tag is absent.
func (d *decoder) uints(tag uint16) ([]uint64, bool) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, false
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.datatype {
		case DataType_Byte, DataType_Undefined:
			out[i] = uint64(e.data[i])
		case DataType_Short:
			out[i] = uint64(d.bo.Uint16(e.data[2*i:]))
		case DataType_Long, DataType_IFD:
			out[i] = uint64(d.bo.Uint32(e.data[4*i:]))
		case DataType_Long8:
			out[i] = d.bo.Uint64(e.data[8*i:])
		default:
			return nil, false
		}
	}
	return out, true
}

func (d *decoder) intTag(tag uint16, def int) int {
	v, ok := d.uints(tag)
	if !ok || len(v) == 0 {
		return def
	}
	return int(v[0])
}

func (d *decoder) doubles(tag uint16) ([]float64, bool) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, false
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.datatype {
		case DataType_Double:
			out[i] = math.Float64frombits(d.bo.Uint64(e.data[8*i:]))
		case DataType_Float:
			out[i] = float64(math.Float32frombits(d.bo.Uint32(e.data[4*i:])))
		default:
			return nil, false
		}
	}
	return out, true
}

func (d *decoder) ascii(tag uint16) (string, bool) {
	e, ok := d.entries[tag]
	if !ok || e.datatype != DataType_ASCII {
		return "", false
	}
	return strings.TrimRight(string(e.data), "\x00"), true
}

func (d *decoder) parse() error {
	info := &d.info
	info.Width = d.intTag(TagType_ImageWidth, 0)
	info.Height = d.intTag(TagType_ImageLength, 0)
	if info.Width <= 0 || info.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", info.Width, info.Height)
	}
	info.Bands = d.intTag(TagType_SamplesPerPixel, 1)
	info.BitsPerSample = d.intTag(TagType_BitsPerSample, 1)
	info.SampleFormat = d.intTag(TagType_SampleFormat, sampleFormatUint)
	info.Compression = d.intTag(TagType_Compression, compressionNone)
	d.planar = d.intTag(TagType_PlanarConfiguration, 1)
	d.predictor = d.intTag(TagType_Predictor, predictorNone)

	if bits, ok := d.uints(TagType_BitsPerSample); ok {
		for _, b := range bits {
			if int(b) != info.BitsPerSample {
				return fmt.Errorf("%w: mixed bits per sample", ErrUnsupported)
			}
		}
	}

	if offs, ok := d.uints(TagType_TileOffsets); ok {
		info.Tiled = true
		d.offsets = offs
		d.counts, _ = d.uints(TagType_TileByteCounts)
		d.chunkW = d.intTag(TagType_TileWidth, 0)
		d.chunkH = d.intTag(TagType_TileLength, 0)
		if d.chunkW <= 0 || d.chunkH <= 0 {
			return fmt.Errorf("tiled image without tile dimensions")
		}
	} else if offs, ok := d.uints(TagType_StripOffsets); ok {
		d.offsets = offs
		d.counts, _ = d.uints(TagType_StripByteCounts)
		d.chunkW = info.Width
		d.chunkH = d.intTag(TagType_RowsPerStrip, info.Height)
		if d.chunkH <= 0 || d.chunkH > info.Height {
			d.chunkH = info.Height
		}
	} else {
		return fmt.Errorf("image has neither strips nor tiles")
	}
	if len(d.counts) != len(d.offsets) {
		return fmt.Errorf("chunk offsets and byte counts disagree (%d vs %d)", len(d.offsets), len(d.counts))
	}

	if err := d.parseGeo(); err != nil {
		return err
	}

	if s, ok := d.ascii(TagType_GDALNoData); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			info.HasNoData = true
			info.NoData = v
		}
	}
	return nil
}

func (d *decoder) parseGeo() error {
	gt := &d.info.Transform

	if m, ok := d.doubles(TagType_ModelTransformationTag); ok && len(m) >= 16 {
		if m[1] != 0 || m[4] != 0 {
			return fmt.Errorf("%w: rotated model transformation", ErrUnsupported)
		}
		gt.PixelWidth = m[0]
		gt.PixelHeight = -m[5]
		gt.OriginX = m[3]
		gt.OriginY = m[7]
	} else {
		scale, okS := d.doubles(TagType_ModelPixelScaleTag)
		tie, okT := d.doubles(TagType_ModelTiepointTag)
		if !okS || !okT || len(scale) < 2 || len(tie) < 6 {
			return fmt.Errorf("missing georeferencing (ModelPixelScale/ModelTiepoint)")
		}
		gt.PixelWidth = scale[0]
		gt.PixelHeight = scale[1]
		gt.OriginX = tie[3] - tie[0]*scale[0]
		gt.OriginY = tie[4] + tie[1]*scale[1]
	}

	if keys, ok := d.uints(TagType_GeoKeyDirectoryTag); ok && len(keys) >= 4 {
		n := int(keys[3])
		for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
			k := keys[4+4*i : 4+4*i+4]
			if k[1] != 0 {
				continue // value stored in a params tag
			}
			switch k[0] {
			case geoKeyRasterType:
				if k[3] == rasterPixelIsPoint {
					gt.OriginX -= gt.PixelWidth / 2
					gt.OriginY += gt.PixelHeight / 2
				}
			case geoKeyProjectedCSType, geoKeyGeographicType:
				if k[3] > 0 && k[3] < 32767 {
					d.info.EPSG = int(k[3])
				}
			}
		}
	}

	if !gt.Valid() {
		return fmt.Errorf("invalid pixel size %gx%g", gt.PixelWidth, gt.PixelHeight)
	}
	return nil
}

func (d *decoder) sampleReader() (func(b []byte) float32, int, error) {
	bps := d.info.BitsPerSample
	switch d.info.SampleFormat {
	case sampleFormatUint, 0:
		switch bps {
		case 8:
			return func(b []byte) float32 { return float32(b[0]) }, 1, nil
		case 16:
			return func(b []byte) float32 { return float32(d.bo.Uint16(b)) }, 2, nil
		case 32:
			return func(b []byte) float32 { return float32(d.bo.Uint32(b)) }, 4, nil
		}
	case sampleFormatInt:
		switch bps {
		case 8:
			return func(b []byte) float32 { return float32(int8(b[0])) }, 1, nil
		case 16:
			return func(b []byte) float32 { return float32(int16(d.bo.Uint16(b))) }, 2, nil
		case 32:
			return func(b []byte) float32 { return float32(int32(d.bo.Uint32(b))) }, 4, nil
		}
	case sampleFormatFloat:
		switch bps {
		case 32:
			return func(b []byte) float32 { return math.Float32frombits(d.bo.Uint32(b)) }, 4, nil
		case 64:
			return func(b []byte) float32 { return float32(math.Float64frombits(d.bo.Uint64(b))) }, 8, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, d.info.SampleFormat, bps)
}

func (d *decoder) readBands() ([][]float32, error) {
	info := d.info
	read, size, err := d.sampleReader()
	if err != nil {
		return nil, err
	}
	isFloat := info.SampleFormat == sampleFormatFloat
	switch {
	case d.predictor == predictorNone:
	case d.predictor == predictorHorizontal && !isFloat:
	case d.predictor == predictorFloatingPoint && isFloat:
	default:
		return nil, fmt.Errorf("%w: predictor %d for sample format %d", ErrUnsupported, d.predictor, info.SampleFormat)
	}

	bands := make([][]float32, info.Bands)
	for i := range bands {
		bands[i] = make([]float32, info.Width*info.Height)
	}

	across := (info.Width + d.chunkW - 1) / d.chunkW
	down := (info.Height + d.chunkH - 1) / d.chunkH
	perPlane := across * down

	planes, spp := 1, info.Bands
	if d.planar == 2 {
		planes, spp = info.Bands, 1
	}
	if len(d.offsets) < perPlane*planes {
		return nil, fmt.Errorf("expected %d chunks, found %d", perPlane*planes, len(d.offsets))
	}

	for plane := 0; plane < planes; plane++ {
		for c := 0; c < perPlane; c++ {
			idx := plane*perPlane + c
			buf, err := d.readChunk(idx)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", idx, err)
			}

			x0 := (c % across) * d.chunkW
			y0 := (c / across) * d.chunkH
			rows := d.chunkH
			if !info.Tiled && y0+rows > info.Height {
				rows = info.Height - y0
			}
			rowBytes := d.chunkW * spp * size
			if len(buf) < rows*rowBytes {
				// short final strips are common; decode what is present
				rows = len(buf) / rowBytes
			}
			switch d.predictor {
			case predictorHorizontal:
				undoHorizontal(buf[:rows*rowBytes], rowBytes, spp, size, d.bo)
			case predictorFloatingPoint:
				undoFloatingPoint(buf[:rows*rowBytes], rowBytes, spp, size, d.bo == binary.BigEndian)
			}

			for y := 0; y < rows; y++ {
				iy := y0 + y
				if iy >= info.Height {
					break
				}
				row := buf[y*rowBytes:]
				for x := 0; x < d.chunkW; x++ {
					ix := x0 + x
					if ix >= info.Width {
						break
					}
					for s := 0; s < spp; s++ {
						band := s
						if d.planar == 2 {
							band = plane
						}
						o := (x*spp + s) * size
						bands[band][iy*info.Width+ix] = read(row[o : o+size])
					}
				}
			}
		}
	}
	return bands, nil
}

func (d *decoder) readChunk(idx int) ([]byte, error) {
	raw := make([]byte, d.counts[idx])
	if _, err := d.r.ReadAt(raw, int64(d.offsets[idx])); err != nil && err != io.EOF {
		return nil, err
	}

	switch d.info.Compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		return io.ReadAll(rc)
	case compressionDeflate, compressionDeflateAdob:
		rc, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, d.info.Compression)
}

// undoHorizontal reverses TIFF predictor 2 in place, row by row.
func undoHorizontal(buf []byte, rowBytes, spp, size int, bo binary.ByteOrder) {
	for r := 0; r+rowBytes <= len(buf); r += rowBytes {
		row := buf[r : r+rowBytes]
		stride := spp * size
		for i := stride; i+size <= len(row); i += size {
			j := i - stride
			switch size {
			case 1:
				row[i] += row[j]
			case 2:
				bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[j:]))
			case 4:
				bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[j:]))
			}
		}
	}
}

// undoFloatingPoint reverses TIFF predictor 3 in place, row by row: bytes are
// differenced across the whole row, then regrouped from planes stored most
// significant byte first into samples in file byte order.
func undoFloatingPoint(buf []byte, rowBytes, spp, size int, bigEndian bool) {
	tmp := make([]byte, rowBytes)
	n := rowBytes / size
	for r := 0; r+rowBytes <= len(buf); r += rowBytes {
		row := buf[r : r+rowBytes]
		for i := spp; i < rowBytes; i++ {
			row[i] += row[i-spp]
		}
		copy(tmp, row)
		for k := 0; k < n; k++ {
			for b := 0; b < size; b++ {
				plane := b
				if !bigEndian {
					plane = size - 1 - b
				}
				row[k*size+b] = tmp[plane*n+k]
			}
		}
	}
}
