package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"sort"
	"strconv"
)

var enc = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

type byTag []ifdEntry

func (d byTag) Len() int           { return len(d) }
func (d byTag) Less(i, j int) bool { return d[i].tag < d[j].tag }
func (d byTag) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// layout describes the single-strip, chunky sample layout the encoder writes.
type layout struct {
	width        int
	height       int
	samples      int
	bits         uint16
	sampleFormat uint16
	photometric  uint16
}

// EncodeFloat32 writes one or more equally sized float32 bands to w as an
// uncompressed, georeferenced Float32 GeoTIFF. The nodata value is stored in
// the GDAL_NODATA tag so GDAL and this package's decoder both honour it.
func EncodeFloat32(w io.Writer, width, height int, bands [][]float32, gt GeoTransform, nodata float64, epsg int) error {
	if len(bands) == 0 {
		return fmt.Errorf("no bands to encode")
	}
	n := width * height
	for i, b := range bands {
		if len(b) != n {
			return fmt.Errorf("band %d has %d samples, want %d", i+1, len(b), n)
		}
	}

	pixels := make([]byte, 4*n*len(bands))
	off := 0
	for p := 0; p < n; p++ {
		for _, b := range bands {
			enc.PutUint32(pixels[off:], math.Float32bits(b[p]))
			off += 4
		}
	}

	tags := geoTags(gt, epsg)
	tags[TagType_GDALNoData] = formatNoData(nodata)
	if len(bands) > 1 {
		tags[TagType_ExtraSamples] = make([]uint16, len(bands)-1)
	}

	return encode(w, layout{
		width:        width,
		height:       height,
		samples:      len(bands),
		bits:         32,
		sampleFormat: sampleFormatFloat,
		photometric:  1,
	}, pixels, tags)
}

// EncodeGray writes an 8-bit grayscale frame as a georeferenced GeoTIFF.
func EncodeGray(w io.Writer, m *image.Gray, gt GeoTransform, epsg int) error {
	b := m.Bounds()
	width, height := b.Dx(), b.Dy()
	pixels := make([]byte, 0, width*height)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := m.Pix[(y-b.Min.Y)*m.Stride:]
		pixels = append(pixels, row[:width]...)
	}

	return encode(w, layout{
		width:        width,
		height:       height,
		samples:      1,
		bits:         8,
		sampleFormat: sampleFormatUint,
		photometric:  1,
	}, pixels, geoTags(gt, epsg))
}

// encode writes header, IFD, out-of-line tag data and one pixel strip.
// extraTags is a map of TagID -> value.
// Supported value types: []uint16 (SHORT), []float64 (DOUBLE), string (ASCII).
func encode(w io.Writer, l layout, pixels []byte, extraTags map[uint16]interface{}) error {
	// LittleEndian (II), Version 42, first IFD at offset 8
	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	if _, err := w.Write(header); err != nil {
		return err
	}

	var entries []ifdEntry
	addEntry := func(tag uint16, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	bits := make([]uint16, l.samples)
	formats := make([]uint16, l.samples)
	for i := range bits {
		bits[i] = l.bits
		formats[i] = l.sampleFormat
	}

	addEntry(TagType_ImageWidth, DataType_Long, 1, enc32(uint32(l.width)))
	addEntry(TagType_ImageLength, DataType_Long, 1, enc32(uint32(l.height)))
	addEntry(TagType_BitsPerSample, DataType_Short, uint32(l.samples), enc16s(bits))
	addEntry(TagType_Compression, DataType_Short, 1, enc16(compressionNone))
	addEntry(TagType_PhotometricInterpretation, DataType_Short, 1, enc16(l.photometric))
	addEntry(TagType_SamplesPerPixel, DataType_Short, 1, enc16(uint16(l.samples)))
	addEntry(TagType_RowsPerStrip, DataType_Long, 1, enc32(uint32(l.height)))
	addEntry(TagType_PlanarConfiguration, DataType_Short, 1, enc16(1))
	addEntry(TagType_SampleFormat, DataType_Short, uint32(l.samples), enc16s(formats))
	addEntry(TagType_XResolution, DataType_Rational, 1, encRational(72, 1))
	addEntry(TagType_YResolution, DataType_Rational, 1, encRational(72, 1))
	addEntry(TagType_ResolutionUnit, DataType_Short, 1, enc16(2))

	// Patched once the pixel offset is known.
	addEntry(TagType_StripOffsets, DataType_Long, 1, make([]byte, 4))
	addEntry(TagType_StripByteCounts, DataType_Long, 1, enc32(uint32(len(pixels))))

	for tag, val := range extraTags {
		switch v := val.(type) {
		case []uint16:
			addEntry(tag, DataType_Short, uint32(len(v)), enc16s(v))
		case []float64:
			addEntry(tag, DataType_Double, uint32(len(v)), encDoubles(v))
		case string:
			b := append([]byte(v), 0)
			addEntry(tag, DataType_ASCII, uint32(len(b)), b)
		default:
			return fmt.Errorf("unsupported tag value type for tag %d", tag)
		}
	}

	sort.Sort(byTag(entries))

	ifdSize := 2 + 12*len(entries) + 4
	valueDataOffset := 8 + ifdSize

	// Values longer than 4 bytes live after the IFD table; the entry keeps the offset.
	var largeDataBuf bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) <= 4 {
			continue
		}
		currentOffset := uint32(valueDataOffset + largeDataBuf.Len())
		largeDataBuf.Write(e.data)
		if largeDataBuf.Len()%2 == 1 {
			largeDataBuf.WriteByte(0) // word alignment
		}
		e.data = enc32(currentOffset)
	}

	pixelsOffset := uint32(valueDataOffset + largeDataBuf.Len())
	for i := range entries {
		if entries[i].tag == TagType_StripOffsets {
			entries[i].data = enc32(pixelsOffset)
		}
	}

	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		var rec [12]byte
		enc.PutUint16(rec[0:], e.tag)
		enc.PutUint16(rec[2:], e.datatype)
		enc.PutUint32(rec[4:], e.count)
		copy(rec[8:], e.data)
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
	}

	// Next IFD offset (0)
	if err := binary.Write(w, enc, uint32(0)); err != nil {
		return err
	}
	if _, err := largeDataBuf.WriteTo(w); err != nil {
		return err
	}
	_, err := w.Write(pixels)
	return err
}

func formatNoData(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	enc.PutUint32(b[:4], num)
	enc.PutUint32(b[4:], den)
	return b
}
