package geotiff

import "math"

const (
	DataType_Byte      = 1
	DataType_ASCII     = 2
	DataType_Short     = 3
	DataType_Long      = 4
	DataType_Rational  = 5
	DataType_SByte     = 6
	DataType_Undefined = 7
	DataType_SShort    = 8
	DataType_SLong     = 9
	DataType_SRational = 10
	DataType_Float     = 11
	DataType_Double    = 12
	DataType_IFD       = 13
	DataType_Long8     = 16

	TagType_ImageWidth                = 256
	TagType_ImageLength               = 257
	TagType_BitsPerSample             = 258
	TagType_Compression               = 259
	TagType_PhotometricInterpretation = 262
	TagType_StripOffsets              = 273
	TagType_SamplesPerPixel           = 277
	TagType_RowsPerStrip              = 278
	TagType_StripByteCounts           = 279
	TagType_XResolution               = 282
	TagType_YResolution               = 283
	TagType_PlanarConfiguration       = 284
	TagType_ResolutionUnit            = 296
	TagType_Predictor                 = 317
	TagType_TileWidth                 = 322
	TagType_TileLength                = 323
	TagType_TileOffsets               = 324
	TagType_TileByteCounts            = 325
	TagType_ExtraSamples              = 338
	TagType_SampleFormat              = 339

	// GeoTIFF Tags
	TagType_ModelPixelScaleTag     = 33550
	TagType_ModelTiepointTag       = 33922
	TagType_ModelTransformationTag = 34264
	TagType_GeoKeyDirectoryTag     = 34735
	TagType_GeoDoubleParamsTag     = 34736
	TagType_GeoAsciiParamsTag      = 34737

	// GDAL private tag holding the nodata value as ASCII
	TagType_GDALNoData = 42113
)

const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateAdob = 32946

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3

	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
)

// GeoKey IDs used when reading and writing the key directory.
const (
	geoKeyModelType         = 1024
	geoKeyRasterType        = 1025
	geoKeyGeographicType    = 2048
	geoKeyProjectedCSType   = 3072
	rasterPixelIsArea       = 1
	rasterPixelIsPoint      = 2
	modelTypeProjected      = 1
	modelTypeGeographic     = 2
	geographicEPSGThreshold = 5000
)

// GeoTransform is a north-up affine georeference. OriginX/OriginY is the
// outer corner of the top-left pixel; PixelHeight is positive.
type GeoTransform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
}

// Bounds returns left, bottom, right, top for a raster of the given size.
func (gt GeoTransform) Bounds(width, height int) (left, bottom, right, top float64) {
	left = gt.OriginX
	top = gt.OriginY
	right = gt.OriginX + float64(width)*gt.PixelWidth
	bottom = gt.OriginY - float64(height)*gt.PixelHeight
	return
}

// Valid reports whether both pixel sizes are finite and positive.
func (gt GeoTransform) Valid() bool {
	return gt.PixelWidth > 0 && gt.PixelHeight > 0 &&
		!math.IsInf(gt.PixelWidth, 0) && !math.IsInf(gt.PixelHeight, 0)
}

// geoTags builds the tag set that georeferences a raster written by this package.
func geoTags(gt GeoTransform, epsg int) map[uint16]interface{} {
	tags := map[uint16]interface{}{
		TagType_ModelPixelScaleTag: []float64{gt.PixelWidth, gt.PixelHeight, 0},
		TagType_ModelTiepointTag:   []float64{0, 0, 0, gt.OriginX, gt.OriginY, 0},
	}

	keys := [][4]uint16{{geoKeyRasterType, 0, 1, rasterPixelIsArea}}
	if epsg > 0 {
		if epsg < geographicEPSGThreshold {
			keys = append([][4]uint16{{geoKeyModelType, 0, 1, modelTypeGeographic}}, keys...)
			keys = append(keys, [4]uint16{geoKeyGeographicType, 0, 1, uint16(epsg)})
		} else {
			keys = append([][4]uint16{{geoKeyModelType, 0, 1, modelTypeProjected}}, keys...)
			keys = append(keys, [4]uint16{geoKeyProjectedCSType, 0, 1, uint16(epsg)})
		}
	}

	dir := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		dir = append(dir, k[:]...)
	}
	tags[TagType_GeoKeyDirectoryTag] = dir
	return tags
}
