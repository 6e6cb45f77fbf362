package video

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/icza/mjpeg"

	"sar-timelapse/internal/common"
)

// encodeTimeout bounds how long ffmpeg may take to finish after the last frame.
const encodeTimeout = 5 * time.Minute

// Sink receives frames in order and finalizes a video file on Close.
// Frames go to a partial file that only replaces Path once Close succeeds;
// Abort discards it and leaves any earlier video at Path alone.
type Sink interface {
	WriteFrame(img image.Image) error
	Close() error
	Abort() error
	Path() string
}

// SinkOptions configures the video encoder.
type SinkOptions struct {
	Format    common.VideoFormat
	FrameRate int
	Quality   int  // 0-100 (for lossy formats)
	UseH264   bool // Try to use H.264 encoding via FFmpeg

	// FFmpegPath overrides the ffmpeg lookup
	FFmpegPath string
}

// DefaultSinkOptions returns sensible defaults
func DefaultSinkOptions() SinkOptions {
	return SinkOptions{
		Format:    common.VideoMP4,
		FrameRate: 3,
		Quality:   90,
		UseH264:   true,
	}
}

// CheckFFmpeg checks if FFmpeg is available - first checks bundled, then system
func CheckFFmpeg() (string, bool) {
	return common.FindExecutable("ffmpeg")
}

// NewSink opens a sink for width x height frames at path. MP4 needs ffmpeg;
// without it the video is written as MJPEG AVI next to the requested path.
func NewSink(path string, width, height int, opts SinkOptions) (Sink, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultSinkOptions().FrameRate
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultSinkOptions().Quality
	}

	switch opts.Format {
	case common.VideoMP4:
		ffmpeg := opts.FFmpegPath
		if ffmpeg == "" && opts.UseH264 {
			if p, ok := CheckFFmpeg(); ok {
				ffmpeg = p
				log.Printf("[VideoExport] FFmpeg found at: %s", p)
			}
		}
		if ffmpeg != "" && opts.UseH264 {
			return newFFmpegSink(ffmpeg, path, width, height, opts)
		}
		aviPath := strings.TrimSuffix(path, common.VideoMP4.Ext()) + common.VideoAVI.Ext()
		log.Printf("[VideoExport] FFmpeg not available, falling back to MJPEG AVI: %s", aviPath)
		return newMJPEGSink(aviPath, width, height, opts)
	case common.VideoAVI:
		return newMJPEGSink(path, width, height, opts)
	case common.VideoGIF:
		return newGIFSink(path, width, height, opts), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: mp4, avi, gif)", opts.Format)
	}
}

// partialPath keeps the extension so ffmpeg still picks the right muxer.
func partialPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".partial" + ext
}

func publish(tmp, path string) error {
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move video into place: %w", err)
	}
	return nil
}

func discard(tmp string) error {
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial video: %w", err)
	}
	return nil
}

func checkSize(img image.Image, width, height int) error {
	if sz := img.Bounds().Size(); sz.X != width || sz.Y != height {
		return fmt.Errorf("frame is %dx%d, video is %dx%d", sz.X, sz.Y, width, height)
	}
	return nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// crfForQuality maps quality 0-100 to CRF 51-0, lower is better
func crfForQuality(q int) int {
	crf := 51 - (q * 51 / 100)
	return max(0, min(51, crf))
}

// ffmpegArgs builds the command line for encoding raw RGBA frames from stdin.
// The pad filter makes odd grid sizes acceptable to yuv420p.
func ffmpegArgs(width, height int, opts SinkOptions, outputPath string) []string {
	return []string{
		"-y", // Overwrite output
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-framerate", strconv.Itoa(opts.FrameRate),
		"-i", "pipe:0",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264", // H.264 codec
		"-preset", "medium", // Encoding speed/quality tradeoff
		"-crf", strconv.Itoa(crfForQuality(opts.Quality)),
		"-pix_fmt", "yuv420p", // Pixel format for compatibility
		"-movflags", "+faststart", // Enable streaming
		outputPath,
	}
}

type ffmpegSink struct {
	path   string
	tmp    string
	width  int
	height int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	frames int
}

func newFFmpegSink(ffmpeg, path string, width, height int, opts SinkOptions) (*ffmpegSink, error) {
	s := &ffmpegSink{path: path, tmp: partialPath(path), width: width, height: height}
	args := ffmpegArgs(width, height, opts, s.tmp)
	log.Printf("[VideoExport] Running FFmpeg: %s %v", ffmpeg, args)

	s.cmd = exec.Command(ffmpeg, args...)
	s.cmd.Stderr = &s.stderr
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	s.stdin = stdin
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	return s, nil
}

func (s *ffmpegSink) Path() string { return s.path }

func (s *ffmpegSink) WriteFrame(img image.Image) error {
	if err := checkSize(img, s.width, s.height); err != nil {
		return err
	}
	rgba := toRGBA(img)
	for y := 0; y < s.height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+s.width*4]
		if _, err := s.stdin.Write(row); err != nil {
			return fmt.Errorf("failed to write frame %d to FFmpeg: %w\nStderr: %s", s.frames, err, s.stderr.String())
		}
	}
	s.frames++
	return nil
}

func (s *ffmpegSink) Close() error {
	s.stdin.Close()

	// Wait for completion with a timeout
	done := make(chan error, 1)
	go func() {
		done <- s.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[VideoExport] FFmpeg stderr: %s", s.stderr.String())
			os.Remove(s.tmp)
			return fmt.Errorf("FFmpeg encoding failed: %w\nStderr: %s", err, s.stderr.String())
		}
	case <-time.After(encodeTimeout):
		// Kill the process if it times out
		s.cmd.Process.Kill()
		log.Printf("[VideoExport] FFmpeg timed out after %s", encodeTimeout)
		log.Printf("[VideoExport] FFmpeg stderr so far: %s", s.stderr.String())
		os.Remove(s.tmp)
		return fmt.Errorf("FFmpeg encoding timed out after %s", encodeTimeout)
	}

	// Verify output file exists and has content
	info, err := os.Stat(s.tmp)
	if err != nil {
		return fmt.Errorf("output file not created: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(s.tmp)
		return fmt.Errorf("output file is empty")
	}
	if err := publish(s.tmp, s.path); err != nil {
		return err
	}
	log.Printf("[VideoExport] H.264 video exported successfully: %s (%d frames, %d bytes)", s.path, s.frames, info.Size())
	return nil
}

func (s *ffmpegSink) Abort() error {
	s.stdin.Close()
	s.cmd.Process.Kill()
	s.cmd.Wait()
	return discard(s.tmp)
}

// mjpegSink writes an AVI file with Motion JPEG codec (compatible, plays everywhere)
type mjpegSink struct {
	path    string
	tmp     string
	width   int
	height  int
	quality int
	writer  mjpeg.AviWriter
	buf     bytes.Buffer
}

func newMJPEGSink(path string, width, height int, opts SinkOptions) (*mjpegSink, error) {
	tmp := partialPath(path)
	writer, err := mjpeg.New(tmp, int32(width), int32(height), int32(opts.FrameRate))
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer: %w", err)
	}
	return &mjpegSink{path: path, tmp: tmp, width: width, height: height, quality: opts.Quality, writer: writer}, nil
}

func (s *mjpegSink) Path() string { return s.path }

func (s *mjpegSink) WriteFrame(img image.Image) error {
	if err := checkSize(img, s.width, s.height); err != nil {
		return err
	}
	s.buf.Reset()
	if err := jpeg.Encode(&s.buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return fmt.Errorf("failed to encode frame as JPEG: %w", err)
	}
	if err := s.writer.AddFrame(s.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to add frame: %w", err)
	}
	return nil
}

func (s *mjpegSink) Close() error {
	if err := s.writer.Close(); err != nil {
		os.Remove(s.tmp)
		return fmt.Errorf("failed to finalize %s: %w", s.path, err)
	}
	if err := publish(s.tmp, s.path); err != nil {
		return err
	}
	log.Printf("[VideoExport] MJPEG video exported: %s", s.path)
	return nil
}

func (s *mjpegSink) Abort() error {
	s.writer.Close()
	return discard(s.tmp)
}

// grayPalette covers every 8-bit gray level, which includes the black and
// white label colours.
var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

// gifSink buffers paletted frames and writes an animated GIF on Close.
type gifSink struct {
	path   string
	width  int
	height int
	delay  int
	anim   gif.GIF
}

func newGIFSink(path string, width, height int, opts SinkOptions) *gifSink {
	// delay in 100ths of a second
	delay := max(1, 100/opts.FrameRate)
	return &gifSink{path: path, width: width, height: height, delay: delay}
}

func (s *gifSink) Path() string { return s.path }

func (s *gifSink) WriteFrame(img image.Image) error {
	if err := checkSize(img, s.width, s.height); err != nil {
		return err
	}
	b := img.Bounds()
	pal := image.NewPaletted(image.Rect(0, 0, s.width, s.height), grayPalette)
	draw.Draw(pal, pal.Bounds(), img, b.Min, draw.Src)
	s.anim.Image = append(s.anim.Image, pal)
	s.anim.Delay = append(s.anim.Delay, s.delay)
	return nil
}

func (s *gifSink) Close() error {
	tmp := partialPath(s.path)
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	s.anim.Config = image.Config{ColorModel: grayPalette, Width: s.width, Height: s.height}
	if err := gif.EncodeAll(f, &s.anim); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode GIF: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := publish(tmp, s.path); err != nil {
		return err
	}
	log.Printf("[VideoExport] GIF exported: %s (%d frames)", s.path, len(s.anim.Image))
	return nil
}

// Abort drops the buffered frames; nothing has been written yet.
func (s *gifSink) Abort() error {
	s.anim = gif.GIF{}
	return discard(partialPath(s.path))
}
