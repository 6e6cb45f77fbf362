package video

import (
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Position anchors the frame label.
type Position string

const (
	PositionTopLeft    Position = "top-left"
	PositionBottomLeft Position = "bottom-left"
	PositionNone       Position = "none"
)

// ParsePosition accepts top-left, bottom-left and none.
func ParsePosition(s string) (Position, error) {
	switch p := Position(strings.ToLower(strings.TrimSpace(s))); p {
	case PositionTopLeft, PositionBottomLeft, PositionNone:
		return p, nil
	case "":
		return PositionBottomLeft, nil
	default:
		return "", fmt.Errorf("invalid text position %q (must be top-left, bottom-left or none)", s)
	}
}

// Overlay configures the "<satellite> dd.mm.yyyy HH:MM:SS" label.
type Overlay struct {
	FontScale float64  `yaml:"font_scale" json:"font_scale"`
	Position  Position `yaml:"position" json:"position"`
}

// Enabled reports whether a label is drawn at all.
func (o Overlay) Enabled() bool {
	return o.FontScale > 0 && o.Position != PositionNone && o.Position != ""
}

// basePoints is the label height in points at font scale 1.
const basePoints = 30

// Labeler draws white text with a black outline.
type Labeler struct {
	overlay   Overlay
	face      font.Face
	margin    int
	thickness int
}

// NewLabeler prepares the font face for o.
func NewLabeler(o Overlay) (*Labeler, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    basePoints * o.FontScale,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	return &Labeler{
		overlay:   o,
		face:      face,
		margin:    int(10 * o.FontScale),
		thickness: max(1, int(o.FontScale*2)),
	}, nil
}

// Anchor returns the baseline start of the label on a frame of the given height.
func (l *Labeler) Anchor(height int) (x, y int) {
	textH := l.face.Metrics().Ascent.Ceil()
	if l.overlay.Position == PositionTopLeft {
		return l.margin, l.margin + textH
	}
	return l.margin, height - l.margin
}

// Draw returns an RGBA copy of img with text drawn on it.
func (l *Labeler) Draw(img image.Image, text string) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)

	dc := gg.NewContextForRGBA(rgba)
	dc.SetFontFace(l.face)
	x, y := l.Anchor(rgba.Rect.Dy())

	// Draw outline (thicker black)
	dc.SetRGB(0, 0, 0)
	t := l.thickness
	for dy := -t; dy <= t; dy++ {
		for dx := -t; dx <= t; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			dc.DrawString(text, float64(x+dx), float64(y+dy))
		}
	}

	// Draw main text (white)
	dc.SetRGB(1, 1, 1)
	dc.DrawString(text, float64(x), float64(y))
	return rgba
}

// Close releases the font face.
func (l *Labeler) Close() error {
	return l.face.Close()
}
