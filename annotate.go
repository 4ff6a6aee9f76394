package visage

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/esimov/visage/imop"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	// fontBaseSize is the label height in pixels at font scale 1.
	fontBaseSize = 30
	// labelOffset is the distance between the box top edge and the label baseline.
	labelOffset = 10
)

var regularFont, boldFont *truetype.Font

func init() {
	var err error
	if regularFont, err = truetype.Parse(goregular.TTF); err != nil {
		panic(err)
	}
	if boldFont, err = truetype.Parse(gobold.TTF); err != nil {
		panic(err)
	}
}

// Style is the visual convention used to annotate faces.
type Style struct {
	BoxColor color.NRGBA
	// LabelColor defaults to BoxColor when left transparent.
	LabelColor    color.NRGBA
	LineThickness int
	FontScale     float64
}

// DefaultStyle returns red boxes and labels, 2px lines and a 0.7 font scale.
func DefaultStyle() Style {
	red := color.NRGBA{R: 255, A: 255}
	return Style{
		BoxColor:      red,
		LabelColor:    red,
		LineThickness: 2,
		FontScale:     0.7,
	}
}

// Validate reports whether the style can be rendered.
func (s Style) Validate() error {
	if s.LineThickness < 1 {
		return fmt.Errorf("line thickness must be at least 1px, got %d", s.LineThickness)
	}
	if s.FontScale <= 0 {
		return fmt.Errorf("font scale must be positive, got %v", s.FontScale)
	}
	return nil
}

func (s Style) labelColor() color.NRGBA {
	if s.LabelColor.A == 0 {
		return s.BoxColor
	}
	return s.LabelColor
}

// Face pairs a detected region with its attribute estimate.
type Face struct {
	Region   FaceRegion        `json:"region"`
	Estimate AttributeEstimate `json:"estimate"`
}

// LabelPlacement is where a face label is drawn.
type LabelPlacement struct {
	Text string
	// Baseline is the left end of the text baseline.
	Baseline image.Point
	// Bounds is the box covered by the text.
	Bounds image.Rectangle
}

// Annotator draws face boxes and labels on a copy of an image.
// It is safe for concurrent use.
type Annotator struct {
	style Style
}

// NewAnnotator returns an Annotator using style.
func NewAnnotator(style Style) (*Annotator, error) {
	if err := style.Validate(); err != nil {
		return nil, err
	}
	return &Annotator{style: style}, nil
}

// Style returns the annotation style.
func (a *Annotator) Style() Style {
	return a.style
}

// fontFace returns a new face; truetype faces cache glyphs and cannot be shared.
func (a *Annotator) fontFace() font.Face {
	f := regularFont
	if a.style.LineThickness >= 2 {
		f = boldFont
	}
	return truetype.NewFace(f, &truetype.Options{
		Size:    a.style.FontScale * fontBaseSize,
		Hinting: font.HintingFull,
	})
}

// Layout computes the label of every face. Labels sit labelOffset pixels
// above the box and are pushed inside the image when the box touches an edge.
func (a *Annotator) Layout(bounds image.Rectangle, faces []Face) []LabelPlacement {
	face := a.fontFace()
	defer face.Close()
	return layout(face, bounds.Sub(bounds.Min), faces)
}

func layout(face font.Face, bounds image.Rectangle, faces []Face) []LabelPlacement {
	metrics := face.Metrics()
	ascent, descent := metrics.Ascent.Ceil(), metrics.Descent.Ceil()

	labels := make([]LabelPlacement, len(faces))
	for i, f := range faces {
		text := f.Estimate.Label()
		width := font.MeasureString(face, text).Ceil()

		x := f.Region.X
		if x+width > bounds.Max.X {
			x = bounds.Max.X - width
		}
		x = max(x, 0)
		y := max(f.Region.Y-labelOffset, ascent)

		labels[i] = LabelPlacement{
			Text:     text,
			Baseline: image.Pt(x, y),
			Bounds:   image.Rect(x, y-ascent, x+width, y+descent),
		}
	}
	return labels
}

// Annotate returns a copy of img with a box and a label drawn for every
// face, in order, later faces painting over earlier ones. Without faces the
// copy is pixel identical to img.
func (a *Annotator) Annotate(img image.Image, faces []Face) (*image.NRGBA, error) {
	dst := imaging.Clone(img)
	if len(faces) == 0 {
		return dst, nil
	}
	b := dst.Bounds()
	for _, f := range faces {
		if !f.Region.In(b.Dx(), b.Dy()) {
			return nil, fmt.Errorf("face region %v lies outside the %dx%d image", f.Region, b.Dx(), b.Dy())
		}
	}

	face := a.fontFace()
	defer face.Close()

	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.SetFontFace(face)
	labels := layout(face, b, faces)
	thickness := float64(a.style.LineThickness)

	for i, f := range faces {
		drawBox(dc, f.Region.Rect(), a.style.BoxColor, thickness)

		dc.SetColor(a.style.labelColor())
		l := labels[i]
		dc.DrawString(l.Text, float64(l.Baseline.X), float64(l.Baseline.Y))
	}

	overlay := imgToNRGBA(dc.Image())
	op := imop.InitOp()
	op.Set(imop.SrcOver)
	op.Draw(&imop.Bitmap{Img: dst}, overlay, dst)

	return dst, nil
}

// drawBox strokes the outline of r with the stroke kept inside the rectangle.
func drawBox(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	inset := width / 2
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(
		float64(r.Min.X)+inset,
		float64(r.Min.Y)+inset,
		float64(r.Dx())-width,
		float64(r.Dy())-width,
	)
	dc.Stroke()
}
