// Package thumbnail renders the featured image attached to each post.
package thumbnail

import (
	"bytes"
	"cmp"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"unicode"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"

	"github.com/lysyi3m/feedpress/app/document"
)

const (
	Width  = 1200
	Height = 630

	margin     = 60
	bandHeight = 96
	titleScale = 4
	labelScale = 3
	footScale  = 2
	maxLines   = 6
)

var (
	background = color.RGBA{0x1d, 0x1f, 0x27, 0xff}
	titleColor = color.RGBA{0xf4, 0xf4, 0xf6, 0xff}
	mutedColor = color.RGBA{0xa9, 0xad, 0xba, 0xff}
	bandText   = color.RGBA{0xff, 0xff, 0xff, 0xff}
)

var categoryColors = map[string]color.RGBA{
	"general":       {0x4a, 0x5a, 0x78, 0xff},
	"news":          {0xc0, 0x39, 0x2b, 0xff},
	"film":          {0x8e, 0x44, 0xad, 0xff},
	"music":         {0xd3, 0x54, 0x00, 0xff},
	"tv":            {0x27, 0x80, 0xb5, 0xff},
	"celebrity":     {0xe8, 0x43, 0x93, 0xff},
	"technology":    {0x16, 0xa0, 0x85, 0xff},
	"business":      {0x2c, 0x3e, 0x50, 0xff},
	"sports":        {0x27, 0xae, 0x60, 0xff},
	"entertainment": {0xb0, 0x3a, 0x2e, 0xff},
}

var palette = []color.RGBA{
	{0x6c, 0x5c, 0xe7, 0xff},
	{0x00, 0xb8, 0x94, 0xff},
	{0xe1, 0x70, 0x55, 0xff},
	{0x09, 0x84, 0xe3, 0xff},
	{0xfd, 0xa7, 0xdf, 0xff},
	{0xe8, 0x8e, 0x13, 0xff},
}

type Renderer struct {
	face font.Face
}

func NewRenderer() *Renderer {
	return &Renderer{face: basicfont.Face7x13}
}

// Render draws a Width x Height PNG card with the category band, the wrapped
// title and the publisher name.
func (r *Renderer) Render(doc *document.Document, category string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	band := image.Rect(0, 0, Width, bandHeight)
	draw.Draw(img, band, image.NewUniform(CategoryColor(category)), image.Point{}, draw.Src)

	glyphH := r.face.Metrics().Height.Ceil()

	label := strings.ToUpper(cmp.Or(strings.TrimSpace(category), "general"))
	r.drawText(img, label, margin, (bandHeight-glyphH*labelScale)/2, labelScale, bandText)

	lineH := glyphH*titleScale + 12
	y := bandHeight + margin
	for _, line := range r.wrap(doc.Title, Width-2*margin, titleScale, maxLines) {
		r.drawText(img, line, margin, y, titleScale, titleColor)
		y += lineH
	}

	footer := doc.Source.Publisher
	if doc.Source.PublishedAt != nil {
		footer += "  |  " + doc.Source.PublishedAt.Format("2 Jan 2006")
	}
	r.drawText(img, footer, margin, Height-margin-glyphH*footScale, footScale, mutedColor)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// CategoryColor returns the band colour for a category. Unknown categories
// get a stable colour from the palette.
func CategoryColor(category string) color.RGBA {
	key := strings.ToLower(strings.TrimSpace(category))
	if c, ok := categoryColors[key]; ok {
		return c
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return palette[h.Sum32()%uint32(len(palette))]
}

// drawText renders s at native size and scales it up onto dst with its top
// left corner at (x, y).
func (r *Renderer) drawText(dst *image.RGBA, s string, x, y, scale int, c color.Color) {
	s = printable(s)
	if s == "" {
		return
	}

	metrics := r.face.Metrics()
	w := font.MeasureString(r.face, s).Ceil()
	h := metrics.Height.Ceil()

	src := image.NewRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  src,
		Src:  image.NewUniform(c),
		Face: r.face,
		Dot:  fixed.P(0, metrics.Ascent.Ceil()),
	}
	d.DrawString(s)

	target := image.Rect(x, y, x+w*scale, y+h*scale)
	xdraw.NearestNeighbor.Scale(dst, target, src, src.Bounds(), xdraw.Over, nil)
}

// wrap breaks text into lines no wider than width pixels at the given scale.
// Text beyond limit lines is cut and marked with an ellipsis.
func (r *Renderer) wrap(text string, width, scale, limit int) []string {
	advance := font.MeasureString(r.face, "M").Ceil() * scale
	perLine := max(width/advance, 1)

	var lines []string
	var current string
	for _, word := range strings.Fields(printable(text)) {
		for len(word) > perLine {
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			lines = append(lines, word[:perLine])
			word = word[perLine:]
		}
		switch {
		case current == "":
			current = word
		case len(current)+1+len(word) <= perLine:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" {
		lines = append(lines, current)
	}

	if len(lines) > limit {
		lines = lines[:limit]
		last := lines[limit-1]
		if len(last)+3 > perLine {
			last = strings.TrimRight(last[:perLine-3], " ")
		}
		lines[limit-1] = last + "..."
	}
	return lines
}

// printable folds text to the ASCII range the bitmap face covers. Accents are
// dropped and other runes become '?'.
func printable(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
		case r == '‘' || r == '’':
			b.WriteByte('\'')
		case r == '“' || r == '”' || r == '«' || r == '»':
			b.WriteByte('"')
		case r == '–' || r == '—':
			b.WriteByte('-')
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		default:
			b.WriteByte('?')
		}
	}
	return strings.TrimSpace(b.String())
}
