// Package mask holds the raster surface a mask is edited on.
//
// A Canvas is a non-premultiplied RGBA pixel buffer. Its alpha channel is
// the mask: opaque pixels are masked, transparent pixels are revealed.
// Drawing follows two composite modes, source-over (Draw) and
// destination-out (Erase).
package mask

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/gogpu/gg"
)

// Mode selects how new pixels combine with the canvas.
type Mode int

const (
	// Draw paints over existing pixels (source-over).
	Draw Mode = iota
	// Erase clears existing pixels where the source covers them (destination-out).
	Erase
)

func (m Mode) String() string {
	switch m {
	case Draw:
		return "draw"
	case Erase:
		return "erase"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Canvas is safe for concurrent use. Renderers read snapshots while the
// editor mutates it.
type Canvas struct {
	mu  sync.RWMutex
	img *image.NRGBA
}

// New returns a fully transparent canvas of the given size.
func New(width, height int) *Canvas {
	return &Canvas{img: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

func (c *Canvas) Width() int  { return c.img.Rect.Dx() }
func (c *Canvas) Height() int { return c.img.Rect.Dy() }

func (c *Canvas) Bounds() image.Rectangle { return c.img.Rect }

// Fill covers the whole canvas. In Erase mode the colour is irrelevant and
// every pixel ends up transparent.
func (c *Canvas) Fill(col color.Color, mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mode == Erase {
		clear(c.img.Pix)
		return
	}
	draw.Draw(c.img, c.img.Rect, image.NewUniform(col), image.Point{}, draw.Over)
}

// Clear makes every pixel transparent.
func (c *Canvas) Clear() {
	c.Fill(color.Transparent, Erase)
}

// StrokeLine strokes the segment (x0,y0)-(x1,y1) with a round brush of the
// given diameter. A zero-length segment stamps a single dot.
func (c *Canvas) StrokeLine(x0, y0, x1, y1, width float64, col color.Color, mode Mode) error {
	if width <= 0 {
		return fmt.Errorf("stroke width must be positive, got %v", width)
	}
	cov, err := c.coverage(x0, y0, x1, y1, width)
	if err != nil {
		return err
	}
	if cov == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch mode {
	case Erase:
		destinationOut(c.img, cov)
	default:
		draw.DrawMask(c.img, cov.Rect, image.NewUniform(col), image.Point{}, cov, cov.Rect.Min, draw.Over)
	}
	return nil
}

// coverage rasterizes the brush footprint into an alpha image positioned in
// canvas coordinates and clipped to the canvas. It returns nil when the
// footprint lies entirely outside.
func (c *Canvas) coverage(x0, y0, x1, y1, width float64) (*image.Alpha, error) {
	r := width / 2
	minX := int(math.Floor(math.Min(x0, x1) - r - 1))
	minY := int(math.Floor(math.Min(y0, y1) - r - 1))
	maxX := int(math.Ceil(math.Max(x0, x1) + r + 1))
	maxY := int(math.Ceil(math.Max(y0, y1) + r + 1))

	area := image.Rect(minX, minY, maxX, maxY).Intersect(c.img.Rect)
	if area.Empty() {
		return nil, nil
	}

	// Rasterize in a scratch context covering only the footprint box.
	box := image.Rect(minX, minY, maxX, maxY)
	dc := gg.NewContext(box.Dx(), box.Dy())
	defer dc.Close()
	dc.SetRGBA(1, 1, 1, 1)

	ox, oy := float64(box.Min.X), float64(box.Min.Y)
	if x0 == x1 && y0 == y1 {
		dc.DrawCircle(x0-ox, y0-oy, r)
		if err := dc.Fill(); err != nil {
			return nil, fmt.Errorf("rasterize dot: %w", err)
		}
	} else {
		dc.SetLineWidth(width)
		dc.SetLineCap(gg.LineCapRound)
		dc.MoveTo(x0-ox, y0-oy)
		dc.LineTo(x1-ox, y1-oy)
		if err := dc.Stroke(); err != nil {
			return nil, fmt.Errorf("rasterize stroke: %w", err)
		}
	}

	src := dc.Image()
	cov := image.NewAlpha(area)
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			_, _, _, a := src.At(x-box.Min.X, y-box.Min.Y).RGBA()
			cov.SetAlpha(x, y, color.Alpha{A: uint8(a >> 8)})
		}
	}
	return cov, nil
}

// destinationOut scales destination alpha by the inverse source coverage.
func destinationOut(dst *image.NRGBA, cov *image.Alpha) {
	r := cov.Rect.Intersect(dst.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			a := uint32(cov.AlphaAt(x, y).A)
			if a == 0 {
				continue
			}
			i := dst.PixOffset(x, y)
			da := uint32(dst.Pix[i+3])
			dst.Pix[i+3] = uint8((da*(255-a) + 127) / 255)
		}
	}
}

// Draw composites img over the canvas with its top-left corner at the origin.
func (c *Canvas) Draw(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.img, c.img.Rect, img, img.Bounds().Min, draw.Over)
}

// Replace clears the canvas and draws img at the origin.
func (c *Canvas) Replace(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.img.Pix)
	draw.Draw(c.img, c.img.Rect, img, img.Bounds().Min, draw.Over)
}

// Alpha reports the mask value at (x, y). Out of range points read as 0.
func (c *Canvas) Alpha(x, y int) uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !image.Pt(x, y).In(c.img.Rect) {
		return 0
	}
	return c.img.Pix[c.img.PixOffset(x, y)+3]
}

// Snapshot returns a copy of the current pixels.
func (c *Canvas) Snapshot() *image.NRGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewNRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}

// EncodePNG writes the canvas as PNG.
func (c *Canvas) EncodePNG(w io.Writer) error {
	return png.Encode(w, c.Snapshot())
}

// PNG returns the canvas encoded as PNG.
func (c *Canvas) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a PNG or JPEG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	return img, nil
}
