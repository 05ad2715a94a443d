// Package export renders the source image with its mask applied.
package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// MaskedImage paints fill over src wherever the mask is opaque, scaled by
// the mask's alpha. Mask pixels outside src are ignored.
func MaskedImage(src, mask image.Image, fill color.Color) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, src, b.Min, draw.Src)
	if mask != nil {
		draw.DrawMask(out, out.Rect, image.NewUniform(fill), image.Point{}, mask, mask.Bounds().Min, draw.Over)
	}
	return out
}

// WritePDF places img on a single A4 page, scaled to fit the margins.
func WritePDF(w io.Writer, img image.Image, title string) error {
	bounds := img.Bounds()
	orientation := "P"
	if bounds.Dx() > bounds.Dy() {
		orientation = "L"
	}

	p := gofpdf.New(orientation, "mm", "A4", "")
	p.SetTitle(title, true)
	p.AddPage()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode page image: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	p.RegisterImageOptionsReader("mask", opts, &buf)

	const margin = 10.0
	pageW, pageH := p.GetPageSize()
	maxW, maxH := pageW-2*margin, pageH-2*margin-8
	wmm := maxW
	hmm := wmm * float64(bounds.Dy()) / float64(bounds.Dx())
	if hmm > maxH {
		hmm = maxH
		wmm = hmm * float64(bounds.Dx()) / float64(bounds.Dy())
	}

	p.SetFont("Helvetica", "", 10)
	p.Text(margin, margin+4, title)
	p.ImageOptions("mask", margin, margin+8, wmm, hmm, false, opts, 0, "")

	if err := p.Error(); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	return p.Output(w)
}
