package ui

import (
	"image"
	"image/color"
	"image/draw"
)

// compose renders the background with the mask over it at MaskOpacity.
// fyne scales the result to the raster's pixel size.
func (w *MaskWidget) compose(_, _ int) image.Image {
	m := w.mask.Snapshot()
	out := image.NewNRGBA(m.Rect)

	if w.background != nil {
		draw.Draw(out, out.Rect, w.background, w.background.Bounds().Min, draw.Src)
	} else {
		draw.Draw(out, out.Rect, image.NewUniform(color.NRGBA{R: 245, G: 246, B: 248, A: 255}), image.Point{}, draw.Src)
	}

	opacity := w.MaskOpacity
	if opacity < 0 {
		opacity = 0
	} else if opacity > 1 {
		opacity = 1
	}
	veil := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
	draw.DrawMask(out, out.Rect, m, image.Point{}, veil, image.Point{}, draw.Over)
	return out
}
