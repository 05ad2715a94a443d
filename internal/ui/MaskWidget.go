package ui

import (
	"image"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"MaskBoard/internal/editor"
	"MaskBoard/internal/mask"
	"MaskBoard/internal/state"
)

// MaskWidget shows the source image under the mask canvas and forwards
// pointer events, in canvas pixel coordinates, to registered listeners.
type MaskWidget struct {
	widget.BaseWidget

	mask       *mask.Canvas
	background image.Image
	// MaskOpacity scales how strongly the mask hides the image on screen.
	MaskOpacity float64

	mu        sync.RWMutex
	listeners map[editor.EventKind][]func(state.Point)
	raster    *canvas.Raster
}

var _ fyne.Widget = (*MaskWidget)(nil)
var _ desktop.Mouseable = (*MaskWidget)(nil)
var _ desktop.Hoverable = (*MaskWidget)(nil)
var _ editor.EventSource = (*MaskWidget)(nil)

func NewMaskWidget(m *mask.Canvas, background image.Image) *MaskWidget {
	w := &MaskWidget{
		mask:        m,
		background:  background,
		MaskOpacity: 0.85,
		listeners:   make(map[editor.EventKind][]func(state.Point)),
	}
	w.ExtendBaseWidget(w)
	return w
}

// AddEventListener registers fn for kind. Listeners stay for the widget's
// lifetime.
func (w *MaskWidget) AddEventListener(kind editor.EventKind, fn func(state.Point)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners[kind] = append(w.listeners[kind], fn)
}

func (w *MaskWidget) emit(kind editor.EventKind, pos fyne.Position) {
	w.mu.RLock()
	fns := append([]func(state.Point){}, w.listeners[kind]...)
	w.mu.RUnlock()

	p := w.toCanvas(pos)
	for _, fn := range fns {
		fn(p)
	}
}

// toCanvas maps a widget position to canvas pixels; the raster is
// stretched over the whole widget.
func (w *MaskWidget) toCanvas(pos fyne.Position) state.Point {
	size := w.Size()
	if size.Width <= 0 || size.Height <= 0 {
		return state.Point{X: pos.X, Y: pos.Y}
	}
	return state.Point{
		X: pos.X * float32(w.mask.Width()) / size.Width,
		Y: pos.Y * float32(w.mask.Height()) / size.Height,
	}
}

func (w *MaskWidget) MouseDown(e *desktop.MouseEvent) {
	if e.Button == desktop.MouseButtonPrimary {
		w.emit(editor.MouseDown, e.Position)
	}
}

func (w *MaskWidget) MouseUp(e *desktop.MouseEvent) {
	if e.Button == desktop.MouseButtonPrimary {
		w.emit(editor.MouseUp, e.Position)
	}
}

func (w *MaskWidget) MouseMoved(e *desktop.MouseEvent) {
	w.emit(editor.MouseMove, e.Position)
}

func (w *MaskWidget) MouseOut() {
	w.emit(editor.MouseOut, fyne.Position{})
}

func (w *MaskWidget) MouseIn(*desktop.MouseEvent) {}

func (w *MaskWidget) CreateRenderer() fyne.WidgetRenderer {
	w.raster = canvas.NewRaster(w.compose)
	w.raster.ScaleMode = canvas.ImageScalePixels
	return &maskWidgetRenderer{widget: w}
}

type maskWidgetRenderer struct {
	widget *MaskWidget
}

func (r *maskWidgetRenderer) Objects() []fyne.CanvasObject {
	return []fyne.CanvasObject{r.widget.raster}
}

func (r *maskWidgetRenderer) Refresh() {
	r.widget.raster.Refresh()
}

func (r *maskWidgetRenderer) Layout(size fyne.Size) {
	r.widget.raster.Resize(size)
}

func (r *maskWidgetRenderer) MinSize() fyne.Size {
	return fyne.NewSize(float32(r.widget.mask.Width()), float32(r.widget.mask.Height()))
}

func (r *maskWidgetRenderer) Destroy() {}
