package ui

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"MaskBoard/internal/editor"
)

// NewToolbar builds the reset/reveal/export actions and the brush slider.
func NewToolbar(ctx context.Context, ed *editor.Editor, status *widget.Label, onExport func()) fyne.CanvasObject {
	// run keeps network calls off the UI goroutine.
	run := func(name string, op func(context.Context) error) {
		status.SetText(name + "...")
		go func() {
			err := op(ctx)
			fyne.Do(func() {
				if err != nil {
					status.SetText(fmt.Sprintf("%s failed: %v", name, err))
					return
				}
				status.SetText(name + " saved")
			})
		}()
	}

	tb := widget.NewToolbar(
		widget.NewToolbarAction(theme.ViewRefreshIcon(), func() { run("Reset", ed.Reset) }),
		widget.NewToolbarAction(theme.VisibilityIcon(), func() { run("Reveal", ed.Reveal) }),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.DocumentSaveIcon(), onExport),
	)

	// --- Brush Size Slider ---
	sizeLabel := widget.NewLabel("")
	brush := widget.NewSlider(1.0, 100.0)
	brush.OnChanged = func(val float64) {
		ed.SetLineThickness(val)
		sizeLabel.SetText(fmt.Sprintf("%.0f px", val))
	}
	brush.SetValue(ed.State().LineThickness)
	sliderContainer := container.New(layout.NewGridWrapLayout(fyne.NewSize(150, 35)), brush)

	return container.NewHBox(
		widget.NewLabel("Mask:"),
		tb,
		widget.NewSeparator(),
		widget.NewLabel("Brush:"),
		sliderContainer,
		sizeLabel,
		layout.NewSpacer(),
	)
}
