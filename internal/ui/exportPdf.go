package ui

import (
	"fmt"
	"image/color"
	"log"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"MaskBoard/internal/export"
)

// ExportPDF asks for a destination and writes the image with the current
// mask applied.
func ExportPDF(win fyne.Window, w *MaskWidget, fill color.Color, title string, status *widget.Label) {
	dialog.ShowFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil {
			status.SetText(fmt.Sprintf("Export failed: %v", err))
			return
		}
		if writer == nil {
			return // cancelled
		}
		defer func() {
			if err := writer.Close(); err != nil {
				log.Printf("Error closing writer: %v", err)
			}
		}()

		if w.background == nil {
			status.SetText("Nothing to export")
			return
		}
		img := export.MaskedImage(w.background, w.mask.Snapshot(), fill)
		if err := export.WritePDF(writer, img, title); err != nil {
			log.Printf("ExportPDF: %v", err)
			status.SetText("Error writing PDF")
			return
		}
		status.SetText("Exported " + writer.URI().Name())
	}, win)
}
