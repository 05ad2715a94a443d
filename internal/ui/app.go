package ui

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"MaskBoard/internal/editor"
	"MaskBoard/internal/protocol"
)

// Watcher streams mask events and redials dropped connections, see
// client.Client.Follow.
type Watcher interface {
	Follow(ctx context.Context, retry time.Duration, fn func(protocol.MaskEvent)) error
}

type Options struct {
	Title      string
	Background image.Image
	Fill       color.Color
	Watcher    Watcher
}

// RunApp opens the editor window and blocks until it is closed.
func RunApp(ctx context.Context, ed *editor.Editor, opts Options) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	myApp := app.New()
	myWindow := myApp.NewWindow("MaskBoard - " + opts.Title)

	board := NewMaskWidget(ed.Canvas(), opts.Background)
	status := widget.NewLabel("Loading mask...")

	ed.OnChange = func() { fyne.Do(board.Refresh) }
	ed.OnSync = func(r editor.Result) {
		fyne.Do(func() {
			if r.Err != nil {
				status.SetText(fmt.Sprintf("Mask not saved (%s): %v", r.Reason, r.Err))
				return
			}
			status.SetText(fmt.Sprintf("Mask saved (%s, %d bytes)", r.Reason, r.Bytes))
		})
	}

	toolbar := NewToolbar(ctx, ed, status, func() {
		ExportPDF(myWindow, board, opts.Fill, opts.Title, status)
	})

	content := container.NewBorder(toolbar, status, nil, nil, container.NewCenter(board))
	myWindow.SetContent(content)
	myWindow.Resize(fyne.NewSize(float32(ed.Canvas().Width())+40, float32(ed.Canvas().Height())+100))

	go func() {
		if err := ed.Init(ctx, board); err != nil {
			log.Printf("[editor] init: %v", err)
		}
		fyne.Do(func() { status.SetText("Ready") })
		if opts.Watcher == nil {
			return
		}
		if err := opts.Watcher.Follow(ctx, time.Second, func(ev protocol.MaskEvent) { ed.HandleEvent(ctx, ev) }); err != nil {
			log.Printf("[editor] watch stopped: %v", err)
		}
	}()

	myWindow.ShowAndRun()
	ed.Close()
}
