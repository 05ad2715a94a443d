// Package editor implements the mask editing controller: a two-state
// pointer machine that erases strokes into a canvas and pushes the canvas
// to the mask server at the end of every stroke.
package editor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"sync"
	"time"

	"MaskBoard/internal/mask"
	"MaskBoard/internal/protocol"
	"MaskBoard/internal/state"
)

// Syncer moves the mask between the editor and the server.
type Syncer interface {
	FetchMask(ctx context.Context) (image.Image, error)
	// PutMask stores png and returns the server revision it became, or 0
	// when the server does not say.
	PutMask(ctx context.Context, png []byte) (int64, error)
}

// EventKind names the pointer events the editor listens to.
type EventKind int

const (
	MouseMove EventKind = iota
	MouseDown
	MouseUp
	MouseOut
)

func (k EventKind) String() string {
	switch k {
	case MouseMove:
		return "mousemove"
	case MouseDown:
		return "mousedown"
	case MouseUp:
		return "mouseup"
	case MouseOut:
		return "mouseout"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// EventSource is the surface pointer events come from, e.g. a widget.
type EventSource interface {
	AddEventListener(kind EventKind, fn func(p state.Point))
}

type Config struct {
	// LineThickness is the brush diameter in canvas pixels.
	LineThickness float64
	// Colour fills the canvas on Reset. It should be opaque, otherwise Reset
	// leaves a partly revealed mask.
	Colour color.Color
	// AnchorOnPress starts each stroke at the press point. When false the
	// first move after a press only anchors the path and nothing is erased
	// until the second move.
	AnchorOnPress bool
	// SyncTimeout bounds one PUT. Zero means 30s.
	SyncTimeout time.Duration
}

// Result reports the outcome of one mask synchronization.
type Result struct {
	Reason   string
	Bytes    int
	Err      error
	Revision int64
	At       time.Time
}

// State is a snapshot of the editor for display and tests.
type State struct {
	Painting      bool
	Colour        color.Color
	LineThickness float64
	Width, Height int
	StrokePoints  int
}

type Editor struct {
	cfg     Config
	canvas  *mask.Canvas
	sync    Syncer
	session *state.Session
	log     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	painting bool
	stroke   *state.Stroke
	// pending counts PUTs that have not returned yet.
	pending int
	// lastRev is the newest revision seen on the event stream, ownRev the
	// newest one this editor wrote. deferRev is a foreign revision whose
	// reload waits for the stroke or sync in progress.
	lastRev  int64
	ownRev   int64
	deferRev int64
	joined   bool

	// OnSync receives every synchronization result. Stroke syncs report
	// from their own goroutine.
	OnSync func(Result)
	// OnChange is called after the canvas pixels change.
	OnChange func()
}

type Option func(*Editor)

func WithLogger(l *log.Logger) Option {
	return func(e *Editor) { e.log = l }
}

func WithSession(s *state.Session) Option {
	return func(e *Editor) { e.session = s }
}

func New(cfg Config, canvas *mask.Canvas, syncer Syncer, opts ...Option) *Editor {
	if cfg.LineThickness <= 0 {
		cfg.LineThickness = 20
	}
	if cfg.Colour == nil {
		cfg.Colour = color.Black
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Editor{
		cfg:     cfg,
		canvas:  canvas,
		sync:    syncer,
		session: state.NewSession(),
		log:     log.New(io.Discard, "", 0),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Canvas() *mask.Canvas    { return e.canvas }
func (e *Editor) Session() *state.Session { return e.session }

// Init loads the server mask, falling back to Reset when that fails, then
// registers the pointer listeners on src. The listeners are registered
// whatever the outcome. The returned error is the fallback reset's sync
// failure, if any; the editor is usable either way.
func (e *Editor) Init(ctx context.Context, src EventSource) error {
	e.log.Printf("init %dx%d", e.canvas.Width(), e.canvas.Height())

	var syncErr error
	if err := e.FetchMask(ctx); err != nil {
		e.log.Printf("loading mask failed, resetting: %v", err)
		if syncErr = e.Reset(ctx); syncErr != nil {
			e.log.Printf("reset sync failed: %v", syncErr)
		}
	}

	src.AddEventListener(MouseMove, e.MouseMove)
	src.AddEventListener(MouseDown, e.MouseDown)
	src.AddEventListener(MouseUp, e.MouseUp)
	src.AddEventListener(MouseOut, func(state.Point) { e.MouseOut() })
	return syncErr
}

// State returns a snapshot of the editor state.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{
		Painting:      e.painting,
		Colour:        e.cfg.Colour,
		LineThickness: e.cfg.LineThickness,
		Width:         e.canvas.Width(),
		Height:        e.canvas.Height(),
	}
	if e.stroke != nil {
		st.StrokePoints = e.stroke.Len()
	}
	return st
}

// SetLineThickness changes the brush diameter for following moves.
func (e *Editor) SetLineThickness(w float64) {
	if w <= 0 {
		return
	}
	e.mu.Lock()
	e.cfg.LineThickness = w
	e.mu.Unlock()
}

func (e *Editor) MouseDown(p state.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.painting = true
	e.stroke = e.session.NewStroke(float32(e.cfg.LineThickness))
	if e.cfg.AnchorOnPress {
		e.stroke.Add(p)
	}
}

func (e *Editor) MouseMove(p state.Point) {
	e.mu.Lock()
	if !e.painting || e.stroke == nil {
		e.mu.Unlock()
		return
	}
	from, ok := e.stroke.Add(p)
	width := e.cfg.LineThickness
	colour := e.cfg.Colour
	e.mu.Unlock()

	if !ok {
		return
	}
	err := e.canvas.StrokeLine(float64(from.X), float64(from.Y), float64(p.X), float64(p.Y), width, colour, mask.Erase)
	if err != nil {
		e.log.Printf("erase segment: %v", err)
		return
	}
	e.changed()
}

// MouseUp ends the stroke and starts one asynchronous sync of the canvas
// as it is now. Pointer handling never waits for the PUT.
func (e *Editor) MouseUp(state.Point) {
	e.mu.Lock()
	if !e.painting {
		e.mu.Unlock()
		return
	}
	e.painting = false
	stroke := e.stroke
	e.stroke = nil
	e.pending++
	e.mu.Unlock()

	if stroke != nil {
		e.log.Printf("stroke %s finished with %d points in %v", stroke.ID, stroke.Len(), stroke.Bounds())
	}

	body, err := e.canvas.PNG()
	if err != nil {
		e.report(Result{Reason: "stroke", Err: err, At: time.Now()})
		e.settle(e.ctx, 0)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.put(e.ctx, "stroke", body)
	}()
}

// MouseOut abandons any stroke in progress without syncing it. A remote
// revision deferred by that stroke is loaded.
func (e *Editor) MouseOut() {
	e.mu.Lock()
	e.painting = false
	e.stroke = nil
	rev := e.takeDeferredLocked()
	e.mu.Unlock()

	if rev > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.reload(e.ctx, rev)
		}()
	}
}

// FetchMask draws the server mask onto the canvas at the origin.
func (e *Editor) FetchMask(ctx context.Context) error {
	img, err := e.sync.FetchMask(ctx)
	if err != nil {
		return err
	}
	e.canvas.Draw(img)
	e.log.Println("mask loaded")
	e.changed()
	return nil
}

// Reset masks the whole canvas with the fill colour and syncs it.
func (e *Editor) Reset(ctx context.Context) error {
	e.canvas.Fill(e.cfg.Colour, mask.Draw)
	e.changed()
	return e.send(ctx, "reset")
}

// Reveal erases the whole canvas and syncs it.
func (e *Editor) Reveal(ctx context.Context) error {
	e.canvas.Fill(e.cfg.Colour, mask.Erase)
	e.changed()
	return e.send(ctx, "reveal")
}

// SendMaskUpdate encodes the canvas as PNG and PUTs it once.
func (e *Editor) SendMaskUpdate(ctx context.Context) error {
	return e.send(ctx, "update")
}

func (e *Editor) send(ctx context.Context, reason string) error {
	e.mu.Lock()
	e.pending++
	e.mu.Unlock()

	body, err := e.canvas.PNG()
	if err != nil {
		e.report(Result{Reason: reason, Err: err, At: time.Now()})
		e.settle(ctx, 0)
		return err
	}
	return e.put(ctx, reason, body)
}

// put sends one body counted in pending and settles it.
func (e *Editor) put(ctx context.Context, reason string, body []byte) error {
	e.log.Printf("%s: mask encoded (%d bytes), sending", reason, len(body))
	putCtx, cancel := context.WithTimeout(ctx, e.cfg.SyncTimeout)
	rev, err := e.sync.PutMask(putCtx, body)
	cancel()
	if err != nil {
		e.log.Printf("%s: mask update failed: %v", reason, err)
		rev = 0
	} else {
		e.log.Printf("%s: mask update stored as revision %d", reason, rev)
	}
	e.report(Result{Reason: reason, Bytes: len(body), Err: err, Revision: rev, At: time.Now()})
	e.settle(ctx, rev)
	return err
}

// settle closes one pending sync. Once nothing is pending, a deferred
// foreign revision newer than our own writes is loaded.
func (e *Editor) settle(ctx context.Context, rev int64) {
	e.mu.Lock()
	e.pending--
	e.ownRev = max(e.ownRev, rev)
	deferred := e.takeDeferredLocked()
	e.mu.Unlock()

	if deferred > 0 {
		e.reload(ctx, deferred)
	}
}

// takeDeferredLocked returns the deferred revision to load now, or 0. A
// deferred revision older than our own latest write is dropped: the
// server already holds our canvas on top of it.
func (e *Editor) takeDeferredLocked() int64 {
	if e.painting || e.pending > 0 || e.deferRev == 0 {
		return 0
	}
	rev := e.deferRev
	e.deferRev = 0
	if rev <= e.ownRev {
		e.log.Printf("revision %d superseded by our revision %d", rev, e.ownRev)
		return 0
	}
	return rev
}

func (e *Editor) report(r Result) {
	if e.OnSync != nil {
		e.OnSync(r)
	}
}

func (e *Editor) changed() {
	if e.OnChange != nil {
		e.OnChange()
	}
}

// HandleEvent reacts to a server mask event. Revisions written by other
// sessions are loaded. While a stroke is drawn or one of our PUTs is in
// flight the reload waits, since loading then would drop pixels the
// server has not received yet. Foreign revisions older than our latest
// write are ignored.
//
// A hello starts a connection. On a reconnect it is treated like an
// update when the revision moved, and a lower revision means the server
// restarted its numbering.
func (e *Editor) HandleEvent(ctx context.Context, ev protocol.MaskEvent) {
	e.mu.Lock()
	switch ev.Type {
	case protocol.TypeHello:
		reconnect := e.joined
		e.joined = true
		if ev.Revision < e.lastRev {
			e.log.Printf("server revisions restarted at %d", ev.Revision)
			e.ownRev = 0
		} else if ev.Revision == e.lastRev || !reconnect {
			e.lastRev = max(e.lastRev, ev.Revision)
			e.mu.Unlock()
			return
		}
	case protocol.TypeMaskUpdated:
		if ev.Revision <= e.lastRev {
			e.mu.Unlock()
			return
		}
	default:
		e.mu.Unlock()
		return
	}
	e.lastRev = ev.Revision

	if ev.Session == e.session.ID {
		e.ownRev = max(e.ownRev, ev.Revision)
		e.mu.Unlock()
		return
	}
	if ev.Revision <= e.ownRev {
		e.mu.Unlock()
		return
	}
	if e.painting || e.pending > 0 {
		e.log.Printf("revision %d from %s arrived mid-sync, deferring reload", ev.Revision, ev.Session)
		e.deferRev = max(e.deferRev, ev.Revision)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.reload(ctx, ev.Revision)
}

// reload loads foreign revision rev unless a stroke or sync started while
// it was being fetched, in which case it is deferred again.
func (e *Editor) reload(ctx context.Context, rev int64) {
	img, err := e.sync.FetchMask(ctx)
	if err != nil {
		e.log.Printf("reload revision %d: %v", rev, err)
		return
	}

	e.mu.Lock()
	if e.painting || e.pending > 0 {
		e.deferRev = max(e.deferRev, rev)
		e.mu.Unlock()
		return
	}
	if rev <= e.ownRev {
		e.mu.Unlock()
		return
	}
	e.canvas.Replace(img)
	e.mu.Unlock()

	e.log.Printf("loaded revision %d", rev)
	e.changed()
}

// Wait blocks until every in-flight stroke sync has finished.
func (e *Editor) Wait() { e.wg.Wait() }

// Close cancels in-flight syncs and waits for them.
func (e *Editor) Close() {
	e.cancel()
	e.wg.Wait()
}
