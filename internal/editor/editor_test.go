package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MaskBoard/internal/mask"
	"MaskBoard/internal/protocol"
	"MaskBoard/internal/state"
)

// fakeSyncer serves the last PUT body back on fetch, like the real server.
type fakeSyncer struct {
	mu       sync.Mutex
	fetchErr error
	putErr   error
	stored   []byte
	puts     [][]byte
	fetches  int
	rev      int64
	gate     chan struct{}
}

func (f *fakeSyncer) FetchMask(context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.stored == nil {
		return nil, errors.New("404 Not Found")
	}
	return png.Decode(bytes.NewReader(f.stored))
}

func (f *fakeSyncer) PutMask(ctx context.Context, body []byte) (int64, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, body)
	if f.putErr != nil {
		return 0, f.putErr
	}
	f.stored = body
	f.rev++
	return f.rev, nil
}

func (f *fakeSyncer) store(body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = body
}

func (f *fakeSyncer) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSyncer) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeSyncer) lastPut(t *testing.T) image.Image {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.puts)
	img, err := png.Decode(bytes.NewReader(f.puts[len(f.puts)-1]))
	require.NoError(t, err)
	return img
}

// fakeSource records listeners and lets tests fire events.
type fakeSource struct {
	listeners map[EventKind][]func(state.Point)
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: make(map[EventKind][]func(state.Point))}
}

func (s *fakeSource) AddEventListener(kind EventKind, fn func(state.Point)) {
	s.listeners[kind] = append(s.listeners[kind], fn)
}

func (s *fakeSource) fire(kind EventKind, x, y float32) {
	for _, fn := range s.listeners[kind] {
		fn(state.Point{X: x, Y: y})
	}
}

func alphaAt(img image.Image, x, y int) uint8 {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).A
}

func everyAlpha(img image.Image, want uint8) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if alphaAt(img, x, y) != want {
				return false
			}
		}
	}
	return true
}

func opaquePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	c := mask.New(w, h)
	c.Fill(color.Black, mask.Draw)
	b, err := c.PNG()
	require.NoError(t, err)
	return b
}

func newEditor(t *testing.T, w, h int, sy Syncer, cfg Config) *Editor {
	t.Helper()
	e := New(cfg, mask.New(w, h), sy)
	t.Cleanup(e.Close)
	return e
}

func TestInitFallsBackToResetOnce(t *testing.T) {
	sy := &fakeSyncer{fetchErr: errors.New("404 Not Found")}
	e := newEditor(t, 50, 40, sy, Config{LineThickness: 20, AnchorOnPress: true})
	src := newFakeSource()

	require.NoError(t, e.Init(context.Background(), src))

	assert.Equal(t, 1, sy.putCount(), "reset pushes exactly once")
	assert.True(t, everyAlpha(sy.lastPut(t), 255))
	assert.True(t, everyAlpha(e.Canvas().Snapshot(), 255))
	for _, k := range []EventKind{MouseMove, MouseDown, MouseUp, MouseOut} {
		assert.Len(t, src.listeners[k], 1, k.String())
	}
}

func TestInitMalformedMaskAlsoResets(t *testing.T) {
	sy := &fakeSyncer{stored: []byte("garbage")}
	e := newEditor(t, 10, 10, sy, Config{})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))
	assert.Equal(t, 1, sy.putCount())
	assert.Len(t, src.listeners, 4)
}

func TestInitLoadsExistingMask(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 30, 30)}
	e := newEditor(t, 30, 30, sy, Config{})
	require.NoError(t, e.Init(context.Background(), newFakeSource()))

	assert.Equal(t, 0, sy.putCount())
	assert.True(t, everyAlpha(e.Canvas().Snapshot(), 255))
}

func TestInitReportsFailedFallbackButStillListens(t *testing.T) {
	sy := &fakeSyncer{fetchErr: errors.New("connection refused"), putErr: errors.New("500")}
	e := newEditor(t, 10, 10, sy, Config{})
	src := newFakeSource()

	err := e.Init(context.Background(), src)
	assert.Error(t, err)
	assert.Len(t, src.listeners, 4)
	assert.True(t, everyAlpha(e.Canvas().Snapshot(), 255), "canvas is reset even when the push fails")
}

func TestStrokeSyncsOnceOnMouseUp(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 500, 500)}
	e := newEditor(t, 500, 500, sy, Config{LineThickness: 20, AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))

	src.fire(MouseDown, 100, 100)
	assert.True(t, e.State().Painting)
	src.fire(MouseMove, 150, 100)
	assert.Equal(t, 0, sy.putCount(), "no sync before release")
	src.fire(MouseUp, 150, 100)
	e.Wait()

	require.Equal(t, 1, sy.putCount())
	img := sy.lastPut(t)
	assert.Equal(t, uint8(0), alphaAt(img, 100, 100))
	assert.Equal(t, uint8(0), alphaAt(img, 125, 100))
	assert.Equal(t, uint8(0), alphaAt(img, 125, 92))
	assert.Equal(t, uint8(0), alphaAt(img, 150, 108))
	assert.Equal(t, uint8(255), alphaAt(img, 125, 130))
	assert.Equal(t, uint8(255), alphaAt(img, 125, 70))
	assert.Equal(t, uint8(255), alphaAt(img, 300, 300))
	assert.False(t, e.State().Painting)
}

func TestStrokeBodyIsCanvasAtRelease(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 200, 200), gate: make(chan struct{})}
	e := newEditor(t, 200, 200, sy, Config{LineThickness: 10, AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))

	src.fire(MouseDown, 20, 20)
	src.fire(MouseMove, 60, 20)
	src.fire(MouseUp, 60, 20)

	// Keep editing while the PUT is still blocked.
	src.fire(MouseDown, 20, 150)
	src.fire(MouseMove, 60, 150)
	src.fire(MouseOut, 60, 150)

	close(sy.gate)
	e.Wait()

	require.Equal(t, 1, sy.putCount())
	img := sy.lastPut(t)
	assert.Equal(t, uint8(0), alphaAt(img, 40, 20))
	assert.Equal(t, uint8(255), alphaAt(img, 40, 150), "later edits are not in the body")
}

func TestMouseOutAbandonsStrokeWithoutSync(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 100, 100)}
	e := newEditor(t, 100, 100, sy, Config{LineThickness: 10, AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))

	src.fire(MouseDown, 10, 10)
	src.fire(MouseMove, 50, 10)
	src.fire(MouseMove, 80, 10)
	src.fire(MouseOut, 80, 10)
	e.Wait()

	assert.Equal(t, 0, sy.putCount())
	assert.False(t, e.State().Painting)
	assert.Zero(t, e.State().StrokePoints)

	// A release after leaving is an idle release.
	src.fire(MouseUp, 80, 10)
	e.Wait()
	assert.Equal(t, 0, sy.putCount())
}

func TestMoveWhileIdleIsNoop(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 100, 100)}
	e := newEditor(t, 100, 100, sy, Config{LineThickness: 10, AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))

	src.fire(MouseMove, 10, 10)
	src.fire(MouseMove, 90, 90)
	assert.True(t, everyAlpha(e.Canvas().Snapshot(), 255))
}

func TestWithoutAnchorFirstMoveOnlyAnchors(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 300, 200)}
	e := newEditor(t, 300, 200, sy, Config{LineThickness: 20, AnchorOnPress: false})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))

	src.fire(MouseDown, 100, 100)
	src.fire(MouseMove, 150, 100)
	c := e.Canvas()
	assert.Equal(t, uint8(255), c.Alpha(125, 100), "press point is not part of the path")
	assert.Equal(t, uint8(255), c.Alpha(150, 100))

	src.fire(MouseMove, 200, 100)
	assert.Equal(t, uint8(0), c.Alpha(175, 100))
	assert.Equal(t, uint8(255), c.Alpha(125, 100))
}

func TestResetRoundTripsOpaque(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 60, 40)}
	e := newEditor(t, 60, 40, sy, Config{LineThickness: 10, AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))
	src.fire(MouseDown, 5, 20)
	src.fire(MouseMove, 55, 20)
	src.fire(MouseUp, 55, 20)
	e.Wait()

	require.NoError(t, e.Reset(context.Background()))

	fresh := newEditor(t, 60, 40, sy, Config{})
	require.NoError(t, fresh.FetchMask(context.Background()))
	assert.True(t, everyAlpha(fresh.Canvas().Snapshot(), 255))
}

func TestRevealRoundTripsTransparent(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 60, 40)}
	e := newEditor(t, 60, 40, sy, Config{})
	require.NoError(t, e.Init(context.Background(), newFakeSource()))

	require.NoError(t, e.Reveal(context.Background()))
	assert.True(t, everyAlpha(sy.lastPut(t), 0))

	fresh := newEditor(t, 60, 40, sy, Config{})
	require.NoError(t, fresh.FetchMask(context.Background()))
	assert.True(t, everyAlpha(fresh.Canvas().Snapshot(), 0))
}

func TestFailedPutIsReported(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 40, 40)}
	e := newEditor(t, 40, 40, sy, Config{LineThickness: 6, AnchorOnPress: true})

	var (
		mu      sync.Mutex
		results []Result
	)
	e.OnSync = func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))

	sy.mu.Lock()
	sy.putErr = errors.New("503 Service Unavailable")
	sy.mu.Unlock()

	src.fire(MouseDown, 5, 5)
	src.fire(MouseMove, 30, 5)
	src.fire(MouseUp, 30, 5)
	e.Wait()

	assert.Error(t, e.SendMaskUpdate(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	assert.Equal(t, "stroke", results[0].Reason)
	assert.Error(t, results[0].Err)
	assert.Positive(t, results[0].Bytes)
	assert.Equal(t, "update", results[1].Reason)
}

func TestOverlappingStrokeSyncsDoNotBlock(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 100, 100), gate: make(chan struct{})}
	e := newEditor(t, 100, 100, sy, Config{LineThickness: 8, AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))

	done := make(chan struct{})
	go func() {
		src.fire(MouseDown, 10, 10)
		src.fire(MouseMove, 90, 10)
		src.fire(MouseUp, 90, 10)
		src.fire(MouseDown, 10, 50)
		src.fire(MouseMove, 90, 50)
		src.fire(MouseUp, 90, 50)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pointer handling blocked on an in-flight sync")
	}

	close(sy.gate)
	e.Wait()
	require.Equal(t, 2, sy.putCount())

	// Whichever body arrived last is what the store keeps.
	sy.mu.Lock()
	last := sy.puts[len(sy.puts)-1]
	stored := sy.stored
	sy.mu.Unlock()
	assert.Equal(t, last, stored)
}

func TestHandleEventReloadsForeignRevisions(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 20, 20)}
	e := newEditor(t, 20, 20, sy, Config{})
	require.NoError(t, e.Init(context.Background(), newFakeSource()))
	require.Equal(t, 1, sy.fetches)

	ctx := context.Background()
	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeHello, Revision: 1})
	assert.Equal(t, 1, sy.fetches, "hello does not reload")

	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 2, Session: e.Session().ID})
	assert.Equal(t, 1, sy.fetches, "own write does not reload")

	// Another editor revealed everything.
	revealed := mask.New(20, 20)
	body, err := revealed.PNG()
	require.NoError(t, err)
	sy.mu.Lock()
	sy.stored = body
	sy.mu.Unlock()

	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 3, Session: "other"})
	assert.Equal(t, 2, sy.fetches)
	assert.True(t, everyAlpha(e.Canvas().Snapshot(), 0))

	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 3, Session: "other"})
	assert.Equal(t, 2, sy.fetches, "stale revision ignored")
}

func TestHandleEventSkipsReloadMidStroke(t *testing.T) {
	sy := &fakeSyncer{stored: opaquePNG(t, 20, 20)}
	e := newEditor(t, 20, 20, sy, Config{AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(context.Background(), src))

	src.fire(MouseDown, 1, 1)
	e.HandleEvent(context.Background(), protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 9, Session: "other"})
	assert.Equal(t, 1, sy.fetchCount())

	// Leaving without a stroke to sync loads the deferred revision.
	src.fire(MouseOut, 0, 0)
	e.Wait()
	assert.Equal(t, 2, sy.fetchCount())
}

func TestForeignRevisionDuringSyncKeepsStroke(t *testing.T) {
	ctx := context.Background()
	sy := &fakeSyncer{stored: opaquePNG(t, 60, 20), rev: 5, gate: make(chan struct{})}
	e := newEditor(t, 60, 20, sy, Config{LineThickness: 6, AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(ctx, src))

	src.fire(MouseDown, 20, 10)
	src.fire(MouseMove, 40, 10)
	src.fire(MouseUp, 40, 10)
	require.Equal(t, uint8(0), e.Canvas().Alpha(30, 10))

	// Another editor's write lands before ours.
	sy.store(opaquePNG(t, 60, 20))
	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 5, Session: "other"})
	assert.Equal(t, uint8(0), e.Canvas().Alpha(30, 10), "reload waits for the pending sync")

	close(sy.gate)
	e.Wait()
	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 6, Session: e.Session().ID})
	assert.Equal(t, 1, sy.fetchCount(), "revision 5 is older than our revision 6")
	assert.Equal(t, uint8(0), e.Canvas().Alpha(30, 10))

	src.fire(MouseDown, 5, 3)
	src.fire(MouseMove, 10, 3)
	src.fire(MouseUp, 10, 3)
	e.Wait()
	last := sy.lastPut(t)
	assert.Equal(t, uint8(0), alphaAt(last, 30, 10), "first stroke still on the server")
	assert.Equal(t, uint8(0), alphaAt(last, 7, 3))
}

func TestNewerForeignRevisionLoadsAfterSync(t *testing.T) {
	ctx := context.Background()
	sy := &fakeSyncer{stored: opaquePNG(t, 40, 40), gate: make(chan struct{})}
	e := newEditor(t, 40, 40, sy, Config{AnchorOnPress: true})
	src := newFakeSource()
	require.NoError(t, e.Init(ctx, src))

	src.fire(MouseDown, 10, 10)
	src.fire(MouseMove, 20, 10)
	src.fire(MouseUp, 20, 10)

	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 4, Session: "other"})
	assert.Equal(t, 1, sy.fetchCount())

	close(sy.gate)
	e.Wait()
	assert.Equal(t, 2, sy.fetchCount(), "revision 4 is newer than our revision 1")
}

func TestOwnPutRevisionSupersedesLateForeignEvent(t *testing.T) {
	ctx := context.Background()
	sy := &fakeSyncer{stored: opaquePNG(t, 20, 20), rev: 10}
	e := newEditor(t, 20, 20, sy, Config{})
	require.NoError(t, e.Init(ctx, newFakeSource()))

	require.NoError(t, e.SendMaskUpdate(ctx))
	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 9, Session: "other"})
	assert.Equal(t, 1, sy.fetchCount())
}

func TestHelloAfterReconnect(t *testing.T) {
	ctx := context.Background()
	sy := &fakeSyncer{stored: opaquePNG(t, 20, 20), rev: 3}
	e := newEditor(t, 20, 20, sy, Config{})
	require.NoError(t, e.Init(ctx, newFakeSource()))

	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeHello, Revision: 3})
	require.NoError(t, e.SendMaskUpdate(ctx))
	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 4, Session: e.Session().ID})

	// Same revision on reconnect: nothing was missed.
	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeHello, Revision: 4, Session: e.Session().ID})
	assert.Equal(t, 1, sy.fetchCount())

	// The server restarted and counts from 1 again.
	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeHello, Revision: 1, Session: "other"})
	assert.Equal(t, 2, sy.fetchCount())
	e.HandleEvent(ctx, protocol.MaskEvent{Type: protocol.TypeMaskUpdated, Revision: 2, Session: "other"})
	assert.Equal(t, 3, sy.fetchCount(), "numbering below our old revision is accepted after restart")
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "mousedown", MouseDown.String())
	assert.Equal(t, "mouseout", MouseOut.String())
}
