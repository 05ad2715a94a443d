package state

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session identifies one running editor. The server echoes it back in mask
// events so an editor can tell its own writes from other editors' writes.
type Session struct {
	ID      string
	strokes uint64
}

func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// StrokeCount reports how many strokes have been started.
func (s *Session) StrokeCount() uint64 {
	return atomic.LoadUint64(&s.strokes)
}

// NewStroke starts an empty stroke owned by this session.
func (s *Session) NewStroke(width float32) *Stroke {
	atomic.AddUint64(&s.strokes, 1)
	return &Stroke{
		ID:      uuid.NewString(),
		Session: s.ID,
		Width:   width,
		Started: time.Now(),
	}
}
