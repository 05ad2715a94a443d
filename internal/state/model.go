package state

import (
	"image"
	"math"
	"time"
)

type Point struct{ X, Y float32 }

// Stroke is one erase gesture, from press to release or leave.
type Stroke struct {
	ID      string
	Session string
	Points  []Point
	Width   float32
	Started time.Time
}

// Add appends p and reports the segment it closes. ok is false for the
// first point of a stroke, which only anchors the path.
func (s *Stroke) Add(p Point) (from Point, ok bool) {
	if n := len(s.Points); n > 0 {
		from, ok = s.Points[n-1], true
	}
	s.Points = append(s.Points, p)
	return from, ok
}

// Last returns the most recent point, if any.
func (s *Stroke) Last() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Len reports the number of sampled points.
func (s *Stroke) Len() int { return len(s.Points) }

// Bounds returns the pixel rectangle the stroke can have touched: the box
// around its points grown by half the brush width.
func (s *Stroke) Bounds() image.Rectangle {
	if len(s.Points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := s.Points[0].X, s.Points[0].Y
	maxX, maxY := minX, minY
	for _, p := range s.Points[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	pad := float64(s.Width) / 2
	return image.Rect(
		int(math.Floor(float64(minX)-pad)),
		int(math.Floor(float64(minY)-pad)),
		int(math.Ceil(float64(maxX)+pad)),
		int(math.Ceil(float64(maxY)+pad)),
	)
}
