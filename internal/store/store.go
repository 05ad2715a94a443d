// Package store keeps the server's copy of the mask.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNoMask is returned by Load when nothing has been stored yet.
var ErrNoMask = errors.New("no mask stored")

// Revision describes one stored mask.
type Revision struct {
	Number  int64
	Session string
	At      time.Time
	Size    int
}

// Store holds the latest mask PNG. Save always replaces: the last body to
// arrive wins.
type Store interface {
	Load(ctx context.Context) ([]byte, Revision, error)
	Save(ctx context.Context, png []byte, session string) (Revision, error)
	Close() error
}
