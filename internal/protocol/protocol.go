package protocol

import (
	"encoding/json"
	"time"
)

// Message types pushed to watchers on /join.
const (
	TypeHello       = "hello"
	TypeMaskUpdated = "mask_updated"
)

// HeaderSession names the editor session that issued a request.
const HeaderSession = "X-Editor-Session"

// MaskEvent is sent to every watcher. Hello carries the current revision
// when a watcher connects; mask_updated follows every stored PUT.
type MaskEvent struct {
	Type     string    `json:"type"`
	Revision int64     `json:"revision"`
	Session  string    `json:"session,omitempty"`
	At       time.Time `json:"at"`
}

// UpdateResponse is the body of a successful PUT /mask.
type UpdateResponse struct {
	Revision int64 `json:"revision"`
}

func DecodeEvent(b []byte) (MaskEvent, error) {
	var ev MaskEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}
