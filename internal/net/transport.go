package net

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Peer is one connected watcher.
type Peer struct {
	Conn    *websocket.Conn
	Session string
	out     chan []byte
}

// PeerManager is used by the server to fan mask events out to every
// connected editor.
type PeerManager struct {
	peers map[*Peer]struct{}
	mu    sync.RWMutex
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewPeerManager(logger *log.Logger) *PeerManager {
	return &PeerManager{
		peers: make(map[*Peer]struct{}),
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (pm *PeerManager) Add(peer *Peer) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.peers[peer] = struct{}{}
	pm.log.Printf("watcher joined from %s (session %q)", peer.Conn.RemoteAddr(), peer.Session)
}

func (pm *PeerManager) Remove(peer *Peer) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, ok := pm.peers[peer]; !ok {
		return
	}
	delete(pm.peers, peer)
	close(peer.out)
	pm.log.Printf("watcher left from %s", peer.Conn.RemoteAddr())
}

// Len reports the number of connected watchers.
func (pm *PeerManager) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.peers)
}

// Broadcast queues data for every peer. A peer whose queue is full misses
// the message; the next event carries the newer revision anyway.
func (pm *PeerManager) Broadcast(data []byte) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for p := range pm.peers {
		select {
		case p.out <- data:
		default:
			pm.log.Printf("watcher %s is slow, dropping event", p.Conn.RemoteAddr())
		}
	}
}

// send queues data for one registered peer.
func (pm *PeerManager) send(p *Peer, data []byte) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if _, ok := pm.peers[p]; !ok {
		return
	}
	select {
	case p.out <- data:
	default:
		pm.log.Printf("watcher %s is slow, dropping event", p.Conn.RemoteAddr())
	}
}

// Handler upgrades the request and keeps the peer registered until the
// connection closes. greet, if set, produces the first message sent.
func (pm *PeerManager) Handler(sessionHeader string, greet func() []byte) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := pm.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			pm.log.Printf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Register before taking the greeting so no broadcast falls between
		// the two. A broadcast racing the greeting may arrive first.
		peer := &Peer{Conn: conn, Session: r.Header.Get(sessionHeader), out: make(chan []byte, 16)}
		pm.Add(peer)
		defer pm.Remove(peer)
		if greet != nil {
			pm.send(peer, greet())
		}

		// Writer goroutine.
		go func() {
			for b := range peer.out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					_ = conn.Close()
					return
				}
			}
		}()

		// Watchers never send; reading only notices the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
