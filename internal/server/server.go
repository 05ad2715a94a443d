// Package server serves a source image and the mask laid over it.
//
//	GET  /image       source image
//	GET  /mask        current mask PNG, 404 when none is stored
//	PUT  /mask        replace the mask with a PNG body
//	GET  /join        websocket stream of mask events
//	GET  /export.pdf  source image with the mask applied
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"MaskBoard/internal/export"
	"MaskBoard/internal/mask"
	mnet "MaskBoard/internal/net"
	"MaskBoard/internal/protocol"
	"MaskBoard/internal/store"
)

// maxMaskBytes bounds a PUT body.
const maxMaskBytes = 64 << 20

type Options struct {
	StaticDir  string
	Gzip       bool
	FillColour color.Color
}

type Server struct {
	image *ImageConfig
	store store.Store
	peers *mnet.PeerManager
	opts  Options
	log   *log.Logger

	mu  sync.Mutex
	rev store.Revision
}

func New(img *ImageConfig, st store.Store, opts Options, logger *log.Logger) *Server {
	if opts.FillColour == nil {
		opts.FillColour = color.Black
	}
	s := &Server{
		image: img,
		store: st,
		peers: mnet.NewPeerManager(logger),
		opts:  opts,
		log:   logger,
	}
	if _, rev, err := st.Load(context.Background()); err == nil {
		s.rev = rev
	}
	return s
}

// Revision returns the last stored revision.
func (s *Server) Revision() store.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Watchers reports how many /join connections are open.
func (s *Server) Watchers() int { return s.peers.Len() }

func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /image", s.ImageHandler)
	api.HandleFunc("GET /mask", s.GetMask)
	api.HandleFunc("PUT /mask", s.UpdateMask)
	api.HandleFunc("GET /export.pdf", s.ExportHandler)
	if s.opts.StaticDir != "" {
		api.Handle("GET /", http.FileServer(http.Dir(s.opts.StaticDir)))
	}

	var h http.Handler = api
	if s.opts.Gzip {
		h = gzhttp.GzipHandler(api)
	}

	// The websocket upgrade needs the raw connection, keep it out of gzip.
	root := http.NewServeMux()
	root.Handle("GET /join", s.peers.Handler(protocol.HeaderSession, s.hello))
	root.Handle("/", h)
	return root
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Printf("listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) ImageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", fmt.Sprintf("image/%s", s.image.Format))
	_, _ = w.Write(s.image.ImageData)
}

func (s *Server) GetMask(w http.ResponseWriter, r *http.Request) {
	data, rev, err := s.store.Load(r.Context())
	if errors.Is(err, store.ErrNoMask) {
		http.Error(w, "no mask", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Printf("can't load mask: %v", err)
		http.Error(w, "can't load mask", http.StatusInternalServerError)
		return
	}
	if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
		s.log.Printf("can't decode stored mask: %v", err)
		http.Error(w, "stored mask is corrupt", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Mask-Revision", strconv.FormatInt(rev.Number, 10))
	_, _ = w.Write(data)
}

func (s *Server) UpdateMask(w http.ResponseWriter, r *http.Request) {
	session := r.Header.Get(protocol.HeaderSession)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMaskBytes))
	if err != nil {
		s.log.Printf("could not read mask bytes: %v", err)
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(body))
	if err == nil {
		_, err = png.Decode(bytes.NewReader(body))
	}
	if err != nil {
		s.log.Printf("could not decode mask: %v", err)
		http.Error(w, "body is not a PNG image", http.StatusBadRequest)
		return
	}
	if cfg.Width != s.image.Width || cfg.Height != s.image.Height {
		s.log.Printf("mask is %dx%d, image is %dx%d", cfg.Width, cfg.Height, s.image.Width, s.image.Height)
	}

	// Hold the lock across save and broadcast so events leave in revision order.
	s.mu.Lock()
	rev, err := s.store.Save(r.Context(), body, session)
	if err != nil {
		s.mu.Unlock()
		s.log.Printf("can't store mask: %v", err)
		http.Error(w, "can't store mask", http.StatusInternalServerError)
		return
	}
	s.rev = rev
	s.broadcastLocked(protocol.TypeMaskUpdated)
	s.mu.Unlock()

	s.log.Printf("mask revision %d stored (%d bytes, session %q)", rev.Number, len(body), session)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(protocol.UpdateResponse{Revision: rev.Number})
}

func (s *Server) ExportHandler(w http.ResponseWriter, r *http.Request) {
	src, err := s.image.Decode()
	if err != nil {
		s.log.Printf("can't decode source image: %v", err)
		http.Error(w, "can't decode image", http.StatusInternalServerError)
		return
	}
	out := export.MaskedImage(src, s.exportMask(r.Context()), s.opts.FillColour)

	var buf bytes.Buffer
	if err := export.WritePDF(&buf, out, filepath.Base(s.image.Path)); err != nil {
		s.log.Printf("export failed: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(s.image.Path)+".pdf"))
	_, _ = w.Write(buf.Bytes())
}

// exportMask returns the stored mask, or nil when there is none or it
// does not decode.
func (s *Server) exportMask(ctx context.Context) image.Image {
	data, _, err := s.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNoMask) {
			s.log.Printf("export without mask: %v", err)
		}
		return nil
	}
	m, err := mask.Decode(bytes.NewReader(data))
	if err != nil {
		s.log.Printf("export without mask: %v", err)
		return nil
	}
	return m
}

func (s *Server) event(typ string) []byte {
	b, _ := json.Marshal(protocol.MaskEvent{
		Type:     typ,
		Revision: s.rev.Number,
		Session:  s.rev.Session,
		At:       time.Now().UTC(),
	})
	return b
}

func (s *Server) broadcastLocked(typ string) {
	s.peers.Broadcast(s.event(typ))
}

func (s *Server) hello() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event(protocol.TypeHello)
}
