// Package httpserver is the HTTP surface of the gateway: the JSON API, raw
// downloads and previews, thumbnails and a read-only WebDAV mount.
package httpserver

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/webdav"

	"foldershare/internal/auth"
	"foldershare/internal/logging"
	"foldershare/internal/metrics"
	"foldershare/internal/share"
)

const (
	defaultMaxRequest   = 16 << 30
	defaultMemoryBuffer = 32 << 20
)

type Options struct {
	Shares *share.Service
	// PublicURL is returned from setup; empty means http://<request host>.
	PublicURL string
	// MaxRequestBytes bounds an upload request body.
	MaxRequestBytes int64
	// MemoryBuffer is how much of a multipart body is held in memory before
	// parts spill to disk.
	MemoryBuffer int64
	WebDAV       bool
}

type Server struct {
	opts   Options
	shares *share.Service
	locks  webdav.LockSystem
}

func New(opts Options) *Server {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = defaultMaxRequest
	}
	if opts.MemoryBuffer <= 0 {
		opts.MemoryBuffer = defaultMemoryBuffer
	}
	return &Server{opts: opts, shares: opts.Shares, locks: webdav.NewMemLS()}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(withHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/setup", s.handleSetup)

		api.Group(func(p chi.Router) {
			p.Use(s.requireAuth)
			p.Get("/files", s.handleFiles)
			p.Post("/upload", s.handleUpload)
			p.Get("/download/*", s.handleDownload)
			p.Get("/preview/*", s.handlePreview)
			p.Get("/thumb/*", s.handleThumb)
		})
	})

	if s.opts.WebDAV {
		dav := s.requireAuth(http.HandlerFunc(s.handleDAV))
		r.Handle("/dav", dav)
		r.Handle("/dav/*", dav)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return auth.RequireAuth(s.shares.Gate, s.writeError, next)
}

// withHeaders applies the hardening headers every response carries.
func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
