package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"foldershare/internal/errs"
	"foldershare/internal/fsutil"
	"foldershare/internal/logging"
	"foldershare/internal/metrics"
	"foldershare/internal/share"
	"foldershare/internal/transfer"
)

const maxSetupBody = 1 << 20

func (s *Server) current(w http.ResponseWriter, r *http.Request) (*share.Share, bool) {
	sh, err := s.shares.Current(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return sh, true
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, sh *share.Share, p string) (fsutil.Resolved, bool) {
	res, err := sh.Resolver.Resolve(p)
	if err != nil {
		if errs.KindOf(err) == errs.KindPathTraversal {
			metrics.RecordPathRejection()
		}
		s.writeError(w, r, err)
		return fsutil.Resolved{}, false
	}
	return res, true
}

// wildcardPath returns the decoded tail matched by a trailing "/*" route.
func wildcardPath(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		if u, err := url.PathUnescape(p); err == nil {
			return u
		}
	}
	return p
}

type setupResponse struct {
	URL string `json:"url"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req share.SetupRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSetupBody))
	if err := dec.Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid setup request")
		return
	}
	sh, err := s.shares.Setup(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u := s.opts.PublicURL
	if u == "" {
		u = "http://" + r.Host
	}
	logging.WithContext(r.Context()).Info("setup complete", zap.String("root", sh.Config.Root), zap.String("url", u))
	writeJSON(w, http.StatusOK, setupResponse{URL: u})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.current(w, r)
	if !ok {
		return
	}
	dir, ok := s.resolve(w, r, sh, r.URL.Query().Get("path"))
	if !ok {
		return
	}
	l, err := sh.Lister.List(r.Context(), dir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.current(w, r)
	if !ok {
		return
	}
	dir, ok := s.resolve(w, r, sh, r.URL.Query().Get("path"))
	if !ok {
		return
	}
	if st, err := os.Stat(dir.Abs); err != nil || !st.IsDir() {
		s.writeError(w, r, errs.New(errs.KindNotFound, dir.Rel, err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBytes)
	if err := r.ParseMultipartForm(s.opts.MemoryBuffer); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := formFiles(r.MultipartForm)
	switch len(files) {
	case 0:
		writeDetail(w, http.StatusBadRequest, "missing file")
	case 1:
		res := sh.Transfer.Upload(r.Context(), dir, files[0])
		if res.Err != nil {
			s.writeError(w, r, res.Err)
			return
		}
		writeJSON(w, http.StatusOK, uploadResponse{Message: "File uploaded", Filename: res.Name, Size: res.Size})
	default:
		writeJSON(w, http.StatusOK, sh.Transfer.UploadBatch(r.Context(), dir, files))
	}
}

// formFiles flattens every file part, ordered by field name then position.
func formFiles(mf *multipart.Form) []transfer.File {
	if mf == nil {
		return nil
	}
	keys := make([]string, 0, len(mf.File))
	for k := range mf.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []transfer.File
	for _, k := range keys {
		for _, fh := range mf.File[k] {
			out = append(out, transfer.File{
				Name: fh.Filename,
				Size: fh.Size,
				Open: func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	return out
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, false)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, true)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, inline bool) {
	sh, ok := s.current(w, r)
	if !ok {
		return
	}
	target, ok := s.resolve(w, r, sh, wildcardPath(r))
	if !ok {
		return
	}
	d, err := sh.Transfer.Open(r.Context(), target)
	if err != nil {
		metrics.RecordDownload(0, false)
		s.writeError(w, r, err)
		return
	}
	defer d.Close()

	disposition := "attachment"
	if inline {
		if !d.Category.Inline() {
			writeDetail(w, http.StatusUnsupportedMediaType, "preview not available for this file type")
			return
		}
		disposition = "inline"
		// previewed content never runs script in our origin
		w.Header().Set("Content-Security-Policy", "sandbox")
	}
	h := w.Header()
	h.Set("Content-Type", d.ContentType)
	if cd := mime.FormatMediaType(disposition, map[string]string{"filename": d.Name}); cd != "" {
		h.Set("Content-Disposition", cd)
	} else {
		h.Set("Content-Disposition", disposition)
	}
	http.ServeContent(w, r, d.Name, d.ModTime, d.File)
	metrics.RecordDownload(d.Size, true)
	logging.WithContext(r.Context()).Debug("file served",
		zap.String("rel", target.Rel),
		zap.String("disposition", disposition),
		zap.Int64("size", d.Size),
	)
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.current(w, r)
	if !ok {
		return
	}
	if sh.Thumbs == nil {
		writeDetail(w, http.StatusNotFound, "thumbnails are disabled")
		return
	}
	target, ok := s.resolve(w, r, sh, wildcardPath(r))
	if !ok {
		return
	}
	b, err := sh.Thumbs.Get(target)
	if err != nil {
		if errs.KindOf(err) == errs.KindInvalidName {
			writeDetail(w, http.StatusUnsupportedMediaType, errs.PublicMessage(err))
			return
		}
		s.writeError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(b)))
	h.Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleDAV(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
	default:
		writeDetail(w, http.StatusForbidden, "the WebDAV mount is read-only")
		return
	}
	sh, ok := s.current(w, r)
	if !ok {
		return
	}
	h := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: sh.DAV,
		LockSystem: s.locks,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logging.WithContext(r.Context()).Debug("webdav", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
			}
		},
	}
	h.ServeHTTP(w, r)
}
