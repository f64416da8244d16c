// Package transfer moves file bytes in and out of the share: quota-checked
// batch uploads with per-file accounting, and streamed downloads.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"foldershare/internal/errs"
	"foldershare/internal/fsutil"
	"foldershare/internal/logging"
	"foldershare/internal/metrics"
	"foldershare/internal/preview"
	"foldershare/internal/quota"
)

// File is one upload in a batch.
type File struct {
	// Name is the client filename; it must be a single path element.
	Name string
	// Size is the declared byte count. The stream must deliver exactly this many bytes.
	Size int64
	// Open returns the byte stream. It is called at most once.
	Open func() (io.ReadCloser, error)
}

// Result is the outcome of one file in a batch.
type Result struct {
	Name string
	Rel  string
	Size int64
	Err  error
}

// BatchResult aggregates a batch. Failures maps filename to reason for
// failed files only.
type BatchResult struct {
	SuccessCount int               `json:"successCount"`
	FailureCount int               `json:"failureCount"`
	Failures     map[string]string `json:"failures,omitempty"`
	Files        []Result          `json:"-"`
}

// Orchestrator performs uploads and downloads for one share.
type Orchestrator struct {
	resolver *fsutil.Resolver
	quota    *quota.Tracker

	// placeMu makes "stat replaced file, rename, commit" one step so
	// concurrent overwrites of the same name account correctly.
	placeMu sync.Mutex
}

func New(resolver *fsutil.Resolver, tracker *quota.Tracker) *Orchestrator {
	return &Orchestrator{resolver: resolver, quota: tracker}
}

// UploadBatch uploads files into dir. Each file is its own transaction: a
// failure is recorded in the result and never affects the other files.
func (o *Orchestrator) UploadBatch(ctx context.Context, dir fsutil.Resolved, files []File) *BatchResult {
	br := &BatchResult{Files: make([]Result, 0, len(files))}
	for _, f := range files {
		res := o.Upload(ctx, dir, f)
		br.Files = append(br.Files, res)
		if res.Err != nil {
			br.FailureCount++
			if br.Failures == nil {
				br.Failures = make(map[string]string)
			}
			br.Failures[f.Name] = errs.PublicMessage(res.Err)
			continue
		}
		br.SuccessCount++
	}
	return br
}

// Upload places one file into dir. The file only becomes visible at its
// final name after every byte has been received and synced.
func (o *Orchestrator) Upload(ctx context.Context, dir fsutil.Resolved, f File) Result {
	res := Result{Name: f.Name, Size: f.Size}
	log := logging.WithContext(ctx).With(zap.String("dir", dir.Rel), zap.String("filename", f.Name))

	dest, err := o.upload(ctx, dir, f)
	res.Rel = dest.Rel
	if err != nil {
		res.Err = err
		metrics.RecordUpload(0, false)
		log.Warn("upload failed", zap.String("kind", errs.KindOf(err).String()), zap.Error(err))
		return res
	}
	metrics.RecordUpload(f.Size, true)
	log.Info("file uploaded", zap.String("rel", dest.Rel), zap.String("size", humanize.IBytes(uint64(f.Size))))
	return res
}

func (o *Orchestrator) upload(ctx context.Context, dir fsutil.Resolved, f File) (fsutil.Resolved, error) {
	if err := ctx.Err(); err != nil {
		return fsutil.Resolved{}, errs.New(errs.KindIO, f.Name, err)
	}
	dest, err := o.resolver.Child(dir, f.Name)
	if err != nil {
		if errs.KindOf(err) == errs.KindPathTraversal {
			metrics.RecordPathRejection()
		}
		return fsutil.Resolved{}, err
	}
	if st, err := os.Stat(dir.Abs); err != nil || !st.IsDir() {
		return dest, &errs.Error{Kind: errs.KindNotFound, Rel: dir.Rel, Err: err}
	}
	if st, err := os.Stat(dest.Abs); err == nil && !st.Mode().IsRegular() {
		return dest, &errs.Error{Kind: errs.KindInvalidName, Rel: dest.Rel, Msg: fmt.Sprintf("%s exists and is not a file", dest.Rel)}
	}

	rsv, err := o.quota.Reserve(f.Size, dest.Rel)
	if err != nil {
		return dest, err
	}
	committed := false
	defer func() {
		if !committed {
			rsv.Release()
		}
	}()

	tmp, err := o.receive(ctx, dest, f)
	if err != nil {
		return dest, err
	}
	defer os.Remove(tmp) // no-op once renamed

	if err := ctx.Err(); err != nil {
		return dest, errs.New(errs.KindIO, dest.Rel, err)
	}

	o.placeMu.Lock()
	defer o.placeMu.Unlock()
	var replaced int64
	if st, err := os.Lstat(dest.Abs); err == nil {
		if !st.Mode().IsRegular() {
			return dest, &errs.Error{Kind: errs.KindInvalidName, Rel: dest.Rel, Msg: fmt.Sprintf("%s exists and is not a file", dest.Rel)}
		}
		replaced = st.Size()
	}
	if err := os.Rename(tmp, dest.Abs); err != nil {
		return dest, errs.New(errs.KindIO, dest.Rel, fmt.Errorf("place upload: %w", err))
	}
	rsv.Commit(f.Size, replaced)
	committed = true
	return dest, nil
}

// receive streams f into a hidden temp file beside dest and returns its path.
// On any failure the temp file is removed.
func (o *Orchestrator) receive(ctx context.Context, dest fsutil.Resolved, f File) (string, error) {
	src, err := f.Open()
	if err != nil {
		return "", errs.New(errs.KindIO, dest.Rel, fmt.Errorf("open upload stream: %w", err))
	}
	defer src.Close()

	tmpPath := filepath.Join(filepath.Dir(dest.Abs), fsutil.TempPrefix+uuid.NewString()+".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errs.New(errs.KindIO, dest.Rel, fmt.Errorf("create temp: %w", err))
	}
	fail := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errs.New(errs.KindIO, dest.Rel, err)
	}

	// read one byte past the declared size to detect oversized streams
	n, err := io.Copy(tmp, io.LimitReader(&ctxReader{ctx: ctx, r: src}, f.Size+1))
	if err != nil {
		return fail(fmt.Errorf("receive: %w", err))
	}
	if n != f.Size {
		return fail(fmt.Errorf("size mismatch: declared %d, received %d", f.Size, n))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync temp: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", errs.New(errs.KindIO, dest.Rel, fmt.Errorf("close temp: %w", err))
	}
	return tmpPath, nil
}

// ctxReader stops a copy as soon as the request is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Download is an open regular file ready to be streamed.
type Download struct {
	File        *os.File
	Name        string
	Size        int64
	ModTime     time.Time
	Category    preview.Category
	ContentType string
}

func (d *Download) Close() error { return d.File.Close() }

// Open opens target for streaming. It fails with NotFound unless target is a
// regular file at the time of the call.
func (o *Orchestrator) Open(_ context.Context, target fsutil.Resolved) (*Download, error) {
	if target.Rel == "" {
		return nil, &errs.Error{Kind: errs.KindNotFound, Msg: "not a file"}
	}
	f, err := os.Open(target.Abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindNotFound, target.Rel, err)
		}
		return nil, errs.New(errs.KindIO, target.Rel, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.New(errs.KindIO, target.Rel, err)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, &errs.Error{Kind: errs.KindNotFound, Rel: target.Rel, Msg: fmt.Sprintf("%s is not a file", target.Rel)}
	}
	name := target.Name()
	return &Download{
		File:        f,
		Name:        name,
		Size:        st.Size(),
		ModTime:     st.ModTime(),
		Category:    preview.Classify(name),
		ContentType: preview.ContentType(name),
	}, nil
}
