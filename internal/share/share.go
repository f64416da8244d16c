// Package share binds one configured folder to the components that serve it
// and owns the one-time setup flow.
package share

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"foldershare/internal/auth"
	"foldershare/internal/davfs"
	"foldershare/internal/errs"
	"foldershare/internal/fsutil"
	"foldershare/internal/listing"
	"foldershare/internal/logging"
	"foldershare/internal/quota"
	"foldershare/internal/thumb"
	"foldershare/internal/transfer"
)

// Config is the immutable description of the shared folder.
type Config struct {
	Root          string
	SecretHash    []byte
	ReservedBytes int64
}

// Options are process-level settings applied to whichever share gets configured.
type Options struct {
	StateDir   string
	BcryptCost int
	Thumbnails bool
	ThumbMax   int
}

// Share is a configured folder and the components serving it.
type Share struct {
	Config   Config
	Gate     *auth.Gate
	Resolver *fsutil.Resolver
	Quota    *quota.Tracker
	Lister   *listing.Lister
	Transfer *transfer.Orchestrator
	DAV      *davfs.FS
	// Thumbs is nil when thumbnails are disabled.
	Thumbs *thumb.Cache
}

// Open builds a Share for cfg and loads current disk usage into its tracker.
func Open(ctx context.Context, cfg Config, opts Options) (*Share, error) {
	if cfg.ReservedBytes <= 0 {
		return nil, &errs.Error{Kind: errs.KindInvalidName, Msg: "reserved space must be positive"}
	}
	gate, err := auth.NewGate(cfg.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("secret hash: %w", err)
	}
	resolver, err := fsutil.NewResolver(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("share root: %w", err)
	}
	tracker := quota.NewTracker(resolver.Root(), cfg.ReservedBytes)
	if _, err := tracker.Recompute(ctx); err != nil {
		return nil, fmt.Errorf("initial usage scan: %w", err)
	}

	s := &Share{
		Config:   Config{Root: resolver.Root(), SecretHash: cfg.SecretHash, ReservedBytes: cfg.ReservedBytes},
		Gate:     gate,
		Resolver: resolver,
		Quota:    tracker,
		Lister:   listing.New(resolver, tracker),
		Transfer: transfer.New(resolver, tracker),
		DAV:      davfs.New(resolver),
	}
	if opts.Thumbnails && opts.StateDir != "" {
		if insideRoot(resolver, opts.StateDir) {
			logging.Warn("state dir is inside the share root, thumbnails disabled", zap.String("state_dir", opts.StateDir))
			return s, nil
		}
		c, err := thumb.New(filepath.Join(opts.StateDir, "thumbs"), opts.ThumbMax)
		if err != nil {
			return nil, fmt.Errorf("thumbnail cache: %w", err)
		}
		s.Thumbs = c
	}
	return s, nil
}

// insideRoot reports whether dir, once canonical, lies under the share root.
func insideRoot(r *fsutil.Resolver, dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	} else if parent, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(parent, filepath.Base(abs))
	}
	return r.Within(abs)
}

// Service holds the process's single share, which may be configured at
// startup or later through Setup. Once set it never changes.
type Service struct {
	opts Options

	mu    sync.RWMutex
	cur   *Share
	ready chan struct{}
}

func NewService(opts Options) *Service {
	return &Service{opts: opts, ready: make(chan struct{})}
}

// Current returns the configured share or a NotConfigured error.
func (s *Service) Current(context.Context) (*Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return nil, errs.ErrNotConfigured
	}
	return s.cur, nil
}

// Gate satisfies auth.Source.
func (s *Service) Gate(ctx context.Context) (*auth.Gate, error) {
	sh, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return sh.Gate, nil
}

// Ready is closed once a share has been configured.
func (s *Service) Ready() <-chan struct{} { return s.ready }

// Configure installs cfg as the share. A second call fails with Conflict.
func (s *Service) Configure(ctx context.Context, cfg Config) (*Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return nil, &errs.Error{Kind: errs.KindConflict, Msg: "server is already configured"}
	}
	sh, err := Open(ctx, cfg, s.opts)
	if err != nil {
		return nil, err
	}
	s.cur = sh
	close(s.ready)

	st := sh.Quota.Stats()
	logging.Info("share configured",
		zap.String("root", sh.Config.Root),
		zap.String("reserved", humanize.IBytes(uint64(st.ReservedBytes))),
		zap.String("used", humanize.IBytes(uint64(st.UsedBytes))),
	)
	return sh, nil
}

// SetupRequest is the body of a setup call. Space is in GiB.
type SetupRequest struct {
	Folder   string  `json:"folder" validate:"required"`
	Space    float64 `json:"space" validate:"gt=0"`
	Password string  `json:"password" validate:"required,min=4"`
}

var validate = validator.New()

const gib = 1 << 30

// Setup validates req, checks the folder and free disk space, hashes the
// secret and configures the share.
func (s *Service) Setup(ctx context.Context, req SetupRequest) (*Share, error) {
	if err := validate.Struct(req); err != nil {
		return nil, &errs.Error{Kind: errs.KindInvalidName, Msg: validationMessage(err), Err: err}
	}
	if _, err := s.Current(ctx); err == nil {
		return nil, &errs.Error{Kind: errs.KindConflict, Msg: "server is already configured"}
	}

	folder, err := CanonicalFolder(req.Folder)
	if err != nil {
		return nil, err
	}

	reserved := int64(req.Space * gib)
	if reserved <= 0 {
		return nil, &errs.Error{Kind: errs.KindInvalidName, Msg: "space must be positive"}
	}
	if free, err := FreeBytes(folder); err != nil {
		logging.Warn("free space check failed", zap.String("folder", folder), zap.Error(err))
	} else if free >= 0 && uint64(reserved) > uint64(free) {
		return nil, &errs.Error{
			Kind: errs.KindInvalidName,
			Msg: fmt.Sprintf("requested %s but only %s is free",
				humanize.IBytes(uint64(reserved)), humanize.IBytes(uint64(free))),
		}
	}

	hash, err := auth.HashSecret(req.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindInvalidName, Msg: "password must be at least 4 characters", Err: err}
	}
	return s.Configure(ctx, Config{Root: folder, SecretHash: hash, ReservedBytes: reserved})
}

// CanonicalFolder expands a leading ~, makes p absolute and resolves
// symlinks. The result must be an existing directory.
func CanonicalFolder(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errs.New(errs.KindIO, "", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errs.New(errs.KindIO, "", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &errs.Error{Kind: errs.KindInvalidName, Msg: "folder does not exist", Err: err}
		}
		return "", errs.New(errs.KindIO, "", err)
	}
	st, err := os.Stat(real)
	if err != nil {
		return "", errs.New(errs.KindIO, "", err)
	}
	if !st.IsDir() {
		return "", &errs.Error{Kind: errs.KindInvalidName, Msg: "folder is not a directory"}
	}
	return real, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid setup request"
	}
	switch e := verrs[0]; e.Field() {
	case "Folder":
		return "folder is required"
	case "Space":
		return "space must be greater than 0"
	case "Password":
		return "password must be at least 4 characters"
	default:
		return fmt.Sprintf("%s: failed %s", e.Field(), e.Tag())
	}
}
