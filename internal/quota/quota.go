// Package quota tracks bytes used under the share root against the reserved
// space and admits or rejects writes.
package quota

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"foldershare/internal/errs"
	"foldershare/internal/fsutil"
	"foldershare/internal/logging"
	"foldershare/internal/metrics"
)

// Stats is a point-in-time view of quota state.
type Stats struct {
	UsedBytes     int64   `json:"used_bytes"`
	ReservedBytes int64   `json:"reserved_bytes"`
	InFlightBytes int64   `json:"in_flight_bytes"`
	PercentUsed   float64 `json:"percent_used"`
}

// Tracker holds the authoritative used-bytes counter for one share.
//
// The invariant used + inFlight <= reserved is checked and updated under mu in
// a single step; file I/O never happens while mu is held.
type Tracker struct {
	root     string
	reserved int64

	mu       sync.Mutex
	used     int64
	inFlight int64
	// written is the monotonic sum of committed bytes; Recompute uses it to
	// account for commits that raced with its scan.
	written int64

	scanMu sync.Mutex
}

// NewTracker creates a tracker for root with a hard cap of reserved bytes.
// Call Recompute to load the on-disk usage.
func NewTracker(root string, reserved int64) *Tracker {
	t := &Tracker{root: root, reserved: reserved}
	metrics.SetStorageReserved(reserved)
	return t
}

// Reservation is provisional space granted to one in-flight write. Exactly
// one of Commit or Release takes effect; later calls are no-ops.
type Reservation struct {
	t    *Tracker
	n    int64
	done bool
}

// Size returns the reserved byte count.
func (r *Reservation) Size() int64 { return r.n }

// Reserve admits n more bytes or fails with QuotaExceeded. rel is only used
// for the error message.
func (t *Tracker) Reserve(n int64, rel string) (*Reservation, error) {
	if n < 0 {
		return nil, errs.New(errs.KindInvalidName, rel, fmt.Errorf("negative size %d", n))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.used+t.inFlight+n > t.reserved {
		metrics.RecordQuotaExceeded()
		return nil, &errs.Error{
			Kind: errs.KindQuotaExceeded,
			Rel:  rel,
			Err:  fmt.Errorf("need %d, used %d, in flight %d, reserved %d", n, t.used, t.inFlight, t.reserved),
		}
	}
	t.inFlight += n
	return &Reservation{t: t, n: n}, nil
}

// Commit converts the reservation into permanent usage. written is the size
// now on disk; replaced is the size of any file it overwrote.
func (r *Reservation) Commit(written, replaced int64) {
	t := r.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	t.inFlight -= r.n
	t.used += written - replaced
	if t.used < 0 {
		t.used = 0
	}
	t.written += written
	metrics.SetStorageUsed(t.used)
}

// Release returns the reservation unused.
func (r *Reservation) Release() {
	t := r.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	t.inFlight -= r.n
}

// Stats returns the current counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{
		UsedBytes:     t.used,
		ReservedBytes: t.reserved,
		InFlightBytes: t.inFlight,
	}
	if t.reserved > 0 {
		s.PercentUsed = float64(t.used) * 100 / float64(t.reserved)
	}
	return s
}

// Recompute rescans the root and replaces the used counter with the on-disk
// total. Upload temp files are skipped and symlinks are not followed.
func (t *Tracker) Recompute(ctx context.Context) (int64, error) {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	t.mu.Lock()
	startWritten := t.written
	t.mu.Unlock()

	start := time.Now()
	total, err := DiskUsage(ctx, t.root)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	// commits that landed during the scan may or may not have been seen;
	// counting them again can only overstate usage
	t.used = total + (t.written - startWritten)
	used := t.used
	t.mu.Unlock()

	metrics.SetStorageUsed(used)
	metrics.RecordQuotaRecompute(time.Since(start))
	logging.Debug("quota recomputed",
		zap.Int64("used_bytes", used),
		zap.Duration("took", time.Since(start)))
	return used, nil
}

// Run recomputes every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Recompute(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn("quota reconcile failed", zap.Error(err))
			}
		}
	}
}

// DiskUsage sums regular file sizes under root.
func DiskUsage(ctx context.Context, root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil // removed mid-walk
			}
			if p == root {
				return err
			}
			logging.Warn("quota scan skipped entry", zap.String("path", p), zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() || fsutil.IsTempName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, errs.New(errs.KindIO, "", fmt.Errorf("scan share: %w", err))
	}
	return total, nil
}
