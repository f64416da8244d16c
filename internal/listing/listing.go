// Package listing produces directory listings, breadcrumb trails and storage
// statistics for resolved share paths.
package listing

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"foldershare/internal/errs"
	"foldershare/internal/fsutil"
	"foldershare/internal/logging"
	"foldershare/internal/preview"
	"foldershare/internal/quota"
)

// RootName is the breadcrumb label of the share root.
const RootName = "Home"

// FileEntry is one immediate child of a listed directory.
type FileEntry struct {
	Name        string           `json:"name"`
	Path        string           `json:"path"`
	IsDirectory bool             `json:"is_directory"`
	Size        int64            `json:"size"`
	ModifiedAt  time.Time        `json:"modified"`
	Category    preview.Category `json:"category,omitempty"`
}

type Breadcrumb struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Listing is the response for one directory.
type Listing struct {
	Items       []FileEntry  `json:"items"`
	CurrentPath string       `json:"current_path"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
	Storage     quota.Stats  `json:"storage"`
}

// Lister reads directories through a resolver so symlinked children that
// leave the root are never reported.
type Lister struct {
	resolver *fsutil.Resolver
	quota    *quota.Tracker
}

func New(resolver *fsutil.Resolver, tracker *quota.Tracker) *Lister {
	return &Lister{resolver: resolver, quota: tracker}
}

// List returns the children of dir, directories first, then by
// case-insensitive name.
func (l *Lister) List(ctx context.Context, dir fsutil.Resolved) (*Listing, error) {
	st, err := os.Stat(dir.Abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindNotFound, dir.Rel, err)
		}
		return nil, errs.New(errs.KindIO, dir.Rel, err)
	}
	if !st.IsDir() {
		return nil, &errs.Error{Kind: errs.KindNotFound, Rel: dir.Rel, Msg: "not a directory"}
	}
	ents, err := os.ReadDir(dir.Abs)
	if err != nil {
		return nil, errs.New(errs.KindIO, dir.Rel, err)
	}

	items := make([]FileEntry, 0, len(ents))
	for _, e := range ents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if fsutil.IsTempName(name) {
			continue
		}
		childRel := fsutil.JoinRel(dir.Rel, name)
		info, ok := l.entryInfo(e, childRel)
		if !ok {
			continue
		}
		it := FileEntry{
			Name:        name,
			Path:        childRel,
			IsDirectory: info.IsDir(),
			ModifiedAt:  info.ModTime().UTC(),
		}
		if !it.IsDirectory {
			it.Size = info.Size()
			it.Category = preview.Classify(name)
		}
		items = append(items, it)
	}
	Sort(items)

	return &Listing{
		Items:       items,
		CurrentPath: dir.Rel,
		Breadcrumbs: Breadcrumbs(dir.Rel),
		Storage:     l.quota.Stats(),
	}, nil
}

// entryInfo stats e, re-resolving symlinks so their targets must stay inside
// the root. Entries that cannot be stat'ed are skipped.
func (l *Lister) entryInfo(e fs.DirEntry, rel string) (fs.FileInfo, bool) {
	if e.Type()&fs.ModeSymlink == 0 {
		info, err := e.Info()
		if err != nil {
			return nil, false
		}
		return info, info.IsDir() || info.Mode().IsRegular()
	}
	res, err := l.resolver.Resolve(rel)
	if err != nil {
		logging.Debug("listing hides symlink", zap.String("rel", rel), zap.Error(err))
		return nil, false
	}
	info, err := os.Stat(res.Abs)
	if err != nil {
		return nil, false
	}
	return info, info.IsDir() || info.Mode().IsRegular()
}

// Sort applies the canonical ordering: directories before files, then
// case-insensitive name, then exact name so the order is total.
func Sort(items []FileEntry) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsDirectory != b.IsDirectory {
			return a.IsDirectory
		}
		al, bl := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if al != bl {
			return al < bl
		}
		return a.Name < b.Name
	})
}

// Breadcrumbs derives the trail from the root to rel.
func Breadcrumbs(rel string) []Breadcrumb {
	crumbs := []Breadcrumb{{Name: RootName, Path: ""}}
	if rel == "" {
		return crumbs
	}
	var acc string
	for _, seg := range strings.Split(rel, "/") {
		acc = fsutil.JoinRel(acc, seg)
		crumbs = append(crumbs, Breadcrumb{Name: seg, Path: acc})
	}
	return crumbs
}
