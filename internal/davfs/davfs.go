// Package davfs exposes the share as a read-only webdav.FileSystem. Every
// name is resolved through the path resolver; writes are refused so that all
// mutation goes through the quota-aware upload path.
package davfs

import (
	"context"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/net/webdav"

	"foldershare/internal/errs"
	"foldershare/internal/fsutil"
)

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

// FS implements webdav.FileSystem over one share root.
type FS struct {
	resolver *fsutil.Resolver
}

var _ webdav.FileSystem = (*FS)(nil)

func New(resolver *fsutil.Resolver) *FS {
	return &FS{resolver: resolver}
}

func (d *FS) resolve(name string) (fsutil.Resolved, error) {
	res, err := d.resolver.Resolve(strings.TrimPrefix(name, "/"))
	if err != nil {
		return fsutil.Resolved{}, toOSError(err)
	}
	return res, nil
}

func toOSError(err error) error {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return os.ErrNotExist
	case errs.KindPathTraversal, errs.KindAuth, errs.KindInvalidName:
		return os.ErrPermission
	}
	return err
}

func (d *FS) Mkdir(context.Context, string, os.FileMode) error { return os.ErrPermission }

func (d *FS) RemoveAll(context.Context, string) error { return os.ErrPermission }

func (d *FS) Rename(context.Context, string, string) error { return os.ErrPermission }

func (d *FS) OpenFile(_ context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	if flag&writeFlags != 0 {
		return nil, os.ErrPermission
	}
	res, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(res.Abs)
	if err != nil {
		return nil, err
	}
	return &file{File: f, fs: d, rel: res.Rel}, nil
}

func (d *FS) Stat(_ context.Context, name string) (os.FileInfo, error) {
	res, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(res.Abs)
}

// file hides upload temp files and escaping symlinks from directory reads.
type file struct {
	*os.File
	fs  *FS
	rel string
}

func (f *file) Write([]byte) (int, error) { return 0, os.ErrPermission }

func (f *file) Readdir(count int) ([]fs.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	out := infos[:0]
	for _, fi := range infos {
		if fsutil.IsTempName(fi.Name()) {
			continue
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			res, rerr := f.fs.resolver.Resolve(fsutil.JoinRel(f.rel, fi.Name()))
			if rerr != nil {
				continue
			}
			target, serr := os.Stat(res.Abs)
			if serr != nil {
				continue
			}
			fi = renamed{FileInfo: target, name: fi.Name()}
		}
		out = append(out, fi)
	}
	return out, err
}

// renamed reports a symlink target under the link's own name.
type renamed struct {
	fs.FileInfo
	name string
}

func (r renamed) Name() string { return r.name }
