package listing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foldershare/internal/errs"
	"foldershare/internal/fsutil"
	"foldershare/internal/preview"
	"foldershare/internal/quota"
)

func setup(t *testing.T) (*Lister, *fsutil.Resolver, string) {
	t.Helper()
	r, err := fsutil.NewResolver(t.TempDir())
	require.NoError(t, err)
	root := r.Root()
	tr := quota.NewTracker(root, 1000)
	return New(r, tr), r, root
}

func write(t *testing.T, p string, n int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, make([]byte, n), 0o644))
}

func names(items []FileEntry) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestListOrdering(t *testing.T) {
	l, r, root := setup(t)
	write(t, filepath.Join(root, "b.txt"), 3)
	write(t, filepath.Join(root, "A.pdf"), 5)
	write(t, filepath.Join(root, "c.bin"), 1)
	require.NoError(t, os.Mkdir(filepath.Join(root, "zeta"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "Alpha"), 0o755))

	dir, err := r.Resolve("")
	require.NoError(t, err)
	ls, err := l.List(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"Alpha", "zeta", "A.pdf", "b.txt", "c.bin"}, names(ls.Items))
	assert.True(t, ls.Items[0].IsDirectory)
	assert.Equal(t, int64(0), ls.Items[0].Size)
	assert.Equal(t, preview.PDF, ls.Items[2].Category)
	assert.Equal(t, int64(5), ls.Items[2].Size)
	assert.Equal(t, "A.pdf", ls.Items[2].Path)
	assert.Equal(t, "", ls.CurrentPath)
	assert.Equal(t, []Breadcrumb{{Name: RootName, Path: ""}}, ls.Breadcrumbs)
	assert.Equal(t, int64(1000), ls.Storage.ReservedBytes)
}

func TestListIdempotent(t *testing.T) {
	l, r, root := setup(t)
	for _, n := range []string{"x", "Y", "z", "a", "B"} {
		write(t, filepath.Join(root, "d", n), 1)
	}
	dir, err := r.Resolve("d")
	require.NoError(t, err)

	first, err := l.List(context.Background(), dir)
	require.NoError(t, err)
	second, err := l.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, "d/a", first.Items[0].Path)
}

func TestListSubdirBreadcrumbs(t *testing.T) {
	l, r, root := setup(t)
	write(t, filepath.Join(root, "a", "b", "f.txt"), 1)
	dir, err := r.Resolve("a/b")
	require.NoError(t, err)

	ls, err := l.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "a/b", ls.CurrentPath)
	assert.Equal(t, []Breadcrumb{
		{Name: RootName, Path: ""},
		{Name: "a", Path: "a"},
		{Name: "b", Path: "a/b"},
	}, ls.Breadcrumbs)
	assert.Equal(t, "a/b/f.txt", ls.Items[0].Path)
}

func TestListNotFound(t *testing.T) {
	l, r, root := setup(t)
	write(t, filepath.Join(root, "file.txt"), 1)

	dir, err := r.Resolve("missing")
	require.NoError(t, err)
	_, err = l.List(context.Background(), dir)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	file, err := r.Resolve("file.txt")
	require.NoError(t, err)
	_, err = l.List(context.Background(), file)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListHidesEscapingSymlinksAndTempFiles(t *testing.T) {
	l, r, root := setup(t)
	outside := t.TempDir()
	write(t, filepath.Join(outside, "secret"), 1)
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "out")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "secret-link")))
	write(t, filepath.Join(root, "inside.txt"), 2)
	require.NoError(t, os.Symlink(filepath.Join(root, "inside.txt"), filepath.Join(root, "alias.txt")))
	write(t, filepath.Join(root, fsutil.TempPrefix+"abc.tmp"), 9)

	dir, err := r.Resolve("")
	require.NoError(t, err)
	ls, err := l.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"alias.txt", "inside.txt"}, names(ls.Items))
	assert.Equal(t, int64(2), ls.Items[0].Size)
}

func TestBreadcrumbs(t *testing.T) {
	assert.Len(t, Breadcrumbs(""), 1)
	assert.Equal(t, "x/y/z", Breadcrumbs("x/y/z")[3].Path)
}
