package share

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"foldershare/internal/errs"
)

func testOptions(t *testing.T) Options {
	return Options{StateDir: t.TempDir(), BcryptCost: bcrypt.MinCost, Thumbnails: true, ThumbMax: 64}
}

func TestCurrentBeforeSetup(t *testing.T) {
	svc := NewService(testOptions(t))
	_, err := svc.Current(context.Background())
	assert.ErrorIs(t, err, errs.ErrNotConfigured)
	_, err = svc.Gate(context.Background())
	assert.ErrorIs(t, err, errs.ErrNotConfigured)

	select {
	case <-svc.Ready():
		t.Fatal("ready before setup")
	default:
	}
}

func TestSetup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 10), 0o644))

	svc := NewService(testOptions(t))
	sh, err := svc.Setup(ctx, SetupRequest{Folder: dir, Space: 0.001, Password: "hunter2"})
	require.NoError(t, err)

	st := sh.Quota.Stats()
	assert.Equal(t, int64(10), st.UsedBytes)
	space := 0.001
	assert.Equal(t, int64(space*gib), st.ReservedBytes)
	assert.NoError(t, sh.Gate.Verify("hunter2"))
	assert.ErrorIs(t, sh.Gate.Verify("wrong"), errs.ErrAuth)
	assert.NotNil(t, sh.Thumbs)
	assert.NotContains(t, string(sh.Config.SecretHash), "hunter2")

	got, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Same(t, sh, got)

	select {
	case <-svc.Ready():
	default:
		t.Fatal("ready not closed")
	}

	_, err = svc.Setup(ctx, SetupRequest{Folder: dir, Space: 1, Password: "other"})
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestSetupValidation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	cases := []struct {
		name string
		req  SetupRequest
		msg  string
	}{
		{"no folder", SetupRequest{Space: 1, Password: "abcd"}, "folder is required"},
		{"zero space", SetupRequest{Folder: dir, Space: 0, Password: "abcd"}, "space must be greater than 0"},
		{"negative space", SetupRequest{Folder: dir, Space: -2, Password: "abcd"}, "space must be greater than 0"},
		{"short password", SetupRequest{Folder: dir, Space: 1, Password: "abc"}, "password must be at least 4 characters"},
		{"missing folder", SetupRequest{Folder: filepath.Join(dir, "nope"), Space: 1, Password: "abcd"}, "folder does not exist"},
		{"file not dir", SetupRequest{Folder: file, Space: 1, Password: "abcd"}, "folder is not a directory"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(testOptions(t))
			_, err := svc.Setup(ctx, tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidName)
			assert.Equal(t, tc.msg, errs.PublicMessage(err))
			_, err = svc.Current(ctx)
			assert.ErrorIs(t, err, errs.ErrNotConfigured)
		})
	}
}

func TestSetupRejectsMoreThanFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if free, err := FreeBytes(dir); err != nil || free < 0 {
		t.Skip("free space unavailable")
	}
	svc := NewService(testOptions(t))
	_, err := svc.Setup(context.Background(), SetupRequest{Folder: dir, Space: 1 << 30, Password: "abcd"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidName)
	assert.Contains(t, errs.PublicMessage(err), "is free")
}

func TestConfigureTwice(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	svc := NewService(Options{})

	sh, err := svc.Configure(ctx, Config{Root: t.TempDir(), SecretHash: hash, ReservedBytes: 1024})
	require.NoError(t, err)
	assert.Nil(t, sh.Thumbs)

	_, err = svc.Configure(ctx, Config{Root: t.TempDir(), SecretHash: hash, ReservedBytes: 1024})
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	_, err = Open(ctx, Config{Root: t.TempDir(), SecretHash: hash}, Options{})
	assert.Error(t, err)
	_, err = Open(ctx, Config{Root: t.TempDir(), SecretHash: []byte("plain"), ReservedBytes: 1}, Options{})
	assert.Error(t, err)
	_, err = Open(ctx, Config{Root: filepath.Join(t.TempDir(), "gone"), SecretHash: hash, ReservedBytes: 1}, Options{})
	assert.Error(t, err)
}

func TestCanonicalFolder(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.Mkdir(filepath.Join(home, "shared"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(home, "shared"), filepath.Join(home, "link")))

	want, err := filepath.EvalSymlinks(filepath.Join(home, "shared"))
	require.NoError(t, err)

	got, err := CanonicalFolder("~/shared")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = CanonicalFolder("  " + filepath.Join(home, "link") + "  ")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestThumbnailsOffWhenStateDirInsideRoot(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	root := t.TempDir()
	sh, err := Open(context.Background(), Config{Root: root, SecretHash: hash, ReservedBytes: 1 << 20},
		Options{StateDir: filepath.Join(root, "state"), Thumbnails: true})
	require.NoError(t, err)
	assert.Nil(t, sh.Thumbs)
	_, err = os.Stat(filepath.Join(root, "state"))
	assert.True(t, os.IsNotExist(err))
}
