package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"foldershare/internal/errs"
)

// TempPrefix marks in-flight upload files. Such names are never listed,
// counted against quota, or accepted as client-supplied names.
const TempPrefix = ".foldershare-upload-"

// IsTempName reports whether name is an in-flight upload file.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, TempPrefix)
}

// CleanRelPath takes a user path like "", ".", "a//b", "a\\b" and returns the
// slash-based relative path it names ("" means root). It rejects, rather than
// cleans away, parent references, absolute prefixes, drive letters and NULs.
func CleanRelPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.ContainsRune(p, 0) {
		return "", errs.New(errs.KindPathTraversal, "", errors.New("nul byte"))
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", errs.New(errs.KindPathTraversal, "", errors.New("absolute path"))
	}
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for i, s := range segs {
		switch {
		case s == "" || s == ".":
			continue
		case s == "..":
			return "", errs.New(errs.KindPathTraversal, "", errors.New("parent reference"))
		case i == 0 && isDrive(s):
			return "", errs.New(errs.KindPathTraversal, "", errors.New("drive prefix"))
		case IsTempName(s):
			return "", errs.New(errs.KindNotFound, "", errors.New("reserved name"))
		}
		out = append(out, s)
	}
	return strings.Join(out, "/"), nil
}

// isDrive matches "C:" style volume prefixes. Only Windows has them; on
// other systems "a:b.txt" is an ordinary name.
func isDrive(s string) bool {
	return filepath.VolumeName(s) != ""
}

// ValidName checks a single path element supplied as an upload filename.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errs.New(errs.KindInvalidName, name, nil)
	case strings.ContainsAny(name, "/\\"), strings.ContainsRune(name, 0), isDrive(name):
		return errs.New(errs.KindPathTraversal, "", errors.New("separator in filename"))
	case IsTempName(name):
		return errs.New(errs.KindInvalidName, name, nil)
	}
	return nil
}

// Resolved is a client path mapped onto the share root.
type Resolved struct {
	// Abs is the canonical absolute path, guaranteed to be inside the root.
	Abs string
	// Rel is the normalized slash-separated relative path; "" is the root.
	Rel string
}

// Name returns the base name of the entry, or "" for the root.
func (r Resolved) Name() string {
	if r.Rel == "" {
		return ""
	}
	return path.Base(r.Rel)
}

// Resolver confines client paths to a single root directory, following
// symlinks only while they stay inside it.
type Resolver struct {
	root string // canonical
}

// NewResolver canonicalizes root. root must exist and be a directory.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(canon)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, errors.New("share root is not a directory")
	}
	return &Resolver{root: filepath.Clean(canon)}, nil
}

// Root returns the canonical share root.
func (r *Resolver) Root() string { return r.root }

// Resolve maps a client-relative path to a location inside the root. The
// target need not exist; its deepest existing ancestor is canonicalized.
func (r *Resolver) Resolve(p string) (Resolved, error) {
	rel, err := CleanRelPath(p)
	if err != nil {
		return Resolved{}, err
	}
	if rel == "" {
		return Resolved{Abs: r.root, Rel: ""}, nil
	}
	joined := filepath.Join(r.root, filepath.FromSlash(rel))
	canon, err := canonicalize(joined)
	if err != nil {
		// a file used as a directory can never name an entry
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return Resolved{}, errs.New(errs.KindNotFound, rel, err)
		}
		return Resolved{}, errs.New(errs.KindIO, rel, err)
	}
	if !r.Within(canon) {
		return Resolved{}, errs.New(errs.KindPathTraversal, "", fmt.Errorf("%s escapes root %s", canon, r.root))
	}
	return Resolved{Abs: canon, Rel: rel}, nil
}

// Child resolves name as a direct child of dir. name must be a single element.
func (r *Resolver) Child(dir Resolved, name string) (Resolved, error) {
	if err := ValidName(name); err != nil {
		return Resolved{}, err
	}
	return r.Resolve(JoinRel(dir.Rel, name))
}

// Within reports whether abs (already canonical) lies inside the root.
func (r *Resolver) Within(abs string) bool {
	abs = filepath.Clean(abs)
	if abs == r.root {
		return true
	}
	prefix := r.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(abs, prefix)
}

// JoinRel joins a relative directory and a child name.
func JoinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

const maxHops = 255

// canonicalize resolves symlinks in p. Missing trailing components are kept
// as-is after canonicalizing the deepest ancestor that exists.
func canonicalize(p string) (string, error) {
	var missing []string
	cur := p
	for hops := 0; ; hops++ {
		if hops > maxHops {
			return "", errors.New("too many links")
		}
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				real = filepath.Join(real, missing[i])
			}
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		// a dangling symlink is not "missing": refuse to guess where it points
		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&os.ModeSymlink != 0 {
			target, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			cur = filepath.Clean(target)
			continue
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}
