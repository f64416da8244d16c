// Package thumb renders and caches JPEG thumbnails for image previews.
package thumb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"foldershare/internal/errs"
	"foldershare/internal/fsutil"
	"foldershare/internal/preview"
)

// DefaultMax is the longest thumbnail edge when none is configured.
const DefaultMax = 256

// Cache stores rendered thumbnails under dir, keyed by path, mtime and size
// so edits to the source invalidate old entries.
type Cache struct {
	dir string
	max int
}

func New(dir string, max int) (*Cache, error) {
	if max <= 0 {
		max = DefaultMax
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, max: max}, nil
}

// Get returns JPEG bytes for the image at target. The source is opened once;
// its handle supplies both the cache key and, on a miss, the pixels.
func (c *Cache) Get(target fsutil.Resolved) ([]byte, error) {
	if preview.Classify(target.Name()) != preview.Image {
		return nil, &errs.Error{Kind: errs.KindInvalidName, Rel: target.Rel, Msg: "not an image"}
	}
	f, err := os.Open(target.Abs)
	if err != nil {
		return nil, errs.New(errs.KindNotFound, target.Rel, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		return nil, errs.New(errs.KindNotFound, target.Rel, err)
	}

	p := filepath.Join(c.dir, cacheKey(target.Rel, st.ModTime().UnixNano(), st.Size(), c.max)+".jpg")
	if b, err := os.ReadFile(p); err == nil {
		return b, nil
	}
	b, err := Render(f, c.max)
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindInvalidName, Rel: target.Rel, Msg: "cannot decode image", Err: err}
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err == nil {
		_ = os.Rename(tmp, p)
	}
	return b, nil
}

func cacheKey(rel string, mtime, size int64, max int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%d\x00%d", rel, mtime, size, max)))
	return hex.EncodeToString(h[:16])
}

// Render decodes an image from r and encodes it as JPEG with its longest
// edge at most max pixels.
func Render(r io.Reader, max int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = DefaultMax
	}
	sb := src.Bounds()
	w, h, ok := fit(sb.Dx(), sb.Dy(), max)
	if !ok {
		return nil, errors.New("image has no pixels")
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fit scales w x h down to fit a max x max box, keeping the aspect ratio.
// Images already inside the box keep their size.
func fit(w, h, max int) (int, int, bool) {
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	long := w
	if h > long {
		long = h
	}
	if long <= max {
		return w, h, true
	}
	return max1(w * max / long), max1(h * max / long), true
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
