// Package preview classifies files by extension into the coarse categories
// that drive inline preview and response content types.
package preview

import (
	"path"
	"strings"
)

type Category string

const (
	Image Category = "image"
	PDF   Category = "pdf"
	Audio Category = "audio"
	Video Category = "video"
	Text  Category = "text"
	Other Category = "other"
)

// Inline reports whether the category can be rendered in the browser.
func (c Category) Inline() bool {
	return c != Other && c != ""
}

type kind struct {
	cat  Category
	mime string
}

// The table is fixed rather than read from the host's mime database so that
// classification is identical on every machine.
var byExt = map[string]kind{
	// images
	".jpg":  {Image, "image/jpeg"},
	".jpeg": {Image, "image/jpeg"},
	".png":  {Image, "image/png"},
	".gif":  {Image, "image/gif"},
	".webp": {Image, "image/webp"},
	".bmp":  {Image, "image/bmp"},
	".svg":  {Image, "image/svg+xml"},
	".ico":  {Image, "image/x-icon"},
	// pdf
	".pdf": {PDF, "application/pdf"},
	// audio
	".mp3":  {Audio, "audio/mpeg"},
	".m4a":  {Audio, "audio/mp4"},
	".wav":  {Audio, "audio/wav"},
	".ogg":  {Audio, "audio/ogg"},
	".oga":  {Audio, "audio/ogg"},
	".flac": {Audio, "audio/flac"},
	".aac":  {Audio, "audio/aac"},
	// video
	".mp4":  {Video, "video/mp4"},
	".m4v":  {Video, "video/mp4"},
	".webm": {Video, "video/webm"},
	".mkv":  {Video, "video/x-matroska"},
	".mov":  {Video, "video/quicktime"},
	".avi":  {Video, "video/x-msvideo"},
	".ogv":  {Video, "video/ogg"},
}

var textExts = []string{
	".txt", ".log", ".md", ".csv", ".json", ".xml", ".yaml", ".yml", ".toml", ".ini", ".cfg", ".conf",
	".go", ".js", ".ts", ".tsx", ".jsx", ".py", ".rs", ".java", ".c", ".h", ".cpp", ".hpp",
	".sh", ".css", ".html", ".htm", ".sql",
}

func init() {
	for _, ext := range textExts {
		// text is always served as plain text so html/js never executes inline
		byExt[ext] = kind{Text, "text/plain; charset=utf-8"}
	}
}

// Extension returns the lower-cased extension of name, including the dot.
func Extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// Classify maps a filename to its category. Unknown or missing extensions
// are Other.
func Classify(name string) Category {
	if k, ok := byExt[Extension(name)]; ok {
		return k.cat
	}
	return Other
}

// ContentType returns the media type served for name.
func ContentType(name string) string {
	if k, ok := byExt[Extension(name)]; ok {
		return k.mime
	}
	return "application/octet-stream"
}
