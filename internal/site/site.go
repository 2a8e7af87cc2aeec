package site

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/schaermu/wikisync/internal/config"
	"github.com/schaermu/wikisync/internal/syncmap"
)

// Category classifies a source file by how it is published
type Category string

const (
	HTML        Category = "html"
	CSS         Category = "css"
	JS          Category = "js"
	Asset       Category = "asset"
	Unsupported Category = "unsupported"
)

// AssetExtensions are the opaque file types uploaded through the file upload form
var AssetExtensions = []string{
	"png", "gif", "jpg", "jpeg", "pdf", "ppt", "txt", "zip", "mp3", "mp4",
	"webm", "mov", "swf", "xls", "xlsx", "docx", "pptx", "csv", "m", "ogg",
	"gb", "tif", "tiff", "fcs", "otf", "eot", "ttf", "woff", "svg",
}

// IsDocument reports whether files of this category are rewritten and
// uploaded as wiki pages
func (c Category) IsDocument() bool {
	return c == HTML || c == CSS || c == JS
}

// Section returns the sync map section tracking this category
func (c Category) Section() syncmap.Section {
	switch c {
	case HTML:
		return syncmap.HTML
	case CSS:
		return syncmap.CSS
	case JS:
		return syncmap.JS
	case Asset:
		return syncmap.Assets
	}
	return ""
}

// ClassifyExtension returns the category for a file name. Extensions are
// matched case-insensitively.
func ClassifyExtension(name string) Category {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "html":
		return HTML
	case "css":
		return CSS
	case "js":
		return JS
	}
	for _, asset := range AssetExtensions {
		if ext == asset {
			return Asset
		}
	}
	return Unsupported
}

// File describes one source file together with its remote identity. All
// fields are fixed at classification time.
type File struct {
	// RelPath is the slash-separated path relative to the source directory
	RelPath    string
	Category   Category
	SourcePath string
	BuildPath  string
	Identity
}

// NewFile classifies relPath and resolves its remote identity
func NewFile(cfg *config.Config, relPath string) File {
	relPath = filepath.ToSlash(relPath)
	category := ClassifyExtension(relPath)
	return File{
		RelPath:    relPath,
		Category:   category,
		SourcePath: filepath.Join(cfg.SrcDir, filepath.FromSlash(relPath)),
		BuildPath:  filepath.Join(cfg.BuildDir, filepath.FromSlash(relPath)),
		Identity:   Resolve(cfg, relPath, category),
	}
}

// Dir returns the slash-separated directory of the file relative to the
// source root ("" at the root)
func (f File) Dir() string {
	dir := path.Dir(f.RelPath)
	if dir == "." {
		return ""
	}
	return dir
}
