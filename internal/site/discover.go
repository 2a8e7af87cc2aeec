package site

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/schaermu/wikisync/internal/config"
)

// Tree is the classified content of a source directory
type Tree struct {
	Assets []File
	HTML   []File
	CSS    []File
	JS     []File

	// Unsupported lists relative paths that were skipped
	Unsupported []string
}

// Documents returns all document files, HTML first, then CSS, then JS
func (t *Tree) Documents() []File {
	docs := make([]File, 0, len(t.HTML)+len(t.CSS)+len(t.JS))
	docs = append(docs, t.HTML...)
	docs = append(docs, t.CSS...)
	docs = append(docs, t.JS...)
	return docs
}

// Len returns the number of supported files
func (t *Tree) Len() int {
	return len(t.Assets) + len(t.HTML) + len(t.CSS) + len(t.JS)
}

// vcsDirs are version control metadata directories
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
	".bzr": true,
}

// IsVCSDir reports whether name is a version control metadata directory.
// Their content is never published.
func IsVCSDir(name string) bool {
	return vcsDirs[name]
}

// Discover walks cfg.SrcDir and classifies every regular file, dotfiles
// included. Version control directories and the build directory are
// skipped. Files with unsupported extensions are logged and listed in
// Tree.Unsupported; they never fail the walk.
func Discover(fsys afero.Fs, cfg *config.Config, logger *slog.Logger) (*Tree, error) {
	tree := &Tree{}
	root := cfg.SrcDir
	buildDir := filepath.Clean(cfg.BuildDir)

	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path != root && (IsVCSDir(info.Name()) || filepath.Clean(path) == buildDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path: %w", err)
		}

		file := NewFile(cfg, relPath)
		switch file.Category {
		case HTML:
			tree.HTML = append(tree.HTML, file)
		case CSS:
			tree.CSS = append(tree.CSS, file)
		case JS:
			tree.JS = append(tree.JS, file)
		case Asset:
			tree.Assets = append(tree.Assets, file)
		default:
			logger.Info("unsupported file extension, skipping", "path", file.RelPath)
			tree.Unsupported = append(tree.Unsupported, file.RelPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	warnCollisions(tree.Documents(), logger)
	return tree, nil
}

// warnCollisions logs documents that share an upload URL. Each of them
// overwrites the same wiki page, so only the last one processed survives.
func warnCollisions(docs []File, logger *slog.Logger) {
	seen := make(map[string]string, len(docs))
	for _, f := range docs {
		if prev, ok := seen[f.UploadURL]; ok {
			logger.Warn("files share the same wiki page",
				"path", f.RelPath,
				"other", prev,
				"url", f.LinkURL)
			continue
		}
		seen[f.UploadURL] = f.RelPath
	}
}
