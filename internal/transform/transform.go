// Package transform rewrites local references inside documents so that they
// point at the URLs the wiki serves the referenced files from.
package transform

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/schaermu/wikisync/internal/site"
	"github.com/schaermu/wikisync/internal/syncmap"
)

// Rewriter rewrites references in HTML and CSS documents. JavaScript is
// passed through unchanged.
type Rewriter struct {
	logger *slog.Logger
}

// New creates a Rewriter
func New(logger *slog.Logger) *Rewriter {
	return &Rewriter{logger: logger}
}

// Transform returns content with every resolvable reference replaced by its
// link URL from m. The map is only read.
func (r *Rewriter) Transform(f site.File, content string, m syncmap.Map) (string, error) {
	res := &resolver{dir: f.Dir(), m: m, file: f.RelPath, logger: r.logger}

	switch f.Category {
	case site.HTML:
		return rewriteHTML(content, res)
	case site.CSS:
		return rewriteCSS(content, res), nil
	case site.JS:
		return content, nil
	}
	return "", fmt.Errorf("cannot transform %s file", f.Category)
}

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// resolver maps references written in one file to link URLs
type resolver struct {
	dir    string
	file   string
	m      syncmap.Map
	logger *slog.Logger
}

// link returns the replacement for ref, or false to leave ref as written
func (r *resolver) link(ref string) (string, bool) {
	target, fragment, ok := Target(r.dir, ref)
	if !ok {
		return "", false
	}

	section := site.ClassifyExtension(target).Section()
	if section == "" {
		return "", false
	}
	link := r.m.Link(section, target)
	if link == "" {
		r.logger.Debug("unresolved reference", "path", r.file, "ref", ref, "target", target)
		return "", false
	}
	return link + fragment, true
}

// Target resolves ref, as written in a file located in dir, to a source
// relative path. The fragment (including "#") is returned separately; the
// query is dropped. ok is false for references that do not name a local
// file: absolute URLs, protocol-relative URLs, fragments, mailto: and data:
// URIs, and paths leaving the source root.
func Target(dir, ref string) (target, fragment string, ok bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "//") || schemePattern.MatchString(ref) {
		return "", "", false
	}

	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref, fragment = ref[:i], ref[i:]
	}
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref = ref[:i]
	}
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}

	isDir := ref == "" || strings.HasSuffix(ref, "/")
	if strings.HasPrefix(ref, "/") {
		target = path.Clean(strings.TrimPrefix(ref, "/"))
	} else {
		target = path.Join(dir, ref)
	}
	if target == ".." || strings.HasPrefix(target, "../") {
		return "", "", false
	}
	if isDir || path.Ext(target) == "" {
		target = path.Join(target, "index.html")
	}
	return target, fragment, true
}
