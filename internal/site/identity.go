package site

import (
	"net/url"
	"path"
	"strings"

	"github.com/schaermu/wikisync/internal/config"
)

// Identity is where a file is uploaded to and how other files link to it.
// It is computed from the relative path and configuration alone, so it is
// the same on every run.
type Identity struct {
	// UploadURL is the edit form (documents) or upload form (assets)
	UploadURL string
	// LinkURL is the public URL of a document. Assets only get one once the
	// wiki has stored them.
	LinkURL string
	// UploadFilename is the remote file name of an asset
	UploadFilename string
}

const (
	assetDelimiter = "--"
	assetPrefix    = "T"
)

// Resolve computes the remote identity of relPath for the given category.
// relPath is slash-separated and relative to the source directory.
func Resolve(cfg *config.Config, relPath string, category Category) Identity {
	base := cfg.Wiki.BaseURL
	team := cfg.Team

	switch category {
	case HTML:
		title := "Team:" + team + PagePath(relPath)
		return Identity{
			UploadURL: editURL(base, title),
			LinkURL:   base + escapePath("/"+title),
		}
	case CSS:
		title := "Template:" + team + TemplatePath(relPath, "CSS")
		return Identity{
			UploadURL: editURL(base, title),
			LinkURL:   base + escapePath("/"+title) + "?action=raw&ctype=text/css",
		}
	case JS:
		title := "Template:" + team + TemplatePath(relPath, "JS")
		return Identity{
			UploadURL: editURL(base, title),
			LinkURL:   base + escapePath("/"+title) + "?action=raw&ctype=text/javascript",
		}
	case Asset:
		return Identity{
			UploadURL:      base + "/Special:Upload",
			UploadFilename: AssetFilename(team, relPath, cfg.SingleAssetRoot()),
		}
	}
	return Identity{}
}

// PagePath returns the page suffix for an HTML file: its parent directory
// with a leading slash, or "" for files at the source root (the team's
// main page). The file name itself never appears in the page title.
func PagePath(relPath string) string {
	dir := path.Dir(relPath)
	if dir == "." || dir == "/" {
		return ""
	}
	return "/" + dir
}

// TemplatePath returns the template suffix for a stylesheet or script:
// parent/stem with dots replaced by dashes, tagged with kind so a CSS and a
// JS file sharing a name get distinct templates.
func TemplatePath(relPath, kind string) string {
	stem := strings.TrimSuffix(path.Base(relPath), path.Ext(relPath))
	name := path.Join(path.Dir(relPath), stem)
	return "/" + strings.ReplaceAll(name, ".", "-") + kind
}

// AssetFilename builds the remote file name of an asset from the team name
// and the path segments. With a single asset root the leading directory is
// redundant and dropped.
func AssetFilename(team, relPath string, singleRoot bool) string {
	parts := strings.Split(relPath, "/")
	if singleRoot && len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(append([]string{assetPrefix, team}, parts...), assetDelimiter)
}

// titleEscaper keeps the separators of page titles readable in queries
var titleEscaper = strings.NewReplacer("%2F", "/", "%3A", ":")

// editURL returns the edit form of the page title
func editURL(base, title string) string {
	return base + "/wiki/index.php?title=" + titleEscaper.Replace(url.QueryEscape(title)) + "&action=edit"
}

func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
