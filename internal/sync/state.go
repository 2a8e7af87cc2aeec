package sync

import (
	"context"

	"github.com/schaermu/wikisync/internal/site"
	"github.com/schaermu/wikisync/internal/syncmap"
)

// Wiki uploads content to the remote wiki
type Wiki interface {
	// UploadAsset uploads an opaque file under filename and returns the URL
	// the wiki serves it from
	UploadAsset(ctx context.Context, data []byte, uploadURL, filename string) (string, error)
	// UploadPage replaces the content of the page edited at uploadURL
	UploadPage(ctx context.Context, content, uploadURL string) error
}

// Transformer rewrites references inside a document using the link URLs
// known to the sync map. It must not modify the map.
type Transformer interface {
	Transform(f site.File, content string, m syncmap.Map) (string, error)
}

// Report summarizes a run
type Report struct {
	AssetsUploaded     int
	AssetsUnchanged    int
	DocumentsUploaded  int
	DocumentsUnchanged int
	Unsupported        int

	// Failed lists documents skipped because of a FileError
	Failed []*FileError
}

// Uploaded returns the number of uploads performed (or planned in dry-run)
func (r *Report) Uploaded() int {
	return r.AssetsUploaded + r.DocumentsUploaded
}
