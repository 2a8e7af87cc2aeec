package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Upload records one call made against a Wiki
type Upload struct {
	URL      string
	Filename string
	Content  string
}

// Wiki is an in-memory wiki recording every upload. Assets are stored under
// BaseURL/images/<filename>.
type Wiki struct {
	BaseURL string

	// FailAsset and FailPage make uploads of matching filenames or URLs fail
	FailAsset map[string]bool
	FailPage  map[string]bool

	// BeforePage runs before each page upload is recorded
	BeforePage func(uploadURL string)

	mu     sync.Mutex
	Assets []Upload
	Pages  []Upload
}

// NewWiki returns an empty recording wiki
func NewWiki() *Wiki {
	return &Wiki{
		BaseURL:   "https://2020.igem.org/wiki/images",
		FailAsset: map[string]bool{},
		FailPage:  map[string]bool{},
	}
}

// UploadAsset records the asset and returns its URL
func (w *Wiki) UploadAsset(_ context.Context, data []byte, uploadURL, filename string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailAsset[filename] {
		return "", fmt.Errorf("upload of %s rejected", filename)
	}
	w.Assets = append(w.Assets, Upload{URL: uploadURL, Filename: filename, Content: string(data)})
	return w.BaseURL + "/" + filename, nil
}

// UploadPage records the page content
func (w *Wiki) UploadPage(_ context.Context, content, uploadURL string) error {
	if w.BeforePage != nil {
		w.BeforePage(uploadURL)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for failing := range w.FailPage {
		if strings.Contains(uploadURL, failing) {
			return fmt.Errorf("edit of %s rejected", uploadURL)
		}
	}
	w.Pages = append(w.Pages, Upload{URL: uploadURL, Content: content})
	return nil
}

// Reset forgets recorded uploads
func (w *Wiki) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Assets = nil
	w.Pages = nil
}

// PageCount returns the number of recorded page uploads
func (w *Wiki) PageCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Pages)
}

// AssetCount returns the number of recorded asset uploads
func (w *Wiki) AssetCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Assets)
}
