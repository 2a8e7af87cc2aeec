package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/schaermu/wikisync/internal/config"
	"github.com/schaermu/wikisync/internal/site"
	"github.com/schaermu/wikisync/internal/syncmap"
)

// Engine orchestrates the sync process
type Engine struct {
	cfg         *config.Config
	fs          afero.Fs
	wiki        Wiki
	transformer Transformer
	logger      *slog.Logger
	dryRun      bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, fsys afero.Fs, wiki Wiki, transformer Transformer, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:         cfg,
		fs:          fsys,
		wiki:        wiki,
		transformer: transformer,
		logger:      logger,
		dryRun:      dryRun,
	}
}

// Run executes one complete sync: every asset is uploaded (and the sync map
// checkpointed) before any document is transformed, because documents link
// to the URLs the wiki assigns to assets.
//
// The returned error is fatal for the run. Documents that fail individually
// are listed in Report.Failed instead.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.logger.Info("starting sync",
		"src", e.cfg.SrcDir,
		"team", e.cfg.Team,
		"dry_run", e.dryRun)

	// The build directory is about to be emptied
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Load previous state
	m, err := e.loadMap()
	if err != nil {
		return nil, err
	}

	// Discover and classify source files
	tree, err := site.Discover(e.fs, e.cfg, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to discover source files: %w", err)
	}
	e.logger.Info("discovered source files",
		"assets", len(tree.Assets),
		"html", len(tree.HTML),
		"css", len(tree.CSS),
		"js", len(tree.JS),
		"unsupported", len(tree.Unsupported))

	report := &Report{Unsupported: len(tree.Unsupported)}

	if !e.dryRun {
		e.cleanBuildDir()
	}

	docs := tree.Documents()
	registerDocuments(m, docs)

	// Asset phase
	if err := e.syncAssets(ctx, m, tree.Assets, report); err != nil {
		if saveErr := e.saveMap(m); saveErr != nil {
			e.logger.Error("failed to save sync map after asset failure", "error", saveErr)
		} else if !e.dryRun {
			e.logger.Info("sync map saved, re-run to continue where this run stopped")
		}
		return report, err
	}

	// Checkpoint so a crash during the document phase keeps the asset uploads
	if err := e.saveMap(m); err != nil {
		e.logger.Error("failed to checkpoint sync map after asset phase", "error", err)
	}

	// Document phase
	for _, f := range docs {
		if err := ctx.Err(); err != nil {
			if saveErr := e.saveMap(m); saveErr != nil {
				e.logger.Error("failed to save sync map after interruption", "error", saveErr)
			}
			return report, fmt.Errorf("sync interrupted: %w", err)
		}

		if err := e.syncDocument(ctx, m, f, report); err != nil {
			var fe *FileError
			if !errors.As(err, &fe) {
				return report, err
			}
			e.logger.Error("skipping document", "path", fe.Path, "op", fe.Op, "error", fe.Err)
			report.Failed = append(report.Failed, fe)
		}
	}

	// Final checkpoint, regardless of individual failures
	if err := e.saveMap(m); err != nil {
		e.logger.Error("failed to save sync map", "error", err)
		return report, fmt.Errorf("%w: %v", ErrStateNotPersisted, err)
	}

	e.logger.Info("sync completed",
		"assets_uploaded", report.AssetsUploaded,
		"assets_unchanged", report.AssetsUnchanged,
		"documents_uploaded", report.DocumentsUploaded,
		"documents_unchanged", report.DocumentsUnchanged,
		"failed", len(report.Failed))
	return report, nil
}

// syncAssets uploads new and changed assets. Any failure aborts the phase:
// documents must not be published while asset links may be missing.
func (e *Engine) syncAssets(ctx context.Context, m syncmap.Map, assets []site.File, report *Report) error {
	for _, f := range assets {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync interrupted: %w", err)
		}

		// The uploaded bytes are the hashed bytes
		data, err := afero.ReadFile(e.fs, f.SourcePath)
		if err != nil {
			return fmt.Errorf("failed to read asset %s: %w", f.RelPath, err)
		}
		digest := HashBytes(data)

		prev, exists := m.Get(syncmap.Assets, f.RelPath)
		if exists && prev.Digest == digest {
			e.logger.Debug("asset unchanged", "path", f.RelPath)
			report.AssetsUnchanged++
			continue
		}

		if e.dryRun {
			e.logger.Info("[dry-run] would upload asset", "path", f.RelPath, "filename", f.UploadFilename)
			report.AssetsUploaded++
			continue
		}

		e.logger.Info("uploading asset", "path", f.RelPath, "filename", f.UploadFilename, "changed", exists)
		link, err := e.wiki.UploadAsset(ctx, data, f.UploadURL, f.UploadFilename)
		if err != nil {
			return fmt.Errorf("failed to upload asset %s: %w", f.RelPath, err)
		}

		m.Put(syncmap.Assets, f.RelPath, syncmap.Entry{
			Digest:         digest,
			LinkURL:        link,
			UploadFilename: f.UploadFilename,
		})
		report.AssetsUploaded++
	}
	return nil
}

// syncDocument transforms one document and uploads it if its transformed
// content changed. Every failure is returned as a *FileError.
func (e *Engine) syncDocument(ctx context.Context, m syncmap.Map, f site.File, report *Report) error {
	section := f.Category.Section()

	raw, err := afero.ReadFile(e.fs, f.SourcePath)
	if err != nil {
		return fileError(f, "read", err)
	}

	content, err := e.transformer.Transform(f, string(raw), m)
	if err != nil {
		return fileError(f, "transform", err)
	}

	digest := HashText(content)
	prev, _ := m.Get(section, f.RelPath)
	if prev.Digest == digest {
		e.logger.Info("contents uploaded previously, skipping", "path", f.RelPath)
		report.DocumentsUnchanged++
		return nil
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would upload page", "path", f.RelPath, "url", f.LinkURL)
		report.DocumentsUploaded++
		return nil
	}

	if err := e.writeBuild(f, content); err != nil {
		return fileError(f, "write build output", err)
	}

	e.logger.Info("uploading page", "path", f.RelPath, "url", f.LinkURL)
	if err := e.wiki.UploadPage(ctx, content, f.UploadURL); err != nil {
		return fileError(f, "upload", err)
	}

	// Stored only once the wiki has the content, so a failed upload is
	// retried by the next run.
	m.Put(section, f.RelPath, syncmap.Entry{Digest: digest, LinkURL: f.LinkURL})
	report.DocumentsUploaded++
	return nil
}

// registerDocuments records the link URL of every document before anything
// is transformed. Document URLs are deterministic, so references between
// documents resolve even for pages not uploaded yet.
func registerDocuments(m syncmap.Map, docs []site.File) {
	for _, f := range docs {
		section := f.Category.Section()
		entry, _ := m.Get(section, f.RelPath)
		entry.LinkURL = f.LinkURL
		m.Put(section, f.RelPath, entry)
	}
}

// writeBuild writes transformed content below the build directory
func (e *Engine) writeBuild(f site.File, content string) error {
	if err := e.fs.MkdirAll(filepath.Dir(f.BuildPath), 0755); err != nil {
		return err
	}
	return afero.WriteFile(e.fs, f.BuildPath, []byte(content), 0644)
}

// cleanBuildDir empties the build directory so it only holds what this run
// uploaded
func (e *Engine) cleanBuildDir() {
	if err := e.fs.RemoveAll(e.cfg.BuildDir); err != nil {
		e.logger.Warn("failed to clear build directory", "path", e.cfg.BuildDir, "error", err)
		return
	}
	if err := e.fs.MkdirAll(e.cfg.BuildDir, 0755); err != nil {
		e.logger.Warn("failed to create build directory", "path", e.cfg.BuildDir, "error", err)
	}
}

// loadMap loads the previous sync map. A corrupt file is moved aside and the
// run starts from an empty map; a malformed section is fatal.
func (e *Engine) loadMap() (syncmap.Map, error) {
	path := e.cfg.State.SyncMap
	m, err := syncmap.Load(e.fs, path)
	if err == nil {
		e.logger.Debug("loaded sync map", "path", path, "entries", m.Len())
		return m, nil
	}
	if errors.Is(err, syncmap.ErrMalformed) {
		return nil, fmt.Errorf("failed to load sync map %s: %w", path, err)
	}

	e.logger.Warn("failed to load previous sync map (will treat as fresh sync)", "path", path, "error", err)
	if !e.dryRun {
		backup := path + ".corrupt"
		if renameErr := e.fs.Rename(path, backup); renameErr == nil {
			e.logger.Warn("moved unreadable sync map aside", "backup", backup)
		}
	}
	return m, nil
}

// saveMap persists the sync map; a no-op in dry-run mode
func (e *Engine) saveMap(m syncmap.Map) error {
	if e.dryRun {
		return nil
	}
	if err := syncmap.Save(e.fs, e.cfg.State.SyncMap, m); err != nil {
		return err
	}
	e.logger.Debug("saved sync map", "path", e.cfg.State.SyncMap, "entries", m.Len())
	return nil
}
