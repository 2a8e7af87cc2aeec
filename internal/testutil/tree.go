package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/schaermu/wikisync/internal/config"
)

// Team is the team name used by Config
const Team = "MYTEAM"

// Config returns a validated configuration rooted at dir with a single asset
// root, for year 2020.
func Config(dir string) *config.Config {
	return &config.Config{
		Team:     Team,
		Year:     2020,
		SrcDir:   filepath.Join(dir, "src"),
		BuildDir: filepath.Join(dir, "build"),
		Assets:   []string{"assets"},
		State: config.StateConfig{
			SyncMap:    filepath.Join(dir, "upload_map.yml"),
			CookieFile: filepath.Join(dir, "wikisync.cookies"),
		},
		Wiki: config.WikiConfig{
			BaseURL:            "https://2020.igem.org",
			LoginURL:           config.DefaultLoginURL,
			LoginSuccessMarker: config.DefaultLoginSuccessMarker,
		},
		Dir: dir,
	}
}

// WriteTree creates files under root. Keys are slash-separated paths
// relative to root.
func WriteTree(t testing.TB, fsys afero.Fs, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fsys, path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// Logger returns a logger that discards everything below error level
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
