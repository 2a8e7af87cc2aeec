//go:build integration

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schaermu/wikisync/internal/config"
	"github.com/schaermu/wikisync/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the wikisync binary and runs it against a site in a
// temporary workspace
type Harness struct {
	t        *testing.T
	binary   string
	dir      string
	wiki     *testutil.MediaWiki
	username string
	password string
}

// NewHarness creates a workspace whose configuration points at wiki
func NewHarness(t *testing.T, wiki *testutil.MediaWiki) *Harness {
	t.Helper()
	h := &Harness{
		t:        t,
		dir:      t.TempDir(),
		wiki:     wiki,
		username: testutil.WikiUser,
		password: testutil.WikiPassword,
	}

	cfg := fmt.Sprintf(`team: %s
year: 2020
src_dir: src
build_dir: build
assets: [assets]
wiki:
  base_url: %s
  login_url: %s/Login2
  timeout: 10s
`, testutil.Team, wiki.URL, wiki.URL)
	h.WriteFile("config.yml", cfg)
	return h
}

// Build compiles the wikisync binary into the workspace
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.t.TempDir(), "wikisync")
	h.t.Logf("Building %s", h.binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/wikisync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// SetCredentials changes the account passed to later runs
func (h *Harness) SetCredentials(username, password string) {
	h.username = username
	h.password = password
}

// Run executes wikisync with args and the workspace configuration
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	args = append(args, "--config", h.Path("config.yml"), "--log-level", "debug")
	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = h.dir
	cmd.Env = h.env()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes wikisync and fails the test if it exits non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	require.NoError(h.t, err, "run failed")
	require.Equalf(h.t, 0, exitCode, "wikisync failed\nstdout: %s\nstderr: %s\nargs: %v",
		stdout, stderr, args)
	return stdout
}

// env returns the process environment with only the harness credentials set
func (h *Harness) env() []string {
	var env []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if isCredentialVar(name) {
			continue
		}
		env = append(env, kv)
	}
	return append(env,
		config.UsernameEnv[0]+"="+h.username,
		config.PasswordEnv[0]+"="+h.password)
}

func isCredentialVar(name string) bool {
	for _, v := range config.UsernameEnv {
		if v == name {
			return true
		}
	}
	for _, v := range config.PasswordEnv {
		if v == name {
			return true
		}
	}
	return false
}

// Path returns the absolute path of rel inside the workspace
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.dir, filepath.FromSlash(rel))
}

// WriteFile writes a file relative to the workspace, creating parents
func (h *Harness) WriteFile(rel, content string) {
	h.t.Helper()
	path := h.Path(rel)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0755), "mkdir parent")
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0644), "write file")
}

// ReadFile reads a file relative to the workspace
func (h *Harness) ReadFile(rel string) (string, error) {
	data, err := os.ReadFile(h.Path(rel))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists checks if a file exists in the workspace
func (h *Harness) FileExists(rel string) bool {
	_, err := os.Stat(h.Path(rel))
	return err == nil
}

// Requests returns the wiki requests received since the last reset
func (h *Harness) Requests() []testutil.Request {
	return h.wiki.Requests()
}

// ClearRequests resets the wiki request log
func (h *Harness) ClearRequests() {
	h.wiki.ClearRequests()
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
