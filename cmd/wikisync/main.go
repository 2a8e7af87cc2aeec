package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/schaermu/wikisync/internal/config"
	"github.com/schaermu/wikisync/internal/site"
	"github.com/schaermu/wikisync/internal/sync"
	"github.com/schaermu/wikisync/internal/transform"
	"github.com/schaermu/wikisync/internal/watch"
	"github.com/schaermu/wikisync/internal/wiki"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string
	dryRun    bool
	strict    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wikisync",
	Short: "Synchronize a static site with the iGEM team wiki",
	Long: `wikisync uploads a local static site (HTML, CSS, JavaScript and assets) to a
MediaWiki based team wiki.

Only files whose content changed since the last run are uploaded. Assets are
uploaded first, then every page is rewritten to link to the URLs the wiki
assigned to them.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time sync from the source directory to the wiki",
	Long: `Sync classifies the files below the source directory, uploads new and changed
assets, then rewrites and uploads every page whose transformed content changed.

State is kept in the sync map between runs. Pages that fail to upload are
retried by the next run.`,
	RunE: runSync,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync, then sync again whenever the source directory changes",
	Long: `Watch performs an initial sync and then watches the source directory for
changes. Bursts of changes are collapsed into a single sync after the
configured debounce delay.`,
	RunE: runWatch,
}

var identityCmd = &cobra.Command{
	Use:   "identity <path>...",
	Short: "Print where source files are uploaded to",
	Long: `Identity prints the category, upload URL and link URL of each path, relative
to the source directory, without contacting the wiki. Assets print their
upload filename instead of a link URL, which is only known after upload.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIdentity,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wikisync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yml, then $XDG_CONFIG_HOME/wikisync/config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotating file instead of stdout")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be uploaded without contacting the wiki")
	syncCmd.Flags().BoolVar(&strict, "strict", false, "exit with an error if any file failed to sync")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s := newSession(cfg, afero.NewOsFs(), config.TerminalPrompt(), logger)

	// Run sync
	logger.Info("starting sync operation")
	report, err := s.sync(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return checkReport(report)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fsys := afero.NewOsFs()
	s := newSession(cfg, fsys, config.TerminalPrompt(), logger)

	// Log in before watching so bad credentials fail fast
	if _, err := s.connect(ctx); err != nil {
		logger.Error("login failed", "error", err)
		return err
	}

	w := watch.New(cfg, fsys, func(ctx context.Context) error {
		_, err := s.sync(ctx)
		return err
	}, logger, clockwork.NewRealClock())

	return w.Start(ctx)
}

func runIdentity(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, arg := range args {
		rel := arg
		if filepath.IsAbs(rel) {
			if rel, err = filepath.Rel(cfg.SrcDir, rel); err != nil {
				return fmt.Errorf("failed to resolve %s: %w", arg, err)
			}
		}
		printIdentity(out, site.NewFile(cfg, rel))
	}
	return nil
}

func printIdentity(out io.Writer, f site.File) {
	_, _ = fmt.Fprintf(out, "%s\n", f.RelPath)
	_, _ = fmt.Fprintf(out, "  category:   %s\n", f.Category)
	if f.Category == site.Unsupported {
		return
	}
	_, _ = fmt.Fprintf(out, "  upload url: %s\n", f.UploadURL)
	if f.Category == site.Asset {
		_, _ = fmt.Fprintf(out, "  filename:   %s\n", f.UploadFilename)
		return
	}
	_, _ = fmt.Fprintf(out, "  link url:   %s\n", f.LinkURL)
}

// checkReport turns per-file failures into an error in strict mode
func checkReport(report *sync.Report) error {
	if strict && len(report.Failed) > 0 {
		return fmt.Errorf("%d file(s) failed to sync", len(report.Failed))
	}
	return nil
}

// session holds the logged-in wiki client shared by the runs of one process
type session struct {
	cfg    *config.Config
	fs     afero.Fs
	prompt config.PasswordPrompt
	logger *slog.Logger
	client *wiki.Client
}

func newSession(cfg *config.Config, fsys afero.Fs, prompt config.PasswordPrompt, logger *slog.Logger) *session {
	return &session{cfg: cfg, fs: fsys, prompt: prompt, logger: logger}
}

// connect logs in on first use
func (s *session) connect(ctx context.Context) (*wiki.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	creds, err := config.LoadCredentials(s.cfg.EnvFilePath(), s.prompt)
	if err != nil {
		return nil, err
	}

	client, err := wiki.NewClient(s.cfg, s.fs, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create wiki client: %w", err)
	}
	client.LoadCookies()

	if err := client.Login(ctx, creds); err != nil {
		return nil, err
	}
	if err := client.SaveCookies(); err != nil {
		s.logger.Warn("failed to save cookies", "path", s.cfg.State.CookieFile, "error", err)
	}

	s.client = client
	return client, nil
}

// sync runs the engine once. Dry runs never contact the wiki.
func (s *session) sync(ctx context.Context) (*sync.Report, error) {
	var w sync.Wiki
	if !dryRun {
		client, err := s.connect(ctx)
		if err != nil {
			return nil, err
		}
		w = client
	}

	engine := sync.NewEngine(s.cfg, s.fs, w, transform.New(s.logger), s.logger, dryRun)
	report, err := engine.Run(ctx)

	if s.client != nil {
		if saveErr := s.client.SaveCookies(); saveErr != nil {
			s.logger.Warn("failed to save cookies", "path", s.cfg.State.CookieFile, "error", saveErr)
		}
	}
	return report, err
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"team", cfg.Team,
		"year", cfg.Year,
		"src_dir", cfg.SrcDir,
		"build_dir", cfg.BuildDir,
		"sync_map", cfg.State.SyncMap,
		"base_url", cfg.Wiki.BaseURL)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
