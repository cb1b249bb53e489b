/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"github.com/seckatie/betulon/internal/config"
	"github.com/seckatie/betulon/internal/core"
	"github.com/seckatie/betulon/internal/core/db"
	"github.com/seckatie/betulon/internal/core/state"
	"github.com/seckatie/betulon/internal/logging"
	"github.com/seckatie/betulon/internal/mastodon"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitFailure  = 1
	exitDeferred = 3
)

// rootCmd runs one sync when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "betulon",
	Short: "Mirror Mastodon bookmarks into a SQLite database",
	Long: `betulon copies the bookmarks of a Mastodon account into a SQLite
database. The database is created and migrated on first use, with Posts and
TagAssociations tables laid out like Betula's. Each run fetches only the
bookmarks added since the previous run and stores them as posts tagged
mastodon_bookmark.

If bookmarks keep changing while they are being fetched, the run gives up
without writing anything and exits with status 3; the next run retries.

Settings come from flags, then the environment, then an optional .env file:
MASTODON_URL, MASTODON_ACCESS_TOKEN, DB_PATH, STATE_PATH, LOG_LEVEL, LOG_PATH.`,
	SilenceUsage: true,
	RunE:         runSync,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, core.ErrSyncDeferred):
		return exitDeferred
	default:
		return exitFailure
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("db", "d", "betulon.db", "Path to the Betula SQLite database")
	rootCmd.PersistentFlags().String("state-dir", ".", "Directory holding the sync cursor")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-path", "", "Directory for betulon.log (default: stderr)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file to load")

	rootCmd.Flags().Bool("dry-run", false, "Fetch and verify, but write neither posts nor cursor")
	rootCmd.Flags().Bool("progress", false, "Show a progress indicator while posts are stored")
	rootCmd.Flags().Bool("archive", false, "Snapshot newly mirrored posts with Chrome")
	rootCmd.Flags().IntP("archive-workers", "w", 1, "Number of archive workers to run")
}

// loadSettings resolves the configuration and builds the logger. Close the
// returned Closer when done.
func loadSettings(cmd *cobra.Command) (*config.Config, *log.Logger, io.Closer, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read --env-file: %w", err)
	}
	cfg, err := config.Load(cmd.Flags(), envFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Dir:    cfg.LogPath,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func openDB(path string, logger *log.Logger) (*db.DB, error) {
	database, err := db.NewSQLiteDB(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Debug("database ready", "path", path)
	return database, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		return err
	}

	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return fmt.Errorf("failed to read --dry-run: %w", err)
	}
	showProgress, err := cmd.Flags().GetBool("progress")
	if err != nil {
		return fmt.Errorf("failed to read --progress: %w", err)
	}
	archive, err := cmd.Flags().GetBool("archive")
	if err != nil {
		return fmt.Errorf("failed to read --archive: %w", err)
	}
	workers, err := cmd.Flags().GetInt("archive-workers")
	if err != nil {
		return fmt.Errorf("failed to read --archive-workers: %w", err)
	}

	database, err := openDB(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	client, err := mastodon.NewClient(mastodon.Options{
		Server:       cfg.MastodonURL,
		AccessToken:  cfg.AccessToken,
		PageLimit:    cfg.PageLimit,
		Timeout:      cfg.Timeout,
		RateInterval: cfg.RateInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if showProgress {
		bar := progressbar.Default(-1, "storing posts")
		defer bar.Finish()
		database.RegisterEventListener(db.OnPostInsertedEvent, func(db.Event) error {
			return bar.Add(1)
		})
	}

	var queue *archiveQueue
	if archive && !dryRun {
		archiver := core.NewArchiver(database,
			core.NewChromeCapturer(core.ArchiveOptions{Headless: true}, logger),
			core.NewInliner(core.DefaultInlineOptions(), logger),
			logger)
		queue = startArchiveQueue(ctx, archiver, workers, logger)
		database.RegisterEventListener(db.OnPostInsertedEvent, func(event db.Event) error {
			ev := event.(db.PostInsertedEvent)
			logger.Debug("queuing post for archive", "id", ev.Post.ID, "url", ev.Post.URL)
			queue.enqueue(ev.Post)
			return nil
		})
	}

	syncer := core.NewSyncer(
		core.NewFetcher(client, logger),
		database,
		state.NewStore(cfg.StatePath, logger),
		core.SyncOptions{
			ExtraTags:   cfg.ExtraTags,
			MaxAttempts: cfg.MaxAttempts,
			RetryDelay:  cfg.RetryDelay,
			DryRun:      dryRun,
		},
		logger,
	)
	res, err := syncer.Run(ctx)

	if queue != nil {
		ar := queue.wait()
		if ar.Attempted > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d of %d post(s)\n", ar.Succeeded, ar.Attempted)
		}
	}
	if err != nil {
		return err
	}

	printSyncResult(cmd.OutOrStdout(), res)
	return nil
}

func printSyncResult(w io.Writer, res core.SyncResult) {
	if res.DryRun {
		fmt.Fprintf(w, "dry run: %d bookmark(s) would be mirrored, min_id would be %d\n", res.Fetched, res.MinID)
		for _, b := range res.Bookmarks {
			fmt.Fprintf(w, "  %s\n", b.URL)
		}
		return
	}
	kind := "incremental"
	if res.FullSync {
		kind = "full"
	}
	fmt.Fprintf(w, "mirrored %d new bookmark(s) (%s sync), min_id %d\n", res.Inserted, kind, res.MinID)
}
