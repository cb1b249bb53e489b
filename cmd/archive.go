/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/

// The archive command snapshots mirrored posts with a real browser and stores
// the rendered HTML next to the post.
//
// Example usage:
//
//	betulon archive --id=123 --timeout=30s --wait-selector=".status__content"
//	betulon archive --limit=10 --headful
package cmd

import (
	"fmt"
	"runtime"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/seckatie/betulon/internal/core"
	"github.com/seckatie/betulon/internal/core/db"
	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Snapshot mirrored posts that have no archive yet",
	RunE:  runArchive,
}

const macChromePath = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"

// archiveOptions reads the browser flags.
func archiveOptions(cmd *cobra.Command) (core.ArchiveOptions, error) {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return core.ArchiveOptions{}, fmt.Errorf("failed to read --timeout: %w", err)
	}
	waitSelector, err := cmd.Flags().GetString("wait-selector")
	if err != nil {
		return core.ArchiveOptions{}, fmt.Errorf("failed to read --wait-selector: %w", err)
	}
	chromePath, err := cmd.Flags().GetString("chrome-path")
	if err != nil {
		return core.ArchiveOptions{}, fmt.Errorf("failed to read --chrome-path: %w", err)
	}
	headful, err := cmd.Flags().GetBool("headful")
	if err != nil {
		return core.ArchiveOptions{}, fmt.Errorf("failed to read --headful: %w", err)
	}
	if chromePath == "" && runtime.GOOS == "darwin" {
		chromePath = macChromePath
	}
	return core.ArchiveOptions{
		ChromePath:   chromePath,
		Headless:     !headful,
		Timeout:      timeout,
		WaitSelector: waitSelector,
	}, nil
}

// inlineOptions reads the resource inlining flags.
func inlineOptions(cmd *cobra.Command) (core.InlineOptions, error) {
	opts := core.DefaultInlineOptions()
	keepScripts, err := cmd.Flags().GetBool("keep-scripts")
	if err != nil {
		return opts, fmt.Errorf("failed to read --keep-scripts: %w", err)
	}
	opts.KeepScripts = keepScripts
	return opts, nil
}

func runArchive(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	id, err := cmd.Flags().GetInt64("id")
	if err != nil {
		return fmt.Errorf("failed to read --id: %w", err)
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("failed to read --limit: %w", err)
	}
	showProgress, err := cmd.Flags().GetBool("progress")
	if err != nil {
		return fmt.Errorf("failed to read --progress: %w", err)
	}
	opts, err := archiveOptions(cmd)
	if err != nil {
		return err
	}
	inlineOpts, err := inlineOptions(cmd)
	if err != nil {
		return err
	}

	database, err := openDB(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	runOpts := core.ArchiveRunOptions{ID: id, Limit: limit}
	if showProgress {
		bar := progressbar.Default(-1, "archiving")
		defer bar.Finish()
		runOpts.OnResult = func(db.Post, error) { _ = bar.Add(1) }
	}

	archiver := core.NewArchiver(database, core.NewChromeCapturer(opts, logger), core.NewInliner(inlineOpts, logger), logger)
	res, err := archiver.Run(cmd.Context(), runOpts)
	if res.Attempted > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "archived %d of %d post(s)\n", res.Succeeded, res.Attempted)
	} else if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no posts to archive")
	}
	return err
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().Int64("id", 0, "Archive a specific post id")
	archiveCmd.Flags().Int("limit", 0, "Limit the number of posts to archive (0 = all unarchived)")
	archiveCmd.Flags().Duration("timeout", 40*time.Second, "Per-post archive timeout")
	archiveCmd.Flags().String("wait-selector", "", "Optional CSS selector to wait for (useful for JS-heavy pages)")
	archiveCmd.Flags().String("chrome-path", "", "Path to Chrome/Chromium executable")
	archiveCmd.Flags().Bool("headful", false, "Run Chrome with a visible window (not headless)")
	archiveCmd.Flags().Bool("keep-scripts", false, "Inline external scripts instead of dropping them from snapshots")
	archiveCmd.Flags().Bool("progress", false, "Show a progress indicator")
}
