/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/seckatie/betulon/internal/core/db"
	"github.com/spf13/cobra"
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List mirrored posts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runPosts,
}

func runPosts(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	tag, err := cmd.Flags().GetString("tag")
	if err != nil {
		return fmt.Errorf("failed to read --tag: %w", err)
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("failed to read --limit: %w", err)
	}

	database, err := openDB(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	posts, err := database.ListPosts(db.ListPostsOptions{Tag: tag, Limit: limit})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range posts {
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", p.ID, p.CreationTime, p.URL, strings.Join(p.Tags, ","))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(postsCmd)

	postsCmd.Flags().String("tag", "", "Only posts with this tag")
	postsCmd.Flags().IntP("limit", "n", 20, "Maximum number of posts (0 = all)")
}
