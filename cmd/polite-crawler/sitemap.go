package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/polite-crawler/pkg/crawler"
)

// NewSitemapCmd creates the sitemap command
func NewSitemapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemap <url>",
		Short: "List page URLs from a site's sitemaps",
		Long: `Sitemap reads the Sitemap lines of the site's robots.txt (or /sitemap.xml
when there are none) and follows sitemap indexes, fetching every document
politely. The combined page list is written as a report.`,
		Args: cobra.ExactArgs(1),
		RunE: runSitemapCmd,
	}
	cmd.Flags().Int("max-docs", crawler.DefaultMaxSitemapDocs, "Maximum number of sitemap documents to fetch (must be positive)")
	return cmd
}

func runSitemapCmd(cmd *cobra.Command, args []string) error {
	log := setupLogger(cmd)
	cfg, err := loadAppConfig(cmd, log)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	maxDocs, _ := cmd.Flags().GetInt("max-docs")
	if maxDocs <= 0 {
		return fmt.Errorf("--max-docs must be positive, got %d", maxDocs)
	}

	out, err := newReportWriter(cmd, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer out.close()

	orch, err := crawler.New(cfg, log)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listing, err := orch.SitemapURLs(ctx, args[0], maxDocs)
	if err != nil {
		return err
	}
	return out.encode(listing)
}
