package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/polite-crawler/pkg/crawler"
	"github.com/Sriram-PR/polite-crawler/pkg/models"
)

// NewFetchCmd creates the fetch command
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <url> [url...]",
		Short: "Politely fetch one or more URLs and report the outcome",
		Long: `Fetch runs each URL through robots.txt, the domain configuration and the
backoff registry before fetching it. URLs are processed in order and share
backoff state, so repeated failures against one domain escalate its window.

Examples:
  polite-crawler fetch https://www.example.com/recipes/1
  polite-crawler fetch --body https://www.example.com/ > page.html`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalls(cmd, args, crawler.ModeCrawl)
		},
	}
	cmd.Flags().Bool("body", false, "Write the fetched body to stdout instead of a report")
	return cmd
}

// NewResolveCmd creates the resolve command
func NewResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url> [url...]",
		Short: "Report the canonical URL each URL resolves to",
		Long: `Resolve follows redirects and reads <link rel="canonical"> to find the URL
a page stands for. It applies the same politeness checks as fetch, but does
not wait out a Retry-After on the final response.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalls(cmd, args, crawler.ModeResolve)
		},
	}
}

func runCalls(cmd *cobra.Command, urls []string, mode crawler.Mode) error {
	log := setupLogger(cmd)
	cfg, err := loadAppConfig(cmd, log)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	bodyOnly := false
	if mode == crawler.ModeCrawl {
		bodyOnly, _ = cmd.Flags().GetBool("body")
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

	failed := 0
	for _, rawURL := range urls {
		report := call(ctx, orch, mode, rawURL)
		if report.Outcome != models.OutcomeSuccess {
			failed++
		}
		if bodyOnly {
			if report.Page != nil {
				if _, err := cmd.OutOrStdout().Write(report.Page.Body); err != nil {
					return err
				}
			}
			continue
		}
		if err := out.encode(report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d %s calls did not succeed", failed, len(urls), mode)
	}
	return nil
}

func call(ctx context.Context, orch *crawler.Orchestrator, mode crawler.Mode, rawURL string) models.Report {
	if mode == crawler.ModeResolve {
		res, err := orch.Resolve(ctx, rawURL)
		return crawler.ReportFor(rawURL, nil, res, err)
	}
	page, err := orch.Crawl(ctx, rawURL)
	return crawler.ReportFor(rawURL, page, nil, err)
}
