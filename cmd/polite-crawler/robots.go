package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/polite-crawler/pkg/config"
	"github.com/Sriram-PR/polite-crawler/pkg/crawler"
	"github.com/Sriram-PR/polite-crawler/pkg/parse"
)

type robotsReport struct {
	URL               string   `json:"url" yaml:"url"`
	Domain            string   `json:"domain" yaml:"domain"`
	Source            string   `json:"source" yaml:"source"`
	StatusCode        int      `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Agent             string   `json:"agent" yaml:"agent"`
	Class             string   `json:"class" yaml:"class"`
	Allowed           bool     `json:"allowed" yaml:"allowed"`
	CrawlDelaySeconds float64  `json:"crawl_delay_seconds,omitempty" yaml:"crawl_delay_seconds,omitempty"`
	Sitemaps          []string `json:"sitemaps,omitempty" yaml:"sitemaps,omitempty"`
}

// NewRobotsCmd creates the robots command
func NewRobotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "robots <url>",
		Short: "Show how robots.txt applies to a URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runRobotsCmd,
	}
}

func runRobotsCmd(cmd *cobra.Command, args []string) error {
	log := setupLogger(cmd)
	cfg, err := loadAppConfig(cmd, log)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	target, err := parse.ParseTarget(args[0])
	if err != nil {
		return err
	}

	orch, err := crawler.New(cfg, log)
	if err != nil {
		return err
	}
	defer orch.Close()

	domain, err := parse.NewExtractor(cfg.PrivateSuffixes).DomainOfHost(target.Hostname())
	if err != nil {
		return err
	}
	policy := orch.Robots().PolicyFor(cmd.Context(), domain, target)
	agent := config.GetEffectiveRobotsAgent(*cfg)

	report := robotsReport{
		URL:               target.String(),
		Domain:            domain,
		Source:            policy.Source,
		StatusCode:        policy.StatusCode,
		Agent:             agent,
		Class:             policy.Ruleset.Classify(agent).String(),
		Allowed:           policy.Allowed(target, agent),
		CrawlDelaySeconds: policy.CrawlDelay(agent).Seconds(),
		Sitemaps:          policy.Ruleset.Sitemaps(),
	}

	out, err := newReportWriter(cmd, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer out.close()
	return out.encode(report)
}
