package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/polite-crawler/pkg/config"
)

// NewValidateCmd creates the validate command
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE:  runValidateCmd,
	}
}

func runValidateCmd(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	warnings, err := cfg.Validate()
	out := cmd.OutOrStdout()
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	fmt.Fprintf(out, "%s: OK (user agent %q, robots agent %q, proxy %q)\n",
		path, cfg.UserAgent, config.GetEffectiveRobotsAgent(*cfg), cfg.Proxy.URL)
	return nil
}
