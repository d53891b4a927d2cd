/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"

	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML (token redacted)",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
	showCmd.Flags().Bool("validate", false, "Fail when the configuration is not usable for a cleanup run")
	addSpaceFlags(showCmd.Flags())
	addScanFlags(showCmd.Flags())
	addPipelineFlags(showCmd.Flags())
	cmd.AddCommand(showCmd)
	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	validate, _ := cmd.Flags().GetBool("validate")

	cfg, err := config.Read(cmd.Flags())
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to format YAML: %w", err)
	}
	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return err
	}
	if validate {
		return cfg.Validate()
	}
	return nil
}
