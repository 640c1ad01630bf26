/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"qqbot/pkg/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "qqbot",
	Short: "QQ official bot protocol adapter",
	Long: `qqbot connects QQ official bot accounts to a local process.

It receives platform webhooks, normalizes them into message and notice
events, and delivers replies with markdown templates, buttons and media.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the active config file. Unlike config.LoadConfig it
// tolerates a missing file so environment-only setups and first-time admin
// commands work; an explicit QQBOT_CONFIG must still exist.
func loadConfig() (*config.Config, string, error) {
	path := config.Path()
	if strings.TrimSpace(os.Getenv("QQBOT_CONFIG")) != "" {
		cfg, err := config.LoadConfig()
		return cfg, path, err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// saveConfig validates cfg and writes it back to path.
func saveConfig(cmd *cobra.Command, cfg *config.Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
	return nil
}
