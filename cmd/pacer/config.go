package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pacerhq/pacer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/pacer/pacer.yaml", "Path to configuration file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database path: %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("  Stats path: %s\n", cfg.Storage.StatsPath)
	fmt.Printf("  Gateway: %s\n", cfg.Gateway.BaseURL)
	fmt.Printf("  Stats retention: %d days\n", cfg.Storage.RetentionDays)

	return nil
}
