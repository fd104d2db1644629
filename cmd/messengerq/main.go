package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkrv/messengerq/internal/app"
	"github.com/mkrv/messengerq/internal/config"
	"github.com/mkrv/messengerq/internal/store"
	"github.com/mkrv/messengerq/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "messengerq",
	Short: "MessengerQ - messenger outreach automation",
	Long:  `MessengerQ queues recipients and sends messenger outreach under a daily quota.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the outreach server",
	Long:  `Start the MessengerQ server with the task engine and HTTP API.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("messengerq version %s\n", version.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// openStore opens the recipient store directly for offline CLI commands. It
// must not run while the server holds the database.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	s, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store (is the server running?): %w", err)
	}

	return s, cfg, nil
}

// resolveProfile returns the profile selected by --profile, falling back to
// the default profile seeded from the config.
func resolveProfile(s *store.Store, cfg *config.Config, id uint64) (*store.Profile, error) {
	if id != 0 {
		return s.GetProfile(id)
	}
	return s.EnsureDefaultProfile(store.ProfileDefaults{
		Nickname:   cfg.Profile.Nickname,
		DailyLimit: cfg.Profile.DailyLimit,
		Timezone:   cfg.Profile.Timezone,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Storage:     %s\n", cfg.Storage.Path)
	fmt.Printf("  API:         %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Messages:    %s\n", cfg.Messages.Path)
	fmt.Printf("  Daily limit: %d (%s)\n", cfg.Profile.DailyLimit, cfg.Profile.Timezone)

	return nil
}
