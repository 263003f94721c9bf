package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/Ayash-Bera/intake/internal/app"
	"github.com/Ayash-Bera/intake/internal/config"
	"github.com/Ayash-Bera/intake/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "intakectl",
	Short: "Admin tool for the lead intake service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			utils.GetLogger().SetLevel(logrus.DebugLevel)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(clarifyCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func buildApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.Build(ctx, cfg, utils.GetLogger())
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
