package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/config"
	"github.com/Ayash-Bera/intake/internal/database"
	"github.com/Ayash-Bera/intake/internal/migration"
	"github.com/Ayash-Bera/intake/pkg/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the schema and SQL migrations to postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is required")
		}
		logger := utils.GetLogger()
		manager, err := database.NewManager(cmd.Context(), &database.Config{
			DatabaseURL: cfg.Database.URL,
			LogLevel:    logger.GetLevel().String(),
		}, logger)
		if err != nil {
			return err
		}
		defer manager.Close()
		return migration.NewRunner(manager, logger).RunMigrations()
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect clarification sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the session view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.Service.GetSessionView(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(view)
	},
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Print the session audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.Service.Events(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-22s v%d seq=%d  %s\n",
				e.CreatedAt.Format(time.RFC3339), e.Type, e.Version, e.Seq, string(e.Payload))
		}
		return nil
	},
}

var (
	clarifyMax     int
	clarifyDomain  string
	clarifyTimeout time.Duration
)

// clarifyCmd runs question generation against an in-memory store so the
// configured provider and policy can be tried without touching postgres.
var clarifyCmd = &cobra.Command{
	Use:   "clarify <query>",
	Short: "Generate clarifying questions for a query (dry run)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.Storage.Mode = config.StorageMemory
		cfg.Redis.URL = ""
		cfg.NATS.URL = ""
		if err := cfg.Validate(); err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.Service.Start(cmd.Context(), clarify.StartInput{
			OriginalQuery: strings.Join(args, " "),
			Domain:        clarifyDomain,
			MaxQuestions:  clarifyMax,
			Timeout:       clarifyTimeout,
		})
		if err != nil {
			return err
		}
		return printJSON(view)
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionEventsCmd)

	clarifyCmd.Flags().IntVar(&clarifyMax, "max", 0, "maximum number of questions")
	clarifyCmd.Flags().StringVar(&clarifyDomain, "domain", "", "domain hint for the generator")
	clarifyCmd.Flags().DurationVar(&clarifyTimeout, "timeout", 0, "generation timeout")
}
