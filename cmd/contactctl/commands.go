package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/contactlink/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/contactlink/internal/bootstrap"
	"github.com/ericfisherdev/contactlink/internal/config"
	"github.com/ericfisherdev/contactlink/internal/domain/model"
)

// globalFlags override the CONTACTLINK_ environment for one invocation.
type globalFlags struct {
	dbPath   string
	store    string
	logLevel string
}

func newRootCommand(out io.Writer) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "contactctl",
		Short: "Operate a contactlink contact database",
		Long: `contactctl works directly on the contact store configured by the
CONTACTLINK_ environment variables. Flags override the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db-path", "", "SQLite database path (overrides CONTACTLINK_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&flags.store, "store", "", "store backend: sqlite or memory (overrides CONTACTLINK_STORE)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides CONTACTLINK_LOG_LEVEL)")

	rootCmd.AddCommand(
		newIdentifyCommand(flags),
		newContactsCommand(flags),
		newMigrateCommand(flags),
	)

	return rootCmd
}

// loadConfig reads the environment and applies flag overrides.
func (f *globalFlags) loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	switch f.store {
	case "":
	case config.StoreSQLite, config.StoreMemory:
		cfg.Store = f.store
	default:
		return nil, nil, fmt.Errorf("--store must be %q or %q, got %q", config.StoreSQLite, config.StoreMemory, f.store)
	}
	if f.logLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(f.logLevel)); err != nil {
			return nil, nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	return cfg, cfg.NewLogger(io.Discard), nil
}

func newIdentifyCommand(flags *globalFlags) *cobra.Command {
	var email, phone string

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Resolve an email and/or phone number into its contact chain",
		Example: `  contactctl identify --email doc@zamazon.com --phone +1234567890
  contactctl identify --phone 1234567`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.loadConfig()
			if err != nil {
				return err
			}

			services, err := bootstrap.Build(cmd.Context(), cfg, logger)
			defer services.Close()
			if err != nil {
				return err
			}

			view, err := services.Reconciler.Resolve(cmd.Context(), model.Observation{Email: email, PhoneNumber: phone})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"contact": map[string]any{
					"primaryContactId":    view.PrimaryContactID,
					"emails":              view.Emails,
					"phoneNumbers":        view.PhoneNumbers,
					"secondaryContactIds": view.SecondaryContactIDs,
				},
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "observed email address")
	cmd.Flags().StringVar(&phone, "phone", "", "observed phone number")

	return cmd
}

func newContactsCommand(flags *globalFlags) *cobra.Command {
	contactsCmd := &cobra.Command{
		Use:   "contacts",
		Short: "Inspect stored contacts",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every non-deleted contact in chain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.loadConfig()
			if err != nil {
				return err
			}

			services, err := bootstrap.Build(cmd.Context(), cfg, logger)
			defer services.Close()
			if err != nil {
				return err
			}

			contacts, err := services.Reconciler.ListContacts(cmd.Context())
			if err != nil {
				return err
			}

			return writeContactTable(cmd.OutOrStdout(), contacts)
		},
	}

	contactsCmd.AddCommand(listCmd)
	return contactsCmd
}

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}

			db, err := sqliteadapter.NewDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
			}
			defer db.Close()

			if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
				return err
			}

			version, dirty, err := sqliteadapter.MigrationVersion(db.Writer)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d (dirty=%t)\n", cfg.DBPath, version, dirty)
			return nil
		},
	}
}

// contactColumnAlignment right-aligns the numeric id columns.
var contactColumnAlignment = []tw.Align{
	tw.AlignRight, tw.AlignLeft, tw.AlignRight, tw.AlignLeft, tw.AlignLeft, tw.AlignLeft,
}

func writeContactTable(w io.Writer, contacts []model.Contact) error {
	tableCfg := tablewriter.Config{}
	tableCfg.Header.Alignment = tw.CellAlignment{PerColumn: contactColumnAlignment}
	tableCfg.Row.Alignment = tw.CellAlignment{PerColumn: contactColumnAlignment}

	table := tablewriter.NewTable(w, tablewriter.WithConfig(tableCfg))
	table.Header("ID", "PRECEDENCE", "LINKED", "EMAIL", "PHONE", "CREATED")

	for _, c := range contacts {
		linked := "-"
		if c.LinkedID != nil {
			linked = strconv.FormatInt(*c.LinkedID, 10)
		}
		if err := table.Append(
			strconv.FormatInt(c.ID, 10),
			string(c.LinkPrecedence),
			linked,
			orDash(c.Email),
			orDash(c.PhoneNumber),
			c.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("append contact %d: %w", c.ID, err)
		}
	}

	return table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
