package cli

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/Skryldev/socialhub/migrations"
)

// MigrateOptions holds flags shared by the migrate subcommands.
type MigrateOptions struct {
	*RootOptions
	// Yes skips the drop confirmation prompt.
	Yes bool
}

// NewMigrateCommand creates the migrate command and its subcommands.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the embedded schema migrations.

The target database comes from the same settings as the server: DB_DRIVER
plus either DATABASE_URL or the discrete DB_* variables.

Example:
  socialhub migrate up
  socialhub migrate down 1
  DB_DRIVER=pgx DATABASE_URL=postgres://app:pw@localhost/socialhub socialhub migrate version`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrate(cmd, opts, func(m *migrate.Migrate, logger *slog.Logger) error {
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("up failed: %w", err)
				}
				logger.Info("migrations: up completed")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [N]",
		Short: "Roll back N migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("down: invalid steps argument %q", args[0])
				}
				steps = n
			}
			return withMigrate(cmd, opts, func(m *migrate.Migrate, logger *slog.Logger) error {
				if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("down failed: %w", err)
				}
				logger.Info("migrations: down completed", "steps", steps)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrate(cmd, opts, func(m *migrate.Migrate, _ *slog.Logger) error {
				v, dirty, err := m.Version()
				if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
					return fmt.Errorf("version failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version: %d  dirty: %v\n", v, dirty)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <V>",
		Short: "Set the migration version without running it (clears dirty state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("force: invalid version %q", args[0])
			}
			return withMigrate(cmd, opts, func(m *migrate.Migrate, logger *slog.Logger) error {
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force failed: %w", err)
				}
				logger.Info("migrations: forced", "version", v)
				return nil
			})
		},
	})

	drop := &cobra.Command{
		Use:   "drop",
		Short: "Drop every table (development only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				fmt.Fprintln(cmd.ErrOrStderr(), "WARNING: drop will destroy all tables. Type 'yes' to confirm:")
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(line) != "yes" {
					return errAborted
				}
			}
			return withMigrate(cmd, opts, func(m *migrate.Migrate, logger *slog.Logger) error {
				if err := m.Drop(); err != nil {
					return fmt.Errorf("drop failed: %w", err)
				}
				logger.Info("migrations: all tables dropped")
				return nil
			})
		},
	}
	drop.Flags().BoolVar(&opts.Yes, "yes", false, "do not ask for confirmation")
	cmd.AddCommand(drop)

	return cmd
}

func withMigrate(cmd *cobra.Command, opts *MigrateOptions, fn func(*migrate.Migrate, *slog.Logger) error) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger := opts.newLogger(cmd.ErrOrStderr(), cfg)

	dsn, err := cfg.DB.DSN()
	if err != nil {
		return err
	}
	m, err := migrations.New(cfg.DB.Driver, dsn, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(m, logger)
}
