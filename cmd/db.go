package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-linker/config"
	"github.com/otherjamesbrown/penf-linker/migrations"
	"github.com/otherjamesbrown/penf-linker/pkg/db"
)

type dbOptions struct {
	dryRun        bool
	yes           bool
	target        string
	output        string
	migrationsDir string
}

// migrationsFS returns the embedded schema, or dir when set.
func (o *dbOptions) migrationsFS() fs.FS {
	if o.migrationsDir != "" {
		return os.DirFS(o.migrationsDir)
	}
	return migrations.FS
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *Deps) *cobra.Command {
	opts := &dbOptions{}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the linker store.

Manage database schema migrations and view migration status.

The db command connects directly to the PostgreSQL database. It uses the
database section of the config file, overridden by DATABASE_URL or DB_*
environment variables.

The schema is built into the binary. Migrations are applied in filename
order and tracked in the schema_migrations table.

Examples:
  # Show migration status
  penf-linker db status

  # Apply all pending migrations
  penf-linker db migrate

  # Preview migrations without applying
  penf-linker db migrate --dry-run`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.PersistentFlags().StringVarP(&opts.migrationsDir, "migrations", "m", "", "Read migrations from this directory instead of the built-in schema")

	cmd.AddCommand(newDbMigrateCommand(deps, opts))
	cmd.AddCommand(newDbStatusCommand(deps, opts))

	return cmd
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *Deps, opts *dbOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. Each migration runs in its own
transaction and is recorded in the schema_migrations table. If a migration
fails, its transaction is rolled back and no further migrations are attempted.

Flags:
  --dry-run      Show what would be applied without executing migrations
  --target       Apply migrations up to and including this version (e.g., 002)
  --yes          Do not ask for confirmation`,
		Example: `  penf-linker db migrate
  penf-linker db migrate --dry-run
  penf-linker db migrate --target 001 --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "Target version to migrate to (e.g., 002)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Apply without confirmation")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *Deps, opts *dbOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays three categories of migrations:
  - Applied: migrations that have been applied and have corresponding files
  - Pending: migrations with files that have not been applied yet
  - Drift: migrations that were applied but no longer have corresponding files`,
		Example: `  penf-linker db status
  penf-linker db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), cmd.OutOrStdout(), deps, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func connectForMigrations(ctx context.Context, deps *Deps) (*config.LinkerConfig, *pgxpool.Pool, error) {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return cfg, pool, nil
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, in io.Reader, out io.Writer, deps *Deps, opts *dbOptions) error {
	_, pool, err := connectForMigrations(ctx, deps)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator := db.NewMigrator(pool, opts.migrationsFS())

	pending, err := migrator.Pending(ctx)
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(pending))
	for _, m := range pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if opts.dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !opts.yes {
		fmt.Fprint(out, "Apply these migrations? (y/N): ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	if opts.target != "" {
		fmt.Fprintf(out, "Applying migrations up to version %s...\n", opts.target)
	} else {
		fmt.Fprintln(out, "Applying all pending migrations...")
	}
	result, err := migrator.UpTo(ctx, opts.target)
	if err != nil {
		fmt.Fprintf(out, "\n%s %v\n", red("Migration failed:"), err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintf(out, "\nSuccessfully applied before failure:\n")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  %s %s\n", green("✓"), v)
			}
		}
		return err
	}

	fmt.Fprintln(out)
	if len(result.Applied) > 0 {
		fmt.Fprintln(out, green(fmt.Sprintf("Successfully applied %d migration(s):", len(result.Applied))))
		for _, v := range result.Applied {
			fmt.Fprintf(out, "  %s %s\n", green("✓"), v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Fprintf(out, "  - %s\n", v)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, green("Migrations completed successfully."))
	return nil
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, out io.Writer, deps *Deps, opts *dbOptions) error {
	cfg, pool, err := connectForMigrations(ctx, deps)
	if err != nil {
		return err
	}
	defer pool.Close()

	format, err := resolveFormat(cfg, opts.output)
	if err != nil {
		return err
	}

	status, err := db.NewMigrator(pool, opts.migrationsFS()).Status(ctx)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return writeOutput(out, format, status, func(w io.Writer) error {
		return writeMigrationStatusText(w, status)
	})
}

// writeMigrationStatusText formats migration status for terminal display.
func writeMigrationStatusText(w io.Writer, status *db.MigrationStatus) error {
	writeEntries := func(title string, entries []db.MigrationStatusEntry, withApplied bool) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintln(w, title)
		for _, m := range entries {
			appliedAt := ""
			if withApplied {
				appliedAt = "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
			}
			fmt.Fprintf(w, "  %-10s %-40s %s\n", truncate(m.Version, 10), truncate(m.Name, 40), appliedAt)
		}
		fmt.Fprintln(w)
	}

	writeEntries(green(fmt.Sprintf("Applied Migrations (%d):", len(status.Applied))), status.Applied, true)
	writeEntries(yellow(fmt.Sprintf("Pending Migrations (%d):", len(status.Pending))), status.Pending, false)
	writeEntries(red(fmt.Sprintf("Drift (%d) - applied but file missing:", len(status.Drift))), status.Drift, true)

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", %s", red(fmt.Sprintf("%d drift", len(status.Drift))))
	}
	fmt.Fprintln(w)
	return nil
}
