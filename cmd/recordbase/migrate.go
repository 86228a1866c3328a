package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adrianmcphee/recordbase"
	"github.com/adrianmcphee/recordbase/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every record from a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "sql" {
			return fmt.Errorf("unknown format %q (expected json or sql)", format)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.provider(from)
			if err != nil {
				return err
			}
			data, err := a.migrations.ExportData(ctx, p)
			if err != nil {
				return err
			}

			if format == "sql" {
				script, err := export.SQL(data, viper.GetString("remote-database"), viper.GetString("remote-collection"))
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = fmt.Print(script)
					return err
				}
				return os.WriteFile(out, []byte(script), recordbase.DefaultFilePermissions)
			}

			if out == "" || out == "-" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(data)
			}
			if err := export.WriteFile(out, data); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, data.Summary())
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an export file into a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, _ := cmd.Flags().GetString("in")
		to, _ := cmd.Flags().GetString("to")
		opts, err := importOptions(cmd)
		if err != nil {
			return err
		}

		data, err := export.ReadFile(in)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.provider(to)
			if err != nil {
				return err
			}
			stats, err := a.migrations.ImportData(ctx, p, data, opts)
			if err != nil {
				return err
			}
			fmt.Printf("imported into %s: %d inserted, %d updated, %d unchanged\n",
				p.Name(), stats.Inserted, stats.Updated, stats.Skipped)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy every record from one provider to another",
	Long: `Exports the source, optionally backs up the target, imports in batches and
verifies the target checksum. Interrupting the command cancels the migration
at the next batch boundary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		backup, _ := cmd.Flags().GetBool("backup")
		switchAfter, _ := cmd.Flags().GetBool("switch")
		opts, err := importOptions(cmd)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			source, err := a.provider(from)
			if err != nil {
				return err
			}
			target, err := a.provider(to)
			if err != nil {
				return err
			}

			remove := a.migrations.AddProgressListener(func(p recordbase.MigrationProgress) {
				fmt.Fprintf(os.Stderr, "[%d/%d] %-10s %5.1f%% %s\n",
					p.CurrentStep, p.TotalSteps, p.Phase, p.Percent(), p.Message)
			})
			defer remove()

			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					if a.migrations.CancelMigration() {
						fmt.Fprintln(os.Stderr, "cancelling migration...")
					}
				case <-done:
				}
			}()

			result := a.migrations.MigrateData(ctx, source, target, recordbase.MigrationOptions{
				ImportOptions: opts,
				CreateBackup:  backup,
			})
			printResult(result)
			if !result.Success {
				return fmt.Errorf("migration failed: %s", strings.Join(result.Errors, "; "))
			}

			if switchAfter {
				if err := a.manager.SwitchProvider(ctx, target.Name()); err != nil {
					return fmt.Errorf("migrated but could not switch: %w", err)
				}
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("from", "", "source provider (default: active)")
	exportCmd.Flags().StringP("out", "o", "", "output file (default: stdout)")
	exportCmd.Flags().String("format", "json", "output format: json or sql")

	importCmd.Flags().String("in", "", "export file to import (required)")
	importCmd.Flags().String("to", "", "target provider (default: active)")
	_ = importCmd.MarkFlagRequired("in")
	addImportFlags(importCmd)

	migrateCmd.Flags().String("from", "", "source provider (default: active)")
	migrateCmd.Flags().String("to", "", "target provider (required)")
	migrateCmd.Flags().Bool("backup", true, "back up the target before writing")
	migrateCmd.Flags().Bool("switch", false, "make the target active after a successful migration")
	_ = migrateCmd.MarkFlagRequired("to")
	addImportFlags(migrateCmd)
}

func addImportFlags(cmd *cobra.Command) {
	d := recordbase.DefaultImportOptions()
	cmd.Flags().Bool("overwrite", false, "allow writing into a non-empty target")
	cmd.Flags().Bool("validate", d.ValidateData, "verify the target checksum afterwards")
	cmd.Flags().Int("batch-size", d.BatchSize, "records per batch")
	cmd.Flags().Int("batch-attempts", d.RetryAttempts, "attempts per batch")
	cmd.Flags().Duration("batch-retry-delay", d.RetryDelay, "first wait between batch attempts")
}

func importOptions(cmd *cobra.Command) (recordbase.ImportOptions, error) {
	opts := recordbase.DefaultImportOptions()
	opts.OverwriteExisting, _ = cmd.Flags().GetBool("overwrite")
	opts.ValidateData, _ = cmd.Flags().GetBool("validate")
	opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	opts.RetryAttempts, _ = cmd.Flags().GetInt("batch-attempts")
	opts.RetryDelay, _ = cmd.Flags().GetDuration("batch-retry-delay")
	return opts, opts.Validate()
}

func printResult(r recordbase.MigrationResult) {
	status := "succeeded"
	if !r.Success {
		status = "failed"
	}
	fmt.Printf("migration %s in %s: %d migrated, %d unchanged\n", status, r.Duration.Round(time.Millisecond), r.MigratedCount, r.SkippedCount)
	if r.BackupKey != "" {
		fmt.Printf("backup: %s\n", r.BackupKey)
	}
	for _, e := range r.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
