package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, inspect, restore and delete backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Back up every record of a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.provider(from)
			if err != nil {
				return err
			}
			key, err := a.migrations.CreateBackup(ctx, p)
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			backups, err := a.migrations.AvailableBackups(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tPROVIDER\tCREATED\tRECORDS")
			for _, b := range backups {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", b.Key, b.Provider, b.CreatedAt.Local().Format(time.DateTime), b.TotalCount)
			}
			return w.Flush()
		})
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, _ := cmd.Flags().GetBool("summary")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			data, err := a.migrations.LoadBackup(ctx, args[0])
			if err != nil {
				return err
			}
			if summary {
				fmt.Println(data.Summary())
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <key>",
	Short: "Import a backup into a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		opts, err := importOptions(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.provider(to)
			if err != nil {
				return err
			}
			stats, err := a.migrations.RestoreFromBackup(ctx, p, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Printf("restored %s into %s: %d inserted, %d updated, %d unchanged\n",
				args[0], p.Name(), stats.Inserted, stats.Updated, stats.Skipped)
			return nil
		})
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.migrations.DeleteBackup(ctx, args[0])
		})
	},
}

func init() {
	backupCreateCmd.Flags().String("from", "", "provider to back up (default: active)")
	backupShowCmd.Flags().Bool("summary", false, "print only the summary line")
	backupRestoreCmd.Flags().String("to", "", "target provider (default: active)")
	addImportFlags(backupRestoreCmd)

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupShowCmd, backupRestoreCmd, backupDeleteCmd)
}
