package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/recordbase"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check every provider and print its health",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			statuses := a.manager.AllProviderStatuses(ctx)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}
			printStatuses(a, statuses)
			return nil
		})
	},
}

var testCmd = &cobra.Command{
	Use:   "test <provider>",
	Short: "Open a throwaway connection to a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			start := time.Now()
			if err := a.manager.TestProviderConnection(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: ok (%s)\n", args[0], time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover <provider>",
	Short: "Reconnect a provider with increasing delays until it is available",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attempts, _ := cmd.Flags().GetInt("attempts")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ok, err := a.manager.RecoverProvider(ctx, args[0], attempts)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s did not recover after %d attempts", args[0], attempts)
			}
			fmt.Printf("%s recovered\n", args[0])
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print provider health periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				printStatuses(a, a.manager.AllProviderStatuses(ctx))
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					fmt.Println()
				}
			}
		})
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print statuses as JSON")
	recoverCmd.Flags().Int("attempts", 3, "maximum recovery attempts")
	watchCmd.Flags().Duration("interval", 10*time.Second, "status check interval")
}

func printStatuses(a *app, statuses []recordbase.StatusInfo) {
	current := a.manager.Current().Name()
	fallback := ""
	if fb := a.manager.Fallback(); fb != nil {
		fallback = fb.Name()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tROLE\tSTATUS\tLATENCY\tMESSAGE")
	for _, s := range statuses {
		role := ""
		switch s.Provider {
		case current:
			role = "current"
		case fallback:
			role = "fallback"
		}
		latency := "-"
		if s.ConnectionDuration > 0 {
			latency = s.ConnectionDuration.Round(time.Microsecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Provider, role, s.Status, latency, s.Message)
	}
	_ = w.Flush()
}
