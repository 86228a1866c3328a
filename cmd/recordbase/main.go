// recordbase - records on interchangeable storage providers
//
// Keep records locally, in Redis or in PostgreSQL; retry and fall back
// automatically, and migrate or back up the whole dataset between them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.4.0"

var rootCmd = &cobra.Command{
	Use:   "recordbase",
	Short: "records on interchangeable storage providers",
	Long: fmt.Sprintf(`recordbase (v%s)

Stores records in a local data directory and, optionally, a remote Redis or
PostgreSQL document store. Operations retry with backoff and fall back to the
local provider; datasets can be migrated and backed up between providers.`, Version),
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of recordbase",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recordbase v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	setupFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd, testCmd, recoverCmd, watchCmd)
	rootCmd.AddCommand(listCmd, addCmd, deleteCmd, seedCmd)
	rootCmd.AddCommand(exportCmd, importCmd, migrateCmd)
	rootCmd.AddCommand(backupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
