package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/recordbase"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records on the active provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		flagged, _ := cmd.Flags().GetBool("flagged")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			records, err := a.manager.GetAll(ctx)
			if err != nil {
				return err
			}
			sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tITEMS\tFLAGGED\tCREATED")
			for _, r := range records {
				if flagged && !r.Flagged {
					continue
				}
				done := 0
				for _, it := range r.Items {
					if it.Done {
						done++
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%t\t%s\n", r.ID, r.Title, done, len(r.Items), r.Flagged, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a record",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		body, _ := cmd.Flags().GetString("body")
		items, _ := cmd.Flags().GetStringArray("item")
		flagged, _ := cmd.Flags().GetBool("flagged")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rec := recordbase.NewRecord(title, body, items...)
			rec.Flagged = flagged
			if err := rec.Validate(); err != nil {
				return err
			}
			if err := a.manager.Save(ctx, rec); err != nil {
				return err
			}
			fmt.Println(rec.ID)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.manager.Delete(ctx, args[0])
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert sample records in one batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		if count <= 0 {
			return fmt.Errorf("count must be positive")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			records := make([]recordbase.Record, 0, count)
			for i := 0; i < count; i++ {
				r := recordbase.NewRecord(fmt.Sprintf("Sample %d", i+1), strings.Repeat("lorem ipsum ", i%4), "first", "second")
				r.Flagged = i%5 == 0
				records = append(records, r)
			}
			if err := a.manager.SaveBatch(ctx, records); err != nil {
				return err
			}
			fmt.Printf("seeded %d records on %s\n", count, a.manager.Current().Name())
			return nil
		})
	},
}

func init() {
	listCmd.Flags().Bool("flagged", false, "only flagged records")

	addCmd.Flags().String("title", "", "record title (required)")
	addCmd.Flags().String("body", "", "record body")
	addCmd.Flags().StringArray("item", nil, "item text; repeat for several items")
	addCmd.Flags().Bool("flagged", false, "flag the record")
	_ = addCmd.MarkFlagRequired("title")

	seedCmd.Flags().Int("count", 10, "number of records")
}
