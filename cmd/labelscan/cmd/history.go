package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/store"
)

// historyCmd lists recorded scans.
var historyCmd = &cobra.Command{
	Use:   "history [SCAN_ID]",
	Short: "Show recorded scans from the history store",
	Long: `List the most recent scans recorded by "serve" or "scan --record",
newest first. With a scan id, print that one entry.

Examples:
  labelscan history --store scans.db
  labelscan history --limit 5 --format json
  labelscan history 01927c4e-8f3a-7b21-9c55-3f2a1d0e4b6c`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Path == "" {
			return errors.New("no history store configured (set --store or store.path)")
		}
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("limit")

		rec, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open scan store: %w", err)
		}
		defer func() { _ = rec.Close() }()

		var entries []*store.Entry
		if len(args) == 1 {
			e, err := rec.Get(args[0])
			if err != nil {
				return fmt.Errorf("scan %s: %w", args[0], err)
			}
			entries = []*store.Entry{e}
		} else if entries, err = rec.List(limit); err != nil {
			return fmt.Errorf("failed to list scans: %w", err)
		}

		if format == outputFormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		return writeHistoryTable(cmd.OutOrStdout(), entries)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	f := historyCmd.Flags()
	f.StringP("format", "f", outputFormatText, "output format (text, json)")
	f.IntP("limit", "n", 20, "maximum number of scans to list")
	f.String("store", "", "bolt database for scan history")
	bindFlag(f, "store", "store.path")
}

func writeHistoryTable(w io.Writer, entries []*store.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No scans recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SCAN ID\tRECORDED\tTRACKING ID\tORDER ID\tSOURCE\tCONFIDENCE")
	for _, e := range entries {
		tracking, order, source, conf := "-", "-", "-", "-"
		if fs := e.Fields; fs != nil {
			if fs.TrackingID != nil {
				tracking = *fs.TrackingID
			}
			if fs.OrderID != nil {
				order = *fs.OrderID
			}
			source = string(fs.Source)
			conf = fmt.Sprintf("%.2f", fs.Confidence)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.RecordedAt.Local().Format(time.DateTime), tracking, order, source, conf)
	}
	return tw.Flush()
}
