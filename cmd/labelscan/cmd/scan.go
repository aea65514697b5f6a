package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/config"
	"github.com/MeKo-Tech/labelscan/internal/pdf"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/store"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// scanCmd represents the offline scan command.
var scanCmd = &cobra.Command{
	Use:   "scan FILE...",
	Short: "Scan label images or PDFs without a camera",
	Long: `Run the label pipeline on image files or printable label PDFs.

Supported formats: JPEG, PNG, BMP, TIFF, WebP and PDF (embedded images).

Examples:
  labelscan scan label.jpg
  labelscan scan *.png --format json
  labelscan scan labels.pdf --pages 1-3 --output results.json
  labelscan scan label.jpg --record --store scans.db`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format != outputFormatJSON && format != outputFormatText {
			return fmt.Errorf("unsupported output format: %s (must be json or text)", format)
		}
		pages, _ := cmd.Flags().GetString("pages")
		password, _ := cmd.Flags().GetString("password")
		outputFile, _ := cmd.Flags().GetString("output")
		record, _ := cmd.Flags().GetBool("record")
		if record && cfg.Store.Path == "" {
			return errors.New("--record needs a store (set --store or store.path)")
		}

		showProgress, _ := cmd.Flags().GetBool("progress")

		builder := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).WithLogger(slog.Default())
		if showProgress {
			builder = builder.WithProgressCallback(pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Scanning"))
		}
		p, err := builder.Build()
		if err != nil {
			return fmt.Errorf("failed to build pipeline: %w", err)
		}
		defer func() { _ = p.Close() }()

		results, err := p.ProcessFiles(cmd.Context(), args, pipeline.FileOptions{
			PDF:           pdf.Options{Pages: pages, Password: password},
			MinConfidence: cfg.Fields.MinConfidence,
		})
		if err != nil {
			return fmt.Errorf("scan aborted: %w", err)
		}
		slog.Debug("Scan finished", "stages", p.Stats(), "memory", pipeline.GetMemStats())

		if record {
			if err := recordResults(cmd.Context(), cfg, results); err != nil {
				return err
			}
		}

		var out string
		switch format {
		case outputFormatJSON:
			if out, err = pipeline.ToJSON(results); err != nil {
				return fmt.Errorf("failed to render results: %w", err)
			}
		default:
			out = pipeline.ToText(results)
		}

		if outputFile != "" {
			if err := os.WriteFile(outputFile, []byte(out+"\n"), 0o600); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", outputFile)
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	f := scanCmd.Flags()

	f.StringP("format", "f", outputFormatText, "output format (text, json)")
	f.StringP("output", "o", "", "output file (default: stdout)")
	f.String("pages", "", "PDF page selection, e.g. 1-3,5")
	f.String("password", "", "PDF password")
	f.Float64("header-fraction", 0.40, "fraction of the label height holding the identifiers")
	f.StringSlice("language", []string{"eng", "ind"}, "tesseract languages")
	f.String("tessdata", "", "tesseract traineddata directory")
	f.Bool("barcodes", true, "decode barcodes before OCR")
	f.Float64("confidence", 0.5, "minimum confidence for a complete scan")
	f.String("align-debug-dir", "", "write alignment debug images here")
	f.Bool("record", false, "store results in the scan history")
	f.String("store", "", "bolt database for scan history")
	f.Bool("progress", false, "show a progress bar on stderr")

	bindFlag(f, "header-fraction", "ocr.header_fraction")
	bindFlag(f, "language", "ocr.languages")
	bindFlag(f, "tessdata", "ocr.tessdata")
	bindFlag(f, "barcodes", "ocr.barcodes")
	bindFlag(f, "confidence", "fields.min_confidence")
	bindFlag(f, "align-debug-dir", "align.debug_dir")
	bindFlag(f, "store", "store.path")
}

// recordResults writes every successful result to the history store under
// a fresh time-ordered id.
func recordResults(ctx context.Context, cfg *config.Config, results []pipeline.LabeledResult) error {
	rec, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open scan store: %w", err)
	}
	defer func() { _ = rec.Close() }()

	for _, r := range results {
		if r.Result == nil || r.Result.Fields == nil {
			continue
		}
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate scan id: %w", err)
		}
		if err := rec.Record(ctx, id.String(), r.Result.Fields); err != nil {
			return fmt.Errorf("failed to record %s: %w", r.Source, err)
		}
		slog.Debug("Recorded scan", "scan_id", id.String(), "source", r.Source)
	}
	return nil
}
