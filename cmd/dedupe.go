package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/frameprep/internal/config"
	"github.com/kozaktomas/frameprep/internal/constants"
	"github.com/kozaktomas/frameprep/internal/dedupe"
	"github.com/kozaktomas/frameprep/internal/metrics"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Delete near-duplicate images from a directory",
	Long: `Compare every pair of images in a directory and delete the later image
(in file name order) of each pair whose structural similarity reaches the
threshold. The first image of every group of similar images is kept.

Pairs whose dimensions or thumbnail fingerprints differ are never compared.

Examples:
  # Remove near duplicates with the default threshold
  frameprep dedupe --dir frames

  # Only list what would be deleted
  frameprep dedupe --dir frames --threshold 0.95 --dry-run

  # Limit comparison workers and output JSON
  frameprep dedupe --dir frames --workers 4 --json`,
	Args: cobra.NoArgs,
	RunE: runDedupe,
}

func init() {
	rootCmd.AddCommand(dedupeCmd)

	dedupeCmd.Flags().String("dir", "", "Directory containing the images")
	dedupeCmd.Flags().Float64("threshold", constants.DefaultSimilarityThreshold, "Similarity (0-1) at or above which the later image is deleted")
	dedupeCmd.Flags().Int("workers", 0, "Number of parallel comparisons (0 = number of CPUs)")
	dedupeCmd.Flags().Bool("dry-run", false, "Report duplicates without deleting them")
	dedupeCmd.Flags().Duration("cache-ttl", constants.DefaultGrayCacheTTLSeconds*time.Second, "How long decoded images stay cached")
	dedupeCmd.Flags().Bool("json", false, "Output as JSON")
}

// applyDedupeFlags copies explicitly set flags over the loaded config.
func applyDedupeFlags(cmd *cobra.Command, c *config.DedupeConfig) {
	if changed(cmd, "dir") {
		c.Dir = mustGetString(cmd, "dir")
	}
	if changed(cmd, "threshold") {
		c.Threshold = mustGetFloat64(cmd, "threshold")
	}
	if changed(cmd, "workers") {
		c.Workers = mustGetInt(cmd, "workers")
	}
	if changed(cmd, "dry-run") {
		c.DryRun = mustGetBool(cmd, "dry-run")
	}
	if changed(cmd, "cache-ttl") {
		c.CacheTTL = mustGetDuration(cmd, "cache-ttl")
	}
}

func runDedupe(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyDedupeFlags(cmd, &cfg.Dedupe)
	if err := cfg.ValidateDedupe(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext(cmd)
	defer stop()

	var bar *progressbar.ProgressBar
	var phase string
	onProgress := func(p dedupe.ProgressInfo) {
		if p.Phase != phase {
			closeProgressBar(bar)
			phase = p.Phase
			desc, unit := "Scanning images", "images"
			if phase == dedupe.PhaseCompare {
				desc, unit = "Comparing pairs", "pairs"
			}
			bar = newProgressBar(p.Total, desc, unit, jsonOutput)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	onDelete := func(e dedupe.DeleteEvent) {
		if jsonOutput {
			return
		}
		if bar != nil {
			_ = bar.Clear()
		}
		verb := "Deleted"
		if e.DryRun {
			verb = "Would delete"
		}
		fmt.Printf("%s %s (similar to %s, ssim %.4f)\n", verb, e.Name, e.Kept, e.Score)
	}

	fs := afero.NewOsFs()
	m := metrics.New()
	workers := cfg.Dedupe.WorkerCount()
	if !jsonOutput {
		fmt.Printf("Scanning %s (threshold %.2f, %d workers)\n", cfg.Dedupe.Dir, cfg.Dedupe.Threshold, workers)
	}

	f := dedupe.New(fs, dedupe.NewSSIMComparer(fs, cfg.Dedupe.CacheTTL), log, m, dedupe.Options{
		Dir:        cfg.Dedupe.Dir,
		Threshold:  cfg.Dedupe.Threshold,
		Workers:    workers,
		DryRun:     cfg.Dedupe.DryRun,
		OnDelete:   onDelete,
		OnProgress: onProgress,
	})

	report, runErr := f.Run(ctx)
	closeProgressBar(bar)
	writeMetrics(cfg, m, log)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if jsonOutput {
		return outputJSON(report)
	}
	printDedupeReport(report)
	return nil
}

func printDedupeReport(r *dedupe.Report) {
	if r.Cancelled {
		fmt.Println("\nInterrupted, not all pairs were evaluated.")
	}
	fmt.Printf("\nScanned:   %d images", r.Scanned)
	if r.ScanFailed > 0 {
		fmt.Printf(" (%d unreadable)", r.ScanFailed)
	}
	fmt.Println()
	fmt.Printf("Pairs:     %d (%d compared, %d skipped)\n", r.Pairs, r.Compared, r.Skipped)
	if r.DryRun {
		fmt.Printf("Would delete: %d\n", len(r.Deleted))
	} else {
		fmt.Printf("Deleted:   %d\n", len(r.Deleted))
	}
	fmt.Printf("Remaining: %d\n", r.Survivors())
	if r.Errors > 0 {
		fmt.Printf("Errors:    %d (see log)\n", r.Errors)
	}
	fmt.Printf("Duration:  %s\n", r.Duration.Round(time.Millisecond))
}
