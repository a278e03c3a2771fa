package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/frameprep/internal/dedupe"
	"github.com/kozaktomas/frameprep/internal/imagefile"
	"github.com/kozaktomas/frameprep/internal/ssim"
)

var compareCmd = &cobra.Command{
	Use:   "compare <image-a> <image-b>",
	Short: "Show the similarity of two images",
	Long: `Show the fingerprints and structural similarity of two images, and
whether dedupe would delete the second one.

Examples:
  frameprep compare frames/clip_frame_000001.jpg frames/clip_frame_000003.jpg
  frameprep compare a.png b.png --threshold 0.95 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().Float64("threshold", 0, "Similarity threshold (default from config)")
	compareCmd.Flags().Bool("json", false, "Output as JSON")
}

// compareOutput mirrors the decision dedupe would make for the pair.
// Prefiltered means the pair would be skipped without computing SSIM.
type compareOutput struct {
	First           dedupe.Record `json:"first"`
	Second          dedupe.Record `json:"second"`
	SameShape       bool          `json:"same_shape"`
	SameFingerprint bool          `json:"same_fingerprint"`
	Prefiltered     bool          `json:"prefiltered"`
	SSIM            *float64      `json:"ssim"`
	Threshold       float64       `json:"threshold"`
	Duplicate       bool          `json:"duplicate"`
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	threshold := cfg.Dedupe.Threshold
	if changed(cmd, "threshold") {
		threshold = mustGetFloat64(cmd, "threshold")
	}

	fs := afero.NewOsFs()
	imgA, err := imagefile.Decode(fs, args[0])
	if err != nil {
		return err
	}
	imgB, err := imagefile.Decode(fs, args[1])
	if err != nil {
		return err
	}

	a := dedupe.NewRecord(args[0], imgA)
	b := dedupe.NewRecord(args[1], imgB)
	out := compareOutput{
		First:           a,
		Second:          b,
		SameShape:       a.SameShape(b),
		SameFingerprint: a.Fingerprint == b.Fingerprint,
		Threshold:       threshold,
	}
	out.Prefiltered = !out.SameShape || !out.SameFingerprint

	score, err := ssim.Compare(imgA, imgB)
	switch {
	case err == nil:
		out.SSIM = &score
		out.Duplicate = !out.Prefiltered && score >= threshold
	case errors.Is(err, ssim.ErrSizeMismatch), errors.Is(err, ssim.ErrTooSmall):
		// no score, reported as such
	default:
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}
	printCompare(out)
	return nil
}

func printCompare(out compareOutput) {
	for _, r := range []dedupe.Record{out.First, out.Second} {
		fmt.Printf("%s\n  Size:        %dx%d, %d channels\n  Fingerprint: %s\n", r.Path, r.Width, r.Height, r.Channels, r.Fingerprint)
	}
	fmt.Println()
	if out.SSIM != nil {
		fmt.Printf("SSIM:        %.4f\n", *out.SSIM)
	} else {
		fmt.Println("SSIM:        n/a (images differ in size or are too small)")
	}
	fmt.Printf("Same shape:  %s\n", yesNo(out.SameShape))
	fmt.Printf("Same print:  %s\n", yesNo(out.SameFingerprint))
	switch {
	case out.Prefiltered:
		fmt.Println("Dedupe:      pair skipped by pre-filter, both kept")
	case out.Duplicate:
		fmt.Printf("Dedupe:      duplicate at threshold %.2f, second image would be deleted\n", out.Threshold)
	default:
		fmt.Printf("Dedupe:      below threshold %.2f, both kept\n", out.Threshold)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
