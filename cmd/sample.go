package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/frameprep/internal/config"
	"github.com/kozaktomas/frameprep/internal/constants"
	"github.com/kozaktomas/frameprep/internal/metrics"
	"github.com/kozaktomas/frameprep/internal/sampler"
	"github.com/kozaktomas/frameprep/internal/video"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Extract evenly spaced frames from every video in a directory",
	Long: `Extract a fixed number of evenly spaced frames from every video in the
input directory (mp4, mov, avi, mkv) and save them as images named
<video>_frame_<index>.<format> in the output directory.

Videos that cannot be opened and frames that cannot be decoded are logged
and skipped. Requires ffmpeg and ffprobe.

Examples:
  # Sample 500 frames per video as jpg
  frameprep sample --input videos --output frames

  # Sample 100 png frames per video, ASCII-only file names
  frameprep sample --input videos --output frames --frames 100 --format png --ascii-labels

  # Output the summary as JSON
  frameprep sample --input videos --output frames --json`,
	Args: cobra.NoArgs,
	RunE: runSample,
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	sampleCmd.Flags().String("input", "", "Directory containing the videos")
	sampleCmd.Flags().String("output", "", "Directory for extracted frames (created if missing)")
	sampleCmd.Flags().Int("frames", constants.DefaultFramesPerVideo, "Target number of frames per video")
	sampleCmd.Flags().String("format", "jpg", "Frame format: jpg, png or bmp")
	sampleCmd.Flags().Int("quality", constants.DefaultJPEGQuality, "JPEG quality (1-100)")
	sampleCmd.Flags().Bool("ascii-labels", false, "Strip diacritics and spaces from frame file names")
	sampleCmd.Flags().Bool("dedupe-schedule", false, "Drop repeated frame indices when a video has fewer frames than requested")
	sampleCmd.Flags().Bool("json", false, "Output as JSON")
}

// applySampleFlags copies explicitly set flags over the loaded config.
func applySampleFlags(cmd *cobra.Command, c *config.SamplerConfig) {
	if changed(cmd, "input") {
		c.InputDir = mustGetString(cmd, "input")
	}
	if changed(cmd, "output") {
		c.OutputDir = mustGetString(cmd, "output")
	}
	if changed(cmd, "frames") {
		c.FramesPerVideo = mustGetInt(cmd, "frames")
	}
	if changed(cmd, "format") {
		c.Format = mustGetString(cmd, "format")
	}
	if changed(cmd, "quality") {
		c.JPEGQuality = mustGetInt(cmd, "quality")
	}
	if changed(cmd, "ascii-labels") {
		c.ASCIILabels = mustGetBool(cmd, "ascii-labels")
	}
	if changed(cmd, "dedupe-schedule") {
		c.DedupeSchedule = mustGetBool(cmd, "dedupe-schedule")
	}
}

func runSample(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applySampleFlags(cmd, &cfg.Sampler)
	if err := cfg.ValidateSampler(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reader := video.NewFFmpegReader(cfg.FFmpeg.Path, cfg.FFmpeg.ProbePath, cfg.FFmpeg.ProbeTimeout)
	if !reader.Available() {
		return fmt.Errorf("ffmpeg or ffprobe not found (looked for %q and %q)", cfg.FFmpeg.Path, cfg.FFmpeg.ProbePath)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	var bar *progressbar.ProgressBar
	onProgress := func(p sampler.ProgressInfo) {
		switch p.Phase {
		case sampler.PhaseVideoSkipped:
			if !jsonOutput {
				fmt.Printf("Skipping %s: %v\n", p.Video, p.Err)
			}
		case sampler.PhaseVideo:
			closeProgressBar(bar)
			if !jsonOutput {
				fmt.Printf("Processing %s: total frames %d, sampling %d\n", p.Video, p.TotalFrames, p.Scheduled)
			}
			bar = newProgressBar(p.Scheduled, "Extracting frames", "frames", jsonOutput)
		case sampler.PhaseFrameSaved, sampler.PhaseFrameFailed:
			if bar != nil {
				_ = bar.Add(1)
				if bar.IsFinished() {
					fmt.Println()
				}
			}
		}
	}

	m := metrics.New()
	s := sampler.New(afero.NewOsFs(), reader, log, m, sampler.Options{
		InputDir:       cfg.Sampler.InputDir,
		OutputDir:      cfg.Sampler.OutputDir,
		FramesPerVideo: cfg.Sampler.FramesPerVideo,
		Format:         cfg.Sampler.Format,
		Quality:        cfg.Sampler.JPEGQuality,
		ASCIILabels:    cfg.Sampler.ASCIILabels,
		DedupeSchedule: cfg.Sampler.DedupeSchedule,
		OnProgress:     onProgress,
	})

	result, runErr := s.Run(ctx)
	closeProgressBar(bar)
	writeMetrics(cfg, m, log)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if runErr != nil && !jsonOutput {
		fmt.Println("Interrupted, stopping early.")
	}

	if jsonOutput {
		return outputJSON(result)
	}
	printSampleSummary(result, cfg.Sampler.OutputDir)
	return nil
}

func printSampleSummary(r *sampler.Result, outputDir string) {
	fmt.Printf("\nVideos processed: %d\n", r.Videos)
	if r.VideosSkipped > 0 {
		fmt.Printf("Videos skipped:   %d\n", r.VideosSkipped)
	}
	fmt.Printf("Frames saved:     %d of %d scheduled\n", r.FramesSaved, r.FramesScheduled)
	if r.FramesFailed > 0 {
		fmt.Printf("Frames failed:    %d\n", r.FramesFailed)
	}
	fmt.Printf("Output:           %s\n", outputDir)
}
