package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/frameprep/internal/constants"
	"github.com/kozaktomas/frameprep/internal/sampler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the frame indices sample would extract",
	Long: `Print the sampling schedule for a video with the given number of frames,
without opening any video.

Examples:
  frameprep schedule --total 12000 --frames 500
  frameprep schedule --total 40 --frames 100 --dedupe-schedule --json`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().Int("total", 0, "Total number of frames in the video")
	scheduleCmd.Flags().Int("frames", constants.DefaultFramesPerVideo, "Target number of frames")
	scheduleCmd.Flags().Bool("dedupe-schedule", false, "Drop repeated indices")
	scheduleCmd.Flags().Bool("json", false, "Output as JSON")
}

type scheduleOutput struct {
	TotalFrames int   `json:"total_frames"`
	Wanted      int   `json:"wanted"`
	Count       int   `json:"count"`
	Indices     []int `json:"indices"`
}

func runSchedule(cmd *cobra.Command, args []string) error {
	total := mustGetInt(cmd, "total")
	want := mustGetInt(cmd, "frames")
	if total <= 0 {
		return errors.New("--total must be positive")
	}
	if want <= 0 {
		return errors.New("--frames must be positive")
	}

	indices := sampler.Schedule(total, want)
	if mustGetBool(cmd, "dedupe-schedule") {
		indices = sampler.Unique(indices)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(scheduleOutput{
			TotalFrames: total,
			Wanted:      want,
			Count:       len(indices),
			Indices:     indices,
		})
	}

	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = fmt.Sprint(idx)
	}
	fmt.Printf("Total frames %d, sampling %d\n", total, len(indices))
	fmt.Println(strings.Join(parts, " "))
	return nil
}
