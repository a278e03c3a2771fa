package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	logLevel    string
	metricsFile string
)

var rootCmd = &cobra.Command{
	Use:   "frameprep",
	Short: "Prepare video frame datasets for training",
	Long: `frameprep turns a directory of videos into a dataset of still frames.

The sample command extracts evenly spaced frames from every video. The dedupe
command then removes near-duplicate images from the frame directory, keeping
the first image of every group of similar images.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default $FRAMEPREP_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
