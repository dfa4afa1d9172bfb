package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "caption-gateway",
	Short: "Live bilingual caption relay and upload transcription service",
	// Running without a subcommand starts the server
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

var exportSRTCmd = &cobra.Command{
	Use:   "export-srt",
	Short: "Render a transcript log as SRT on stdout",
	RunE:  runExportSRT,
}

func init() {
	exportSRTCmd.Flags().String("transcript", "", "path to a transcript.jsonl file")
	_ = exportSRTCmd.MarkFlagRequired("transcript")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportSRTCmd)
	rootCmd.SilenceUsage = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
