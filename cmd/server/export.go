package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexiqai/caption-gateway/internal/transcript"
)

func runExportSRT(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("transcript")
	if err != nil {
		return err
	}

	segments, err := transcript.ReadSegments(path)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), transcript.RenderSRT(segments))
	return err
}
