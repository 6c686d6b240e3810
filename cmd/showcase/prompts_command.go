package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"showcase/internal/domain"
	"showcase/internal/prompts"
)

const promptPreviewLen = 72

func newPromptsCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Show the camera prompts used for each video segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = lookupEnv("PROMPTS_FILE")
			}
			set, err := prompts.Load(file)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, domain.SegmentCount)
			for i := 0; i < domain.SegmentCount; i++ {
				rows = append(rows, []string{strconv.Itoa(i + 1), fmt.Sprintf("%d → %d", i+1, i+2), preview(set.CameraFor(i))})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "Frames", "Camera prompt"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))
			fmt.Fprintf(cmd.OutOrStdout(), "negative: %s\n", preview(set.Negative))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Prompt preset override (TOML)")
	return cmd
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= promptPreviewLen {
		return s
	}
	return string(r[:promptPreviewLen-1]) + "…"
}
