package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bnema/lapclock/internal/domain"
)

var timelineLaps string

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Validate a lap list and print its session timeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, err := readLaps(timelineLaps, cmd.InOrStdin())
		if err != nil {
			return err
		}
		laps, err := domain.BuildTimeline(raw)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "LAP\tSTART\tEND\tTIME\tPOSITION")
		for _, lap := range laps {
			pos := fmt.Sprintf("P%d", lap.StartPosition)
			if lap.Position != lap.StartPosition || len(lap.PositionChanges) > 0 {
				pos = fmt.Sprintf("P%d -> P%d", lap.StartPosition, lap.Position)
			}
			_, _ = fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%s\t%s\n", lap.Number, lap.StartOffset, lap.End(), lap.Display, pos)
		}
		_, _ = fmt.Fprintf(tw, "total\t\t%.3f\t%s\t\n", domain.TotalDuration(laps), domain.FormatLapTime(domain.TotalDuration(laps)))
		return tw.Flush()
	},
}

func init() {
	timelineCmd.Flags().StringVarP(&timelineLaps, "laps", "l", "", "JSON file with the lap list, - for stdin")
	_ = timelineCmd.MarkFlagRequired("laps")
}
