package commands

import (
	"fmt"
	"os"

	"vtopassist-backend/internal/timetable"

	"github.com/spf13/cobra"
)

var parseJson bool

func init() {
	parseCmd.Flags().BoolVar(&parseJson, "json", false, "Print the schedule as JSON instead of tables.")
	rootCmd.AddCommand(parseCmd)
}

var parseCmd = &cobra.Command{
	Use:   "parse <timetable.html>",
	Short: "Extracts the courses and weekly grid from a saved timetable page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read page: %w", err)
		}
		return renderSchedule(cmd.OutOrStdout(), timetable.Extract(page), parseJson)
	},
}
