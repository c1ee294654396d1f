package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"feedsync/internal/app"
	"feedsync/internal/service"
)

var (
	showLimit  int
	showSource string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently persisted quotes or news",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Source: showSource,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showSource, "source", service.SourceQuotes, "Source to display (quotes or news)")
}
