package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"marketwatcher/internal/app"
)

var (
	simulateWatcher  string
	simulateKind     string
	simulateTitle    string
	simulatePrice    float64
	simulatePrevious float64
	simulateURL      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic alert through a watcher's channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateWatcher == "" {
			return errors.New("--watcher is required")
		}

		opts := app.SimulateOptions{
			WatcherID:     simulateWatcher,
			Kind:          simulateKind,
			Title:         simulateTitle,
			Price:         simulatePrice,
			PreviousPrice: simulatePrevious,
			URL:           simulateURL,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateWatcher, "watcher", "", "Watcher id whose channels receive the alert")
	simulateCmd.Flags().StringVar(&simulateKind, "kind", "new_listing", "Event kind (new_listing or price_drop)")
	simulateCmd.Flags().StringVar(&simulateTitle, "title", "", "Listing title")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 100, "Listing price")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous-price", 0, "Previous price (required for price_drop)")
	simulateCmd.Flags().StringVar(&simulateURL, "url", "", "Listing URL")
}
