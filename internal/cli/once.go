package cli

import (
	"github.com/spf13/cobra"

	"marketwatcher/internal/app"
)

var onceWatcher string

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.OnceOptions{
			WatcherID: onceWatcher,
		}
		return getApp().RunOnce(cmd.Context(), opts)
	},
}

func init() {
	onceCmd.Flags().StringVar(&onceWatcher, "watcher", "", "Run only this watcher id (default: all)")
}
