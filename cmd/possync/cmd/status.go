package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local snapshot state",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, state, err := loadStore()
		if err != nil {
			return err
		}

		snap, _ := store.Current()
		fmt.Printf("device id:     %s\n", snap.DeviceID)

		if rev := store.LastSyncedRevision(); rev != "" {
			fmt.Printf("last revision: %s\n", rev)
			fmt.Printf("last sync:     %s\n", state.SyncedAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("last revision: never synced")
		}

		if store.Dirty() {
			color.Yellow("pending:       local edits not yet synced")
		} else {
			color.Green("pending:       none")
		}

		fmt.Println("collections:")
		for _, name := range snap.CollectionNames() {
			fmt.Printf("  %-20s %d records\n", name, len(snap.Collections[name]))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
