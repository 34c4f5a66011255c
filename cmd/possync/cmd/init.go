package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arteapos/possync/snapshot"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local snapshot state for this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(stateDir, 0o700); err != nil {
			return err
		}
		if _, err := os.Stat(statePath()); err == nil {
			return fmt.Errorf("state already exists in %s", stateDir)
		}

		deviceID := uuid.NewString()
		store := snapshot.NewStore(snapshot.New(deviceID))
		if err := saveStore(store, nil); err != nil {
			return err
		}

		color.Green("initialized %s", stateDir)
		fmt.Printf("device id: %s\n", deviceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
