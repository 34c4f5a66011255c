package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pushYes bool

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Sync, forcing this device's data on conflicts",
	Long: `push runs a normal sync cycle, but when the merge cannot resolve a
collection automatically it overwrites the remote with this device's data
instead of asking. The write is still revision-checked, so edits made on
other devices after the pull are never silently clobbered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !pushYes {
			color.Yellow("push discards other devices' changes in any conflicted collection")
			fmt.Print("type yes to continue: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return err
			}
			if strings.TrimSpace(line) != "yes" {
				return fmt.Errorf("aborted")
			}
		}
		return runSync(cmd.Context(), nil, true)
	},
}

func init() {
	pushCmd.Flags().BoolVarP(&pushYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(pushCmd)
}
