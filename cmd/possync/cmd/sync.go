package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arteapos/possync"
	"github.com/arteapos/possync/errors"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull, merge and push the shared snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), newInteractiveGate(), false)
	},
}

func runSync(ctx context.Context, gate possync.ConflictGate, force bool) error {
	store, prev, err := loadStore()
	if err != nil {
		return err
	}

	remote, err := buildRemote(ctx)
	if err != nil {
		return err
	}
	defer remote.Close()

	if force {
		gate = possync.FixedGate{Decision: possync.ForceOverwriteRemote}
	}

	syncer := possync.New(store, remote, &possync.Options{
		Strict:          viper.GetBool("strict"),
		MaxPushAttempts: viper.GetInt("max_push_attempts"),
		Retry:           possync.DefaultRetryConfig(),
		Timeout:         syncTimeout,
		Gate:            gate,
		AuditTrail:      true,
		Logger:          log,
	})

	result, err := syncer.Sync(ctx)
	if saveErr := saveStore(store, prev); saveErr != nil {
		return saveErr
	}
	if err != nil {
		if errors.IsKind(err, errors.KindConflict) {
			color.Red("sync halted on a conflict, nothing was changed")
			for _, name := range result.Conflicts {
				fmt.Printf("  conflicted: %s\n", name)
			}
			return err
		}
		return err
	}

	switch {
	case result.UpToDate:
		color.Green("already up to date")
	case result.FirstPublish:
		color.Green("published the first shared snapshot (revision %s)", result.Revision)
	case result.FastForwarded:
		color.Green("fast-forwarded to revision %s", result.Revision)
	case result.Forced:
		color.Yellow("forced this device's data to revision %s", result.Revision)
	default:
		color.Green("merged and pushed revision %s", result.Revision)
	}
	if result.Ties > 0 {
		color.Yellow("broke %d timestamp tie(s) deterministically, see auditLogs", result.Ties)
	}
	if result.Attempts > 1 {
		fmt.Printf("needed %d rounds racing other devices\n", result.Attempts)
	}
	return nil
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Second, "per-request timeout")
	rootCmd.AddCommand(syncCmd)
}
