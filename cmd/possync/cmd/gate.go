package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/arteapos/possync"
)

// interactiveGate asks the operator to resolve an unresolvable merge. On a
// non-interactive stdin it declines, which halts the cycle with the local
// snapshot untouched.
type interactiveGate struct {
	in  *os.File
	out *os.File
}

func newInteractiveGate() *interactiveGate {
	return &interactiveGate{in: os.Stdin, out: os.Stdout}
}

func (g *interactiveGate) PresentConflict(ctx context.Context, c *possync.Conflict) (possync.Decision, error) {
	if !term.IsTerminal(int(g.in.Fd())) {
		return possync.DecisionNone, nil
	}

	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	red.Fprintln(g.out, "sync conflict")
	fmt.Fprintln(g.out, "another device changed data this device also changed. Collections:")
	for _, name := range c.Collections {
		yellow.Fprintf(g.out, "  - %s (local %d records, remote %d records)\n",
			name, len(c.Local.Collection(name)), len(c.Remote.Collection(name)))
	}
	fmt.Fprintln(g.out)
	fmt.Fprintln(g.out, "  [m] merge: keep the other device's version of the listed collections")
	fmt.Fprintln(g.out, "  [f] force: overwrite the remote with this device's data")
	fmt.Fprintln(g.out, "  [a] abort: leave everything untouched")

	reader := bufio.NewReader(g.in)
	for {
		select {
		case <-ctx.Done():
			return possync.DecisionNone, ctx.Err()
		default:
		}

		fmt.Fprint(g.out, "choice [m/f/a]: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return possync.DecisionNone, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "m":
			return possync.MergeAndRetry, nil
		case "f":
			red.Fprintln(g.out, "this discards the other device's changes in the listed collections")
			fmt.Fprint(g.out, "type yes to confirm: ")
			confirm, err := reader.ReadString('\n')
			if err != nil {
				return possync.DecisionNone, err
			}
			if strings.TrimSpace(confirm) == "yes" {
				return possync.ForceOverwriteRemote, nil
			}
		case "a":
			return possync.DecisionNone, nil
		}
	}
}
