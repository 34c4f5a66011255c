package possync_test

import (
	"context"
	"fmt"
	"time"

	"github.com/arteapos/possync"
	"github.com/arteapos/possync/logging"
	"github.com/arteapos/possync/snapshot"
	"github.com/arteapos/possync/transport/memory"
)

// Two registers share one remote snapshot. Each records a sale offline, then
// syncs; neither write is lost.
func Example() {
	remote := memory.NewStore()
	opts := &possync.Options{Logger: logging.Nop(), MismatchBackoff: time.Millisecond}

	registerA := snapshot.NewStore(snapshot.New("register-a"))
	registerB := snapshot.NewStore(snapshot.New("register-b"))
	syncerA := possync.New(registerA, remote, opts)
	syncerB := possync.New(registerB, remote, opts)

	ctx := context.Background()
	syncerA.Sync(ctx)
	syncerB.Sync(ctx)

	registerA.Update(func(s *snapshot.Snapshot) error {
		s.Collections["transactions"] = append(s.Collections["transactions"], snapshot.Record{
			"id": "t1", "updatedAt": "2026-01-05T12:00:00Z", "createdBy": "register-a",
			"total": 7000.0,
		})
		return nil
	})
	registerB.Update(func(s *snapshot.Snapshot) error {
		s.Collections["transactions"] = append(s.Collections["transactions"], snapshot.Record{
			"id": "t2", "updatedAt": "2026-01-05T12:00:05Z", "createdBy": "register-b",
			"total": 8000.0,
		})
		return nil
	})

	syncerA.Sync(ctx)
	syncerB.Sync(ctx)
	syncerA.Sync(ctx)

	snap, _ := registerA.Current()
	var total float64
	for _, tx := range snap.Collections["transactions"] {
		total += tx["total"].(float64)
	}
	fmt.Println(len(snap.Collections["transactions"]), "sales, total", total)
	// Output: 2 sales, total 15000
}
