package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arteapos/possync/snapshot"
)

const stateFileName = "state.json"

// persistedState is the on-disk form of the local snapshot store. Current and
// Base are full snapshot documents; the revision travels separately because
// the wire format deliberately excludes it.
type persistedState struct {
	LastSyncedRevision string          `json:"lastSyncedRevision"`
	Dirty              bool            `json:"dirty"`
	SyncedAt           time.Time       `json:"syncedAt"`
	Current            json.RawMessage `json:"current"`
	Base               json.RawMessage `json:"base,omitempty"`
}

func statePath() string {
	return filepath.Join(stateDir, stateFileName)
}

func loadStore() (*snapshot.Store, *persistedState, error) {
	data, err := os.ReadFile(statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("no local state in %s, run possync init first", stateDir)
		}
		return nil, nil, err
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nil, fmt.Errorf("corrupt state file %s: %w", statePath(), err)
	}

	current, err := snapshot.Unmarshal(state.Current)
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt snapshot in %s: %w", statePath(), err)
	}
	current.LastSyncedRevision = state.LastSyncedRevision

	var base *snapshot.Snapshot
	if len(state.Base) > 0 {
		if base, err = snapshot.Unmarshal(state.Base); err != nil {
			return nil, nil, fmt.Errorf("corrupt base snapshot in %s: %w", statePath(), err)
		}
	}

	return snapshot.RestoreStore(current, base, state.Dirty), &state, nil
}

func saveStore(store *snapshot.Store, prev *persistedState) error {
	current, _ := store.Current()
	currentDoc, err := snapshot.Marshal(current)
	if err != nil {
		return err
	}

	state := persistedState{
		LastSyncedRevision: store.LastSyncedRevision(),
		Dirty:              store.Dirty(),
		SyncedAt:           store.LastSyncTime(),
		Current:            currentDoc,
	}
	if state.SyncedAt.IsZero() && prev != nil {
		state.SyncedAt = prev.SyncedAt
	}
	if base := store.Base(); base != nil {
		if state.Base, err = snapshot.Marshal(base); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash mid-save cannot destroy the only copy of
	// unsynced sales.
	tmp := statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, statePath())
}
