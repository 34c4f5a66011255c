package possync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arteapos/possync/merge"
	"github.com/arteapos/possync/snapshot"
)

const auditCollection = "auditLogs"

// appendAuditRecord adds an audit entry to the snapshot's auditLogs
// collection. Audit logs are event-sourced, so entries written here survive
// any later merge by union.
func appendAuditRecord(snap *snapshot.Snapshot, action, details string) {
	rec := snapshot.Record{
		snapshot.FieldID:        uuid.NewString(),
		snapshot.FieldUpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		snapshot.FieldCreatedBy: snap.DeviceID,
		"timestamp":             time.Now().UTC().Format(time.RFC3339Nano),
		"action":                action,
		"details":               details,
	}
	snap.Collections[auditCollection] = append(snap.Collections[auditCollection], rec)
}

// appendTieAudit records every timestamp tie the merge broke
// deterministically, so operators can review which side won.
func (s *Syncer) appendTieAudit(snap *snapshot.Snapshot, ties []merge.AmbiguousTie) {
	for _, tie := range ties {
		appendAuditRecord(snap, "SYNC_TIE_BROKEN",
			fmt.Sprintf("collection %s record %s field %s: kept version from %s",
				tie.Collection, tie.RecordID, tie.Field, tie.Winner))
	}
}
