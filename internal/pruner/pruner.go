// Package pruner implements the Retention Pruner (§4.8): per-table
// deletion of rows older than a policy horizon, followed by a table
// analyze so the store's planner statistics stay current.
//
// Grounded on the teacher's engine.QueryEngine.purgeExpiredFiles
// (internal/engine/cleaner.go): compute a cutoff from a retention
// duration, delete everything past it, and only pay for the follow-up
// maintenance step when something was actually deleted.
package pruner

import (
	"context"
	"fmt"
	"time"

	"github.com/coffersTech/logpipe/internal/logrecord"
	"github.com/coffersTech/logpipe/internal/store"
)

// PruneTable implements §4.8 pruneTable: delete every row in tableName
// whose receivedAt predates now-retentionDays, ANALYZE the table if
// anything was deleted, and return the row count removed.
func PruneTable(ctx context.Context, st store.Store, tableName string, retentionDays int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	// Must match logrecord.FormatTimestamp's fixed-width layout exactly —
	// receivedAt is written with it, and this cutoff is compared against
	// receivedAt as a plain string.
	cutoffISO := logrecord.FormatTimestamp(cutoff)

	res, err := st.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE receivedAt < ?", tableName), cutoffISO)
	if err != nil {
		return 0, fmt.Errorf("pruner: delete from %s: %w", tableName, err)
	}

	if res.Changes > 0 {
		if _, err := st.Exec(ctx, fmt.Sprintf("ANALYZE %s", tableName)); err != nil {
			return res.Changes, fmt.Errorf("pruner: analyze %s: %w", tableName, err)
		}
	}
	return res.Changes, nil
}
