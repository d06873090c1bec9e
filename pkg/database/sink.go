package database

import (
	"context"
	"fmt"
	"time"

	"rfm-segments/pkg/models"
)

const tsLayout = time.RFC3339Nano

// WriteRun persists one run's output in a single transaction with
// whole-partition overwrite semantics: all rows for the run_id are deleted
// before the new rows go in, so a rerun fully replaces the previous result
// and a failure rolls back to it. Rejected rows follow the same run_id
// partitioning when auditRejects is set.
func (s *Store) WriteRun(ctx context.Context, runID string, segments []models.SegmentRow, rejects []models.RejectedRow, auditRejects bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, s.tables.Segments), runID); err != nil {
		return fmt.Errorf("clear segments for run %s: %w", runID, err)
	}

	insSeg := fmt.Sprintf(`INSERT INTO %s (
		run_id, customer_id, segment_label, recency, frequency,
		monetary_value, avg_order_value, distance_to_centroid, run_timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.tables.Segments)
	for _, row := range segments {
		if _, err := tx.ExecContext(ctx, insSeg,
			row.RunID, row.CustomerID, row.Segment, row.Recency, row.Frequency,
			row.Monetary, row.AvgOrderValue, row.Distance,
			row.RunTimestamp.UTC().Format(tsLayout),
		); err != nil {
			return fmt.Errorf("insert segment for customer %s: %w", row.CustomerID, err)
		}
	}

	if auditRejects {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, s.tables.Rejects), runID); err != nil {
			return fmt.Errorf("clear rejects for run %s: %w", runID, err)
		}
		insRej := fmt.Sprintf(`INSERT INTO %s (run_id, raw_row, reason) VALUES (?, ?, ?)`, s.tables.Rejects)
		for _, rej := range rejects {
			if _, err := tx.ExecContext(ctx, insRej, runID, rej.Raw, string(rej.Reason)); err != nil {
				return fmt.Errorf("insert reject: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", runID, err)
	}
	return nil
}
