package database

import (
	"context"
	"fmt"
	"time"

	"rfm-segments/pkg/models"
)

// AcquireClaim takes the run-scoped exclusive claim for runID. The claim is
// a primary-key insert, so two runs racing on the same run_id cannot both
// hold it. A claim older than ttl is treated as abandoned by a crashed run
// and swept before the insert. Returns RUN_ALREADY_IN_PROGRESS when another
// live run holds the claim.
func (s *Store) AcquireClaim(ctx context.Context, runID string, ttl time.Duration) error {
	cutoff := time.Now().UTC().Add(-ttl).Format(tsLayout)
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE run_id = ? AND claimed_at < ?`, s.tables.Claims),
		runID, cutoff); err != nil {
		return models.NewPipelineError(models.StageClaim, models.CodeStorageFailure,
			fmt.Errorf("sweep stale claim: %w", err))
	}

	now := time.Now().UTC().Format(tsLayout)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (run_id, claimed_at) VALUES (?, ?)`, s.tables.Claims),
		runID, now)
	if err == nil {
		return nil
	}

	// The insert failed; a held claim is the expected cause, anything else is
	// a storage failure.
	var held int
	checkErr := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE run_id = ?`, s.tables.Claims),
		runID).Scan(&held)
	if checkErr == nil && held > 0 {
		return models.Errf(models.StageClaim, models.CodeRunInProgress,
			"run %s already in progress", runID)
	}
	return models.NewPipelineError(models.StageClaim, models.CodeStorageFailure,
		fmt.Errorf("acquire claim: %w", err))
}

// ReleaseClaim drops the claim. Safe to call on every exit path; releasing a
// claim that is already gone is not an error.
func (s *Store) ReleaseClaim(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, s.tables.Claims), runID); err != nil {
		return fmt.Errorf("release claim for run %s: %w", runID, err)
	}
	return nil
}
