package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfm-segments/pkg/models"
)

func TestAcquireClaim_Succeeds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM run_claims WHERE run_id = \? AND claimed_at < \?`).
		WithArgs("run-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO run_claims`).
		WithArgs("run-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AcquireClaim(context.Background(), "run-1", time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireClaim_HeldByLiveRun(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM run_claims WHERE run_id = \? AND claimed_at < \?`).
		WithArgs("run-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO run_claims`).
		WillReturnError(errors.New("Duplicate entry 'run-1' for key 'PRIMARY'"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM run_claims WHERE run_id = \?`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := store.AcquireClaim(context.Background(), "run-1", time.Hour)
	require.Error(t, err)

	var pe *models.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, models.CodeRunInProgress, pe.Code)
	assert.Equal(t, models.StageClaim, pe.Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireClaim_StorageFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM run_claims WHERE run_id = \? AND claimed_at < \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO run_claims`).
		WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM run_claims WHERE run_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := store.AcquireClaim(context.Background(), "run-1", time.Hour)
	require.Error(t, err)
	assert.Equal(t, models.CodeStorageFailure, models.CodeOf(err))
}

func TestReleaseClaim(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM run_claims WHERE run_id = \?`).
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.ReleaseClaim(context.Background(), "run-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
