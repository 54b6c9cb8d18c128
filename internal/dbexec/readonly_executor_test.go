package dbexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOnlyExecutor_PinsAndRestoresSession(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SET SESSION TRANSACTION READ ONLY").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET SESSION MAX_EXECUTION_TIME = 1500").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	mock.ExpectExec("SET SESSION TRANSACTION READ WRITE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET SESSION MAX_EXECUTION_TIME = 0").WillReturnResult(sqlmock.NewResult(0, 0))

	exec := NewReadOnlyExecutor(ReadOnlyExecutorConfig{
		DB:           db,
		DatabaseName: "shop",
		MaxExecution: 1500 * time.Millisecond,
	})
	rows, err := exec.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.True(t, rows.Next())
	var one int64
	require.NoError(t, rows.Scan(&one))
	assert.EqualValues(t, 1, one)
	require.NoError(t, rows.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadOnlyExecutor_PrepareFailureReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SET SESSION TRANSACTION READ ONLY").WillReturnError(errors.New("denied"))
	mock.ExpectExec("SET SESSION TRANSACTION READ WRITE").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = NewReadOnlyExecutor(ReadOnlyExecutorConfig{DB: db}).QueryContext(context.Background(), "SELECT 1")
	assert.ErrorContains(t, err, "failed to enable read-only mode")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutors_NilDB(t *testing.T) {
	_, err := NewReadOnlyExecutor(ReadOnlyExecutorConfig{}).QueryContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
	_, err = PoolExecutor(nil).QueryContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
}
