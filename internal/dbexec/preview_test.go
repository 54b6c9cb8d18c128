package dbexec

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/internal/logging"
	"querycanvas/internal/query"
)

func customerNames(t *testing.T) query.Query {
	t.Helper()
	q := query.New("customers", "")
	q, err := q.AddSelectColumn(query.ColumnRef{Alias: "cus", Column: "id"}, "")
	require.NoError(t, err)
	q, err = q.AddSelectColumn(query.ColumnRef{Alias: "cus", Column: "name"}, "")
	require.NoError(t, err)
	return q
}

func newMock(t *testing.T) (*Previewer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPreviewer(PreviewerConfig{
		Executor: PoolExecutor(db),
		MaxRows:  3,
		Logger:   logging.Discard(),
	}), mock
}

func TestWrapStatement(t *testing.T) {
	wrapped, err := WrapStatement("SELECT cus.name FROM customers AS cus", 11)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM (SELECT cus.name FROM customers AS cus) AS preview LIMIT 11", wrapped)
}

func TestPreview_ReturnsRows(t *testing.T) {
	previewer, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), []byte("Ada")).
		AddRow(int64(2), []byte("Grace"))
	mock.ExpectQuery("SELECT * FROM (SELECT cus.id, cus.name FROM customers AS cus) AS preview LIMIT 3").
		WillReturnRows(rows)

	result, err := previewer.Preview(context.Background(), customerNames(t), 2)
	require.NoError(t, err)
	assert.Equal(t, "SELECT cus.id, cus.name FROM customers AS cus", result.SQL)
	assert.Equal(t, []string{"id", "name"}, result.Columns)
	assert.Equal(t, [][]any{{int64(1), "Ada"}, {int64(2), "Grace"}}, result.Rows)
	assert.False(t, result.Truncated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreview_TruncatesAtLimit(t *testing.T) {
	previewer, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "name"})
	for i := 1; i <= 4; i++ {
		rows.AddRow(int64(i), "x")
	}
	// limits above MaxRows fall back to MaxRows
	mock.ExpectQuery("SELECT * FROM (SELECT cus.id, cus.name FROM customers AS cus) AS preview LIMIT 4").
		WillReturnRows(rows)

	result, err := previewer.Preview(context.Background(), customerNames(t), 50)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 3)
	assert.True(t, result.Truncated)
}

func TestPreview_Errors(t *testing.T) {
	previewer, mock := newMock(t)

	_, err := previewer.Preview(context.Background(), query.Query{}, 10)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	boom := errors.New("table missing")
	mock.ExpectQuery("SELECT * FROM (SELECT cus.id, cus.name FROM customers AS cus) AS preview LIMIT 4").
		WillReturnError(boom)
	_, err = previewer.Preview(context.Background(), customerNames(t), 0)
	assert.ErrorIs(t, err, boom)

	unconfigured := NewPreviewer(PreviewerConfig{Logger: logging.Discard()})
	_, err = unconfigured.Preview(context.Background(), customerNames(t), 1)
	assert.Error(t, err)
}
