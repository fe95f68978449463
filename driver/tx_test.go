package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTransactionManager(t *testing.T) (*TransactionManager, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewTransactionManager(mock, zap.NewNop()), mock
}

func TestExecuteTransaction_Commits(t *testing.T) {
	tm, mock := setupTransactionManager(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectCommit()

	err := tm.ExecuteTransaction(context.Background(), func(tx pgx.Tx) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTransaction_RollsBackOnError(t *testing.T) {
	tm, mock := setupTransactionManager(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := tm.ExecuteTransaction(context.Background(), func(tx pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTransaction_ReportsCommitFailure(t *testing.T) {
	tm, mock := setupTransactionManager(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := tm.ExecuteTransaction(context.Background(), func(tx pgx.Tx) error { return nil })
	assert.ErrorContains(t, err, "commit transaction failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTransactionWithRetry_RetriesSerializationFailures(t *testing.T) {
	tm, mock := setupTransactionManager(t)
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}

	mock.ExpectBeginTx(opts)
	mock.ExpectRollback()
	mock.ExpectBeginTx(opts)
	mock.ExpectCommit()

	attempts := 0
	err := tm.ExecuteSerializableTransaction(context.Background(), func(tx pgx.Tx) error {
		attempts++
		if attempts == 1 {
			return &pgconn.PgError{Code: serializationFailure}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTransactionWithRetry_DoesNotRetryOtherErrors(t *testing.T) {
	tm, mock := setupTransactionManager(t)
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}

	mock.ExpectBeginTx(opts)
	mock.ExpectRollback()

	attempts := 0
	err := tm.ExecuteSerializableTransaction(context.Background(), func(tx pgx.Tx) error {
		attempts++
		return errors.New("constraint violation")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
