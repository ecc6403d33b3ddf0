package task

import (
	"context"
	"database/sql"
	"testing"

	xerrors "SafeSwap-Chain/internal/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskRowColumns = []string{"id", "kind", "user_address", "metadata", "status", "attempts", "max_retries", "last_error", "error_code", "result", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMySQLStore(db), mock
}

func TestMySQLStoreCreate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO task_states").
		WithArgs("t1", "deploy_safe", "0xaa", sqlmock.AnyArg(), "pending", 0, 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Create(context.Background(), &Task{ID: "t1", Kind: KindDeploySafe, UserAddress: "0xAA", Status: StatusPending, MaxRetries: 3})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO task_states").WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := store.Create(context.Background(), &Task{ID: "t1", Kind: KindDeploySafe, Status: StatusPending})
	assert.True(t, IsTaskError(err, CodeTaskConflict))
}

func TestMySQLStoreGetDecodesResult(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM task_states WHERE id = \\?").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(
			"t1", "init_swap", "0xaa", `{"source":"api"}`, "failed", 1, 3, "wait failed", "PARTIAL_EXECUTION",
			`{"order_uid":"0xabc","stage":"executed","block_number":12}`, 10, 20,
		))

	task, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, KindInitSwap, task.Kind)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "api", task.Metadata["source"])
	require.NotNil(t, task.Result)
	assert.Equal(t, "0xabc", task.Result.OrderUID)
	assert.Equal(t, uint64(12), task.Result.BlockNumber)
}

func TestMySQLStoreGetMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM task_states").WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, IsTaskError(err, CodeTaskNotFound))
}

func TestMySQLStoreClaimTerminalTask(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE task_states SET status = \\?, attempts = attempts \\+ 1").
		WithArgs("running", sqlmock.AnyArg(), "t1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM task_states WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(
			"t1", "init_swap", "0xaa", nil, "failed", 1, 3, "boom", "TX_REVERTED", nil, 10, 20,
		))

	task, err := store.Claim(context.Background(), "t1")
	assert.True(t, IsTaskError(err, CodeTaskExhausted))
	require.NotNil(t, task)
	assert.Nil(t, task.Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreMarkFailedKeepsPartialResult(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE task_states SET status = \\?, last_error = \\?, error_code = \\?, updated_at = \\?, result = \\? WHERE id = \\?").
		WithArgs("failed", "wait failed", "PARTIAL_EXECUTION", sqlmock.AnyArg(), `{"order_uid":"0xabc","stage":"executed"}`, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkFailed(context.Background(), "t1", xerrors.CodePartialExecution, "wait failed", true,
		&ExecutionResult{OrderUID: "0xabc", Stage: "executed"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreMarkFailedRetryable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE task_states SET status = \\?, last_error = \\?, error_code = \\?, updated_at = \\? WHERE id = \\?").
		WithArgs("pending", "rpc down", "CHAIN_UNAVAILABLE", sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkFailed(context.Background(), "t1", xerrors.CodeChainUnavailable, "rpc down", false, nil)
	assert.True(t, IsTaskError(err, CodeTaskNotFound))
}

func TestMySQLStoreListFilters(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM task_states WHERE status IN \\(\\?\\) AND kind IN \\(\\?,\\?\\) AND user_address = \\? ORDER BY updated_at DESC").
		WithArgs("failed", "deploy_safe", "init_swap", "0xaa", 20, 0).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("t2", "init_swap", "0xaa", nil, "failed", 3, 3, "x", "TX_REVERTED", nil, 10, 30).
			AddRow("t1", "deploy_safe", "0xaa", nil, "failed", 1, 3, "y", "TX_REVERTED", nil, 10, 20))

	tasks, err := store.List(context.Background(), buildListOptions([]ListOption{
		WithStatuses(StatusFailed),
		WithKinds(KindDeploySafe, KindInitSwap),
		WithUserAddress("0xAA"),
	}))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreStats(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM task_states").
		WithArgs("pending", "running", "succeeded", "failed").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "running", "succeeded", "failed", "oldest", "newest"}).
			AddRow(4, 1, 1, 1, 1, 10, 40))

	stats, err := store.Stats(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskStats{Total: 4, Pending: 1, Running: 1, Succeeded: 1, Failed: 1, OldestUpdatedAt: 10, NewestUpdatedAt: 40}, stats)
}

func TestMySQLStoreCloseLeavesSharedPool(t *testing.T) {
	store, _ := newMockStore(t)
	require.NoError(t, store.Close())
	assert.NoError(t, store.db.Ping())
}
