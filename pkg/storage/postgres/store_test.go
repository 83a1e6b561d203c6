package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage"
)

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(NewConnectionManagerFromDB("sqlmock", db), opts...), mock
}

func mustParse(t *testing.T, id, text string) *formula.Set {
	t.Helper()
	set, err := formula.Parse(id, text)
	require.NoError(t, err)
	return set
}

func TestStore_ReplaceRollsBackOnInsertFailure(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store, mock := newMockStore(t, WithMetrics(metrics))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM formula_edges")).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM formula_nodes")).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM formula_sets")).WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO formula_sets")).
		WithArgs("f1", "a=1;b=[a]", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO formula_nodes")).
		WithArgs("f1", "a", "1", "Formula").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Replace(context.Background(), mustParse(t, "f1", "a=1;b=[a]"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, formula.ErrStore))
	assert.Contains(t, err.Error(), "disk full")

	var storeErr *formula.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "replace", storeErr.Op)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.StorageErrorsTotal.WithLabelValues("replace", "sqlmock", "StoreError")))
}

func TestStore_ReplaceBeginFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	err := store.Replace(context.Background(), mustParse(t, "f1", "a=1"))
	assert.True(t, errors.Is(err, formula.ErrStore))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReplaceRejectsInvalidSetWithoutQuerying(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.Replace(context.Background(), &formula.Set{})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, formula.ErrStore))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT source, output, updated_at FROM formula_sets")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, formula.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetQueryFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT source, output, updated_at FROM formula_sets")).
		WithArgs("f1").
		WillReturnError(errors.New("timeout"))
	mock.ExpectRollback()

	_, err := store.Get(context.Background(), "f1")
	assert.True(t, errors.Is(err, formula.ErrStore))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetAssemblesSet(t *testing.T) {
	store, mock := newMockStore(t)
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT source, output, updated_at FROM formula_sets")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"source", "output", "updated_at"}).AddRow("c=[a]+1", "c", updated))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, expression, node_type FROM formula_nodes")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "expression", "node_type"}).
			AddRow("a", "", "Input").
			AddRow("c", "[a]+1", "Formula"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT dependent, dependency FROM formula_edges")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"dependent", "dependency"}).AddRow("c", "a"))
	mock.ExpectCommit()

	set, err := store.Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "c", set.Output)
	assert.Equal(t, updated, set.UpdatedAt)
	assert.Equal(t, []formula.Node{
		{Name: "a", Type: formula.NodeTypeInput, FormulaID: "f1"},
		{Name: "c", Expression: "[a]+1", Type: formula.NodeTypeFormula, FormulaID: "f1"},
	}, set.Nodes)
	assert.Equal(t, []formula.Edge{{FormulaID: "f1", Dependent: "c", Dependency: "a"}}, set.Edges)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReadsGoToPrimary(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replica.Close()

	cm := NewConnectionManagerFromDB(DriverPostgres, primary)
	cm.replicas = []*sql.DB{replica}
	store := New(cm)

	// a replace just committed on the primary; a lagging replica would not have it
	primaryMock.ExpectBegin()
	primaryMock.ExpectQuery(regexp.QuoteMeta("SELECT source, output, updated_at FROM formula_sets")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"source", "output", "updated_at"}).AddRow("y=[x]", "", time.Now()))
	primaryMock.ExpectQuery(regexp.QuoteMeta("SELECT name, expression, node_type FROM formula_nodes")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "expression", "node_type"}).
			AddRow("x", "", "Input").
			AddRow("y", "[x]", "Formula"))
	primaryMock.ExpectQuery(regexp.QuoteMeta("SELECT dependent, dependency FROM formula_edges")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"dependent", "dependency"}).AddRow("y", "x"))
	primaryMock.ExpectCommit()

	rows, err := store.OrderedSubgraph(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "y", rows[0].Dependent.Name)
	assert.Equal(t, "x", rows[0].Dependency.Name)

	assert.NoError(t, primaryMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestStore_ReadOptions(t *testing.T) {
	pg := New(NewConnectionManagerFromDB(DriverPostgres, &sql.DB{}))
	assert.Equal(t, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}, pg.readOptions())

	lite := New(NewConnectionManagerFromDB(DriverSQLite, &sql.DB{}))
	assert.Nil(t, lite.readOptions())
}

func TestStore_DeleteNotFoundRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM formula_edges")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM formula_nodes")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM formula_sets")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Delete(context.Background(), "missing")
	assert.True(t, errors.Is(err, formula.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HasCycleNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists", "count"}).AddRow(false, 0))
	mock.ExpectRollback()

	_, err := store.HasCycle(context.Background(), "missing")
	assert.True(t, errors.Is(err, formula.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HasCycleUsesNodeCountAsBound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"exists", "count"}).AddRow(true, 3))
	mock.ExpectQuery(regexp.QuoteMeta("WITH RECURSIVE reach")).
		WithArgs("f1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	cyclic, err := store.HasCycle(context.Background(), "f1")
	require.NoError(t, err)
	assert.True(t, cyclic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SQLiteFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := storage.Config{Type: storage.TypeSQLite, SQLitePath: filepath.Join(t.TempDir(), "formulas.db")}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, store.Replace(ctx, mustParse(t, "f1", "a=10;b=20;c=[a]+[b]")))
	require.NoError(t, store.Close())

	store, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer store.Close()

	set, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, set.Nodes, 3)
	assert.False(t, set.UpdatedAt.IsZero())

	rows, err := store.OrderedSubgraph(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStore_SQLiteCycleQuery(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, storage.Config{Type: storage.TypeSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	defer store.Close()

	tests := []struct {
		text   string
		cyclic bool
	}{
		{"a=1;b=[a];c=[b]", false},
		{"a=[a]", true},
		{"a=[c];b=[a];c=[b]", true},
		{"a=1;b=[a]+[a];c=[b]+[a];d=[c]", false},
		{"x=[y];y=[z];z=1;p=[q];q=[p]", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			require.NoError(t, store.Replace(ctx, mustParse(t, "f1", tt.text)))
			cyclic, err := store.HasCycle(ctx, "f1")
			require.NoError(t, err)
			assert.Equal(t, tt.cyclic, cyclic)
		})
	}
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(context.Background(), storage.Config{Type: storage.TypeMemory})
	assert.Error(t, err)
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements()
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[0], "formula_sets")
	assert.Contains(t, stmts[3], "CREATE INDEX")
}
