package db

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

func TestLoadMigrations_SortOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("ignored")},
		"notes.sql":      {Data: []byte("no numeric prefix")},
	}

	migrations, err := NewMigrator(nil, fsys, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigrator(nil, fsys, zerolog.Nop()).LoadMigrations(); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestPendingAndStatus(t *testing.T) {
	all := []Migration{{Version: 1, Name: "001_a.sql"}, {Version: 2, Name: "002_b.sql"}}
	applied := map[int]time.Time{1: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	p := pending(all, applied)
	if len(p) != 1 || p[0].Version != 2 {
		t.Fatalf("expected only version 2 pending, got %+v", p)
	}

	st := statusOf(all, applied)
	if !st[0].Applied || st[0].AppliedAt == nil {
		t.Error("expected version 1 applied with timestamp")
	}
	if st[1].Applied {
		t.Error("expected version 2 pending")
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx")
	}
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn")
	}
}

func TestTxFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx for wrong value type")
	}
}

func TestPick_FallsBackToPool(t *testing.T) {
	q := Pick(context.Background(), nil)
	if q == nil {
		t.Fatal("expected the pool querier")
	}
}

// recordingTx stands in for pgx.Tx; nested Begin calls become child
// transactions the way pgx maps them onto savepoints.
type recordingTx struct {
	pgx.Tx
	child      *recordingTx
	committed  bool
	rolledBack bool
}

func (r *recordingTx) Begin(context.Context) (pgx.Tx, error) {
	r.child = &recordingTx{}
	return r.child, nil
}

func (r *recordingTx) Commit(context.Context) error {
	r.committed = true
	return nil
}

func (r *recordingTx) Rollback(context.Context) error {
	r.rolledBack = true
	return nil
}

func TestSavepoint_NoTransaction(t *testing.T) {
	called := false
	err := Savepoint(context.Background(), func(ctx context.Context) error {
		called = true
		if TxFromContext(ctx) != nil {
			t.Error("expected no transaction inside fn")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run, called=%v err=%v", called, err)
	}
}

func TestSavepoint_RollsBackOnlyTheNestedTx(t *testing.T) {
	outer := &recordingTx{}
	ctx := ContextWithTx(context.Background(), outer)
	failure := errors.New("room not found")

	err := Savepoint(ctx, func(ctx context.Context) error {
		if TxFromContext(ctx) != outer.child {
			t.Error("expected fn to see the savepoint transaction")
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if !outer.child.rolledBack || outer.child.committed {
		t.Errorf("expected savepoint rolled back, got %+v", outer.child)
	}
	if outer.rolledBack || outer.committed {
		t.Error("enclosing transaction must be left alone")
	}
}

func TestSavepoint_ReleasesOnSuccess(t *testing.T) {
	outer := &recordingTx{}
	ctx := ContextWithTx(context.Background(), outer)

	if err := Savepoint(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if !outer.child.committed || outer.child.rolledBack {
		t.Errorf("expected savepoint released, got %+v", outer.child)
	}
}

func TestReadiness(t *testing.T) {
	applied := time.Now()
	statuses := []MigrationStatus{
		{Version: 1, Name: "hospital", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "bookings", Applied: true, AppliedAt: &applied},
	}

	code, r := readiness(nil, statuses, nil)
	if code != http.StatusOK || r.Status != "ready" || r.Schema.Version != 2 {
		t.Errorf("expected ready at version 2, got %d %+v", code, r)
	}

	statuses = append(statuses, MigrationStatus{Version: 3, Name: "users"})
	code, r = readiness(nil, statuses, nil)
	if code != http.StatusServiceUnavailable || r.Status != "migrating" {
		t.Errorf("expected migrating, got %d %+v", code, r)
	}
	if len(r.Schema.Pending) != 1 || r.Schema.Pending[0] != "users" {
		t.Errorf("expected users pending, got %v", r.Schema.Pending)
	}

	code, r = readiness(errors.New("dial tcp: password authentication failed"), nil, nil)
	if code != http.StatusServiceUnavailable || r.Problem != "database unreachable" {
		t.Errorf("expected unreachable, got %d %+v", code, r)
	}

	code, r = readiness(nil, nil, errors.New("relation _migrations does not exist"))
	if code != http.StatusServiceUnavailable || r.Problem != "migration state unknown" {
		t.Errorf("expected unknown migration state, got %d %+v", code, r)
	}
}
