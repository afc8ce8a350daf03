package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func pragma(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var v string
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func TestOpen_Pragmas(t *testing.T) {
	db := OpenMemory(t)
	tests := []struct {
		name string
		want []string
	}{
		// :memory: reports "memory" even after the WAL pragma ran.
		{"journal_mode", []string{"wal", "memory"}},
		{"foreign_keys", []string{"1"}},
		{"synchronous", []string{"1"}},
		{"busy_timeout", []string{"10000"}},
	}
	for _, tt := range tests {
		got := pragma(t, db, tt.name)
		ok := false
		for _, w := range tt.want {
			ok = ok || got == w
		}
		if !ok {
			t.Errorf("%s = %q, want one of %v", tt.name, got, tt.want)
		}
	}
}

func TestOpen_Options(t *testing.T) {
	db := OpenMemory(t, WithBusyTimeout(5000), WithSynchronous("FULL"))
	if got := pragma(t, db, "busy_timeout"); got != "5000" {
		t.Errorf("busy_timeout = %q", got)
	}
	if got := pragma(t, db, "synchronous"); got != "2" {
		t.Errorf("synchronous = %q, want 2 (FULL)", got)
	}
}

func TestOpen_SchemaAndDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "history.db")
	db, err := Open(path, WithSchema(`CREATE TABLE runs (id TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO runs (id) VALUES ('batch_1')`); err != nil {
		t.Fatalf("insert into schema table: %v", err)
	}
}

func TestOpen_BadSchema(t *testing.T) {
	if _, err := Open(Memory, WithSchema(`CREATE TABLE (`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("exec: database is locked (5)"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetry(t *testing.T) {
	busy := errors.New("database is locked")
	boom := errors.New("boom")
	tests := []struct {
		name  string
		errs  []error
		calls int
		want  error
	}{
		{"first try", []error{nil}, 1, nil},
		{"busy then ok", []error{busy, nil}, 2, nil},
		{"busy exhausted", []error{busy, busy, busy}, 3, busy},
		{"other error", []error{boom}, 1, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry(context.Background(), func() error {
				e := tt.errs[calls]
				calls++
				return e
			})
			if calls != tt.calls {
				t.Errorf("calls = %d, want %d", calls, tt.calls)
			}
			if err != tt.want {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, func() error { return errors.New("SQLITE_BUSY") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestRunTx(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE rows (n INTEGER)`))
	ctx := context.Background()

	if err := RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO rows VALUES (2), (3)`)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	sentinel := errors.New("rollback")
	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO rows VALUES (4)`)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM rows`).Scan(&n)
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestExec(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE rows (n INTEGER)`))
	res, err := Exec(context.Background(), db, `INSERT INTO rows VALUES (?)`, 7)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("rows affected = %d", n)
	}
}
