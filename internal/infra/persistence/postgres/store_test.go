package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"recordhistory/internal/history"
	pgtu "recordhistory/internal/infra/persistence/postgres/testutil"
	"recordhistory/internal/persistence/core"
)

func newStubStore(t *testing.T) (*Store, *pgtu.StubConn) {
	t.Helper()
	db, conn := pgtu.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != defaultDriver {
			t.Fatalf("unexpected driver %s", driverName)
		}
		if dsn != defaultDSN {
			t.Fatalf("expected default dsn, got %s", dsn)
		}
		return db, nil
	})
	t.Cleanup(restore)
	s, err := New(context.Background(), "", history.Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, conn
}

func sampleStore(t *testing.T) *history.Store {
	t.Helper()
	hs := history.NewStore(history.Options{})
	ctx := context.Background()
	if _, err := hs.Ingest(ctx, strings.NewReader("A\tallow\tpd\t7\nB\tallow\tpd\t7\nC\tallow\tpd\t9\n"), 202201, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := hs.Ingest(ctx, strings.NewReader("A\tallow\tpd\t9\n"), 202202, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return hs
}

func TestNewAppliesSchema(t *testing.T) {
	s, conn := newStubStore(t)
	if s.Driver() != core.DriverPostgres || s.DB() == nil {
		t.Fatalf("unexpected store %+v", s)
	}
	var creates int
	for _, q := range conn.Execs {
		if strings.Contains(q, "CREATE TABLE IF NOT EXISTS") {
			creates++
		}
	}
	if creates != len(schema) {
		t.Fatalf("expected %d schema statements, got %d", len(schema), creates)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, conn := newStubStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, 202202, sampleStore(t)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := len(conn.Rows("record_history")); got != 2 {
		t.Fatalf("expected 2 record rows, got %d", got)
	}
	hs, err := s.Load(ctx, 202202)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if hs.Len() != 2 || hs.NewestLoad() != 202202 {
		t.Fatalf("unexpected store len=%d newest=%s", hs.Len(), hs.NewestLoad())
	}
	rec, ok := hs.Record(9)
	if !ok || rec.Entries["A"] == nil || rec.Entries["C"].FirstSeen != 202201 {
		t.Fatalf("record 9 not restored: %+v", rec)
	}
}

func TestSaveRefusesExistingPeriod(t *testing.T) {
	s, conn := newStubStore(t)
	ctx := context.Background()
	hs := sampleStore(t)
	if err := s.Save(ctx, 202202, hs); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, 202202, hs); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if got := len(conn.Rows("record_history")); got != 2 {
		t.Fatalf("failed save changed rows: %d", got)
	}
}

func TestLoadMissingPeriod(t *testing.T) {
	s, _ := newStubStore(t)
	if _, err := s.Load(context.Background(), 202101); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPeriodsAndExists(t *testing.T) {
	s, _ := newStubStore(t)
	ctx := context.Background()
	hs := sampleStore(t)
	for _, p := range []history.Period{202203, 202112} {
		if err := s.Save(ctx, p, hs); err != nil {
			t.Fatalf("save %s: %v", p, err)
		}
	}
	periods, err := s.Periods(ctx)
	if err != nil {
		t.Fatalf("periods: %v", err)
	}
	if len(periods) != 2 || periods[0] != 202112 || periods[1] != 202203 {
		t.Fatalf("unexpected periods %v", periods)
	}
	if ok, err := s.Exists(ctx, 202203); err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
	if ok, err := s.Exists(ctx, 202201); err != nil || ok {
		t.Fatalf("absent period reported: %v %v", ok, err)
	}
}

func TestSaveFailuresRollBack(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*pgtu.StubConn)
	}{
		{"begin", func(c *pgtu.StubConn) { c.FailBegin = true }},
		{"insert record", func(c *pgtu.StubConn) { c.FailTables = map[string]bool{"record_history": true} }},
		{"commit", func(c *pgtu.StubConn) { c.FailCommit = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, conn := newStubStore(t)
			tc.setup(conn)
			if err := s.Save(context.Background(), 202202, sampleStore(t)); err == nil {
				t.Fatalf("expected save error")
			}
			if len(conn.Rows("history_period")) != 0 || len(conn.Rows("record_history")) != 0 {
				t.Fatalf("failed save left rows behind")
			}
		})
	}
}

func TestLoadRejectsCorruptEntries(t *testing.T) {
	s, conn := newStubStore(t)
	conn.Tables["history_period"] = []map[string]any{{"period": int64(202201)}}
	conn.Tables["record_history"] = []map[string]any{{
		"period": int64(202201), "record_id": int64(7), "most_recently_seen": int64(202201), "entries": "not-json",
	}}
	if _, err := s.Load(context.Background(), 202201); err == nil {
		t.Fatalf("expected decode error")
	}
	conn.Tables["record_history"] = []map[string]any{{
		"period": int64(202201), "record_id": int64(7), "most_recently_seen": int64(202201),
		"entries": `{"A":{"first_seen":202203,"last_seen":202201}}`,
	}}
	if _, err := s.Load(context.Background(), 202201); err == nil {
		t.Fatalf("expected interval validation error")
	}
}

func TestLoadQueryErrors(t *testing.T) {
	s, conn := newStubStore(t)
	conn.Tables["history_period"] = []map[string]any{{"period": int64(202201)}}
	conn.FailTables = map[string]bool{"record_history": true}
	if _, err := s.Load(context.Background(), 202201); err == nil {
		t.Fatalf("expected select error")
	}
	conn.FailTables = map[string]bool{"history_period": true}
	if _, err := s.Periods(context.Background()); err == nil {
		t.Fatalf("expected periods error")
	}
	if _, err := s.Exists(context.Background(), 202201); err == nil {
		t.Fatalf("expected exists error")
	}
}

func TestNewErrors(t *testing.T) {
	db, conn := pgtu.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := New(context.Background(), "postgres://x", history.Options{}); err == nil {
		t.Fatalf("expected ping error")
	}

	db2, conn2 := pgtu.NewStubDB()
	conn2.FailExec = true
	restore2 := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db2, nil })
	defer restore2()
	if _, err := New(context.Background(), "postgres://x", history.Options{}); err == nil {
		t.Fatalf("expected schema error")
	}

	restore3 := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("open fail") })
	defer restore3()
	if _, err := New(context.Background(), "postgres://x", history.Options{}); err == nil {
		t.Fatalf("expected open error")
	}
}
