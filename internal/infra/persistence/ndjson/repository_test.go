package ndjson

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"recordhistory/internal/archive"
	"recordhistory/internal/history"
	"recordhistory/internal/persistence/core"
)

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

func TestRepositoryRoundTrip(t *testing.T) {
	store := archive.NewMemory()
	repo := New(store, archive.Layout{}, history.Options{})
	ctx := context.Background()
	if repo.Driver() != core.DriverArchive {
		t.Fatalf("unexpected driver %s", repo.Driver())
	}
	if err := repo.Save(ctx, 202202, sampleStore(t)); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := store.Head(ctx, "history/202202.ndj.gz")
	if err != nil {
		t.Fatalf("dump not written under layout key: %v", err)
	}
	if info.Metadata["records"] != "2" || info.ContentType != "application/gzip" {
		t.Fatalf("unexpected object info %+v", info)
	}
	hs, err := repo.Load(ctx, 202202)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if hs.Len() != 2 || hs.NewestLoad() != 202202 {
		t.Fatalf("unexpected store len=%d newest=%s", hs.Len(), hs.NewestLoad())
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRepositoryDumpFormat(t *testing.T) {
	store := archive.NewMemory()
	repo := New(store, archive.Layout{}, history.Options{})
	ctx := context.Background()
	if err := repo.Save(ctx, 202202, sampleStore(t)); err != nil {
		t.Fatalf("save: %v", err)
	}
	rc, err := archive.OpenReader(ctx, store, "history/202202.ndj.gz")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	want := `{"record_id":7,"most_recently_seen":202201,"entries":{"A":{"first_seen":202201,"last_seen":202201},"B":{"first_seen":202201,"last_seen":202201}}}` + "\n" +
		`{"record_id":9,"most_recently_seen":202202,"entries":{"A":{"first_seen":202202,"last_seen":202202},"C":{"first_seen":202201,"last_seen":202201}}}` + "\n"
	if string(b) != want {
		t.Fatalf("unexpected dump:\n%s\nwant:\n%s", b, want)
	}
}

func TestRepositoryWriteOnceAndMissing(t *testing.T) {
	repo := New(archive.NewMemory(), archive.Layout{}, history.Options{})
	ctx := context.Background()
	if _, err := repo.Load(ctx, 202201); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Save(ctx, 202201, sampleStore(t)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Save(ctx, 202201, sampleStore(t)); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestRepositoryPeriodsAndExists(t *testing.T) {
	store := archive.NewMemory()
	repo := New(store, archive.Layout{HistoryPrefix: "state/"}, history.Options{})
	ctx := context.Background()
	for _, p := range []history.Period{202203, 202112} {
		if err := repo.Save(ctx, p, sampleStore(t)); err != nil {
			t.Fatalf("save %s: %v", p, err)
		}
	}
	if _, err := store.Put(ctx, "state/notes.txt", strings.NewReader("x"), archive.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	periods, err := repo.Periods(ctx)
	if err != nil {
		t.Fatalf("periods: %v", err)
	}
	if len(periods) != 2 || periods[0] != 202112 || periods[1] != 202203 {
		t.Fatalf("unexpected periods %v", periods)
	}
	if ok, err := repo.Exists(ctx, 202112); err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
	if ok, err := repo.Exists(ctx, 202201); err != nil || ok {
		t.Fatalf("absent period reported: %v %v", ok, err)
	}
}

func TestRepositoryCorruptDump(t *testing.T) {
	store := archive.NewMemory()
	repo := New(store, archive.Layout{}, history.Options{})
	ctx := context.Background()
	_, err := archive.PutStream(ctx, store, "history/202201.ndj.gz", archive.PutOptions{}, func(w io.Writer) error {
		_, err := io.WriteString(w, "{\"record_id\":7,\"most_recently_seen\":202201,\"entries\":{}}\n{broken\n")
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.Load(ctx, 202201); err == nil {
		t.Fatalf("expected corrupt dump error")
	}
}
