package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"recordhistory/internal/history"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("expected fs default, got %s", fsStore.Driver())
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("open memory: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected error for s3 without bucket")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestLayoutKeys(t *testing.T) {
	var l Layout
	p := history.Period(202202)
	if got := l.History(p); got != "history/202202.ndj.gz" {
		t.Fatalf("history key %q", got)
	}
	if got := l.Redirects(p); got != "redirects/redirects_202202.txt" {
		t.Fatalf("redirects key %q", got)
	}
	if got := l.Moves(p); got != "moves/moves_202202.txt" {
		t.Fatalf("moves key %q", got)
	}
	if got := l.Missing(p); got != "moves/missing_202202.txt" {
		t.Fatalf("missing key %q", got)
	}
	if got := l.Snapshot("/data/hathi_full_20220201.txt.gz"); got != "snapshots/hathi_full_20220201.txt.gz" {
		t.Fatalf("snapshot key %q", got)
	}
	if got := l.Snapshot("snapshots/x.txt"); got != "snapshots/x.txt" {
		t.Fatalf("snapshot key %q", got)
	}
	if got := l.MonthlySnapshot(200812); got != "snapshots/hathi_full_20081201.txt.gz" {
		t.Fatalf("monthly snapshot key %q", got)
	}
	custom := Layout{HistoryPrefix: "state/"}
	if got := custom.History(p); got != "state/202202.ndj.gz" {
		t.Fatalf("custom history key %q", got)
	}
	if got := custom.Redirects(p); got != "redirects/redirects_202202.txt" {
		t.Fatalf("custom layout should default other prefixes, got %q", got)
	}
}

func TestLayoutHistoryPeriod(t *testing.T) {
	var l Layout
	if p, ok := l.HistoryPeriod("history/202112.ndj.gz"); !ok || p != 202112 {
		t.Fatalf("parse history key: %v %v", p, ok)
	}
	for _, key := range []string{"history/202113.ndj.gz", "history/x.ndj.gz", "redirects/redirects_202112.txt", "history/202112.txt"} {
		if _, ok := l.HistoryPeriod(key); ok {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
}

func TestPutStreamAndOpenReaderRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	info, err := PutStream(ctx, store, "history/202201.ndj.gz", PutOptions{}, func(w io.Writer) error {
		_, err := io.WriteString(w, "compressed payload\n")
		return err
	})
	if err != nil {
		t.Fatalf("put stream: %v", err)
	}
	if info.ContentType != "application/gzip" {
		t.Fatalf("unexpected content type %q", info.ContentType)
	}
	_, raw, err := store.Get(ctx, "history/202201.ndj.gz")
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	zr, err := gzip.NewReader(raw)
	if err != nil {
		t.Fatalf("stored object is not gzip: %v", err)
	}
	plain, _ := io.ReadAll(zr)
	_ = raw.Close()
	if string(plain) != "compressed payload\n" {
		t.Fatalf("unexpected gunzipped body %q", plain)
	}

	rc, err := OpenReader(ctx, store, "history/202201.ndj.gz")
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "compressed payload\n" {
		t.Fatalf("unexpected body %q", b)
	}
}

func TestPutStreamPlainText(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	info, err := PutStream(ctx, store, "redirects/redirects_202201.txt", PutOptions{}, func(w io.Writer) error {
		_, err := io.WriteString(w, "000000001\t000000002\n")
		return err
	})
	if err != nil {
		t.Fatalf("put stream: %v", err)
	}
	if !strings.HasPrefix(info.ContentType, "text/plain") {
		t.Fatalf("unexpected content type %q", info.ContentType)
	}
	rc, err := OpenReader(ctx, store, "redirects/redirects_202201.txt")
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "000000001\t000000002\n" {
		t.Fatalf("unexpected body %q", b)
	}
}

func TestPutStreamWriterErrorCreatesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	boom := errors.New("boom")
	if _, err := PutStream(ctx, store, "history/202201.ndj.gz", PutOptions{}, func(io.Writer) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected writer error, got %v", err)
	}
	if _, err := store.Head(ctx, "history/202201.ndj.gz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no object, got %v", err)
	}
}

func TestPutStreamRefusesExisting(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if _, err := store.Put(ctx, "redirects/redirects_202201.txt", bytes.NewReader(nil), PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := PutStream(ctx, store, "redirects/redirects_202201.txt", PutOptions{}, func(io.Writer) error { return nil })
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestOpenReaderErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if _, err := OpenReader(ctx, store, "missing.gz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "bad.gz", strings.NewReader("not gzip"), PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := OpenReader(ctx, store, "bad.gz"); err == nil {
		t.Fatalf("expected gunzip error")
	}
}
