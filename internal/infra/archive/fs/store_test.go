package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recordhistory/internal/archive/core"
)

func TestStorePutGetHeadDelete(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %v", store.Driver())
	}
	if store.Root() != root {
		t.Fatalf("unexpected root %s", store.Root())
	}
	ctx := context.Background()
	info, err := store.Put(ctx, "redirects/redirects_202202.txt", bytes.NewBufferString("data"), core.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"period": "202202"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "redirects/redirects_202202.txt" || info.Size != 4 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	// file physically exists
	if _, statErr := os.Stat(filepath.Join(root, "redirects", "redirects_202202.txt")); statErr != nil {
		t.Fatalf("expected file on disk: %v", statErr)
	}
	got, rc, err := store.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "data" {
		t.Fatalf("unexpected payload %s", string(b))
	}
	if got.ContentType != "text/plain" || got.Metadata["period"] != "202202" {
		t.Fatalf("metadata not preserved: %+v", got)
	}
	head, err := store.Head(ctx, info.Key)
	if err != nil || head.ETag != info.ETag {
		t.Fatalf("head: %v %+v", err, head)
	}
	deleted, err := store.Delete(ctx, info.Key)
	if err != nil || !deleted {
		t.Fatalf("expected delete success, err=%v deleted=%v", err, deleted)
	}
	deleted, err = store.Delete(ctx, info.Key)
	if err != nil || deleted {
		t.Fatalf("expected delete false for missing, err=%v deleted=%v", err, deleted)
	}
}

func TestStorePutRefusesOverwrite(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "history/202201.ndj.gz", strings.NewReader("first"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "history/202201.ndj.gz", strings.NewReader("second"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "history/202201.ndj.gz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "first" {
		t.Fatalf("object was overwritten: %q", b)
	}
}

func TestStoreMissingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
}

func TestStoreListSortedByPrefix(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	for _, k := range []string{"history/202203.ndj.gz", "history/202201.ndj.gz", "redirects/redirects_202201.txt"} {
		if _, err := store.Put(ctx, k, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "history/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "history/202201.ndj.gz" || list[1].Key != "history/202203.ndj.gz" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v %+v", err, all)
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		key string
		ok  bool
	}{
		{"history/202201.ndj.gz", true},
		{"", false},
		{"   ", false},
		{"../escape", false},
		{"/abs/path", false},
		{"x.meta", false},
	}
	for _, tc := range cases {
		_, err := sanitizeKey(tc.key)
		if (err == nil) != tc.ok {
			t.Fatalf("sanitizeKey(%q) err=%v, want ok=%v", tc.key, err, tc.ok)
		}
	}
}

func TestCloneMDAndReadMetaErrors(t *testing.T) {
	if cloneMD(nil) != nil {
		t.Fatalf("expected nil clone for nil input")
	}
	original := map[string]string{"k": "v"}
	cloned := cloneMD(original)
	cloned["k"] = "mutated"
	if original["k"] != "v" {
		t.Fatalf("expected original to remain unchanged")
	}
	path := filepath.Join(t.TempDir(), "meta.json")
	if err := os.WriteFile(path, []byte("not-json"), 0o600); err != nil {
		t.Fatalf("write invalid meta: %v", err)
	}
	if _, err := readMeta(path); err == nil {
		t.Fatalf("expected readMeta error for invalid json")
	}
}

func TestPutCancelledContextLeavesNoObject(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "k.txt", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := store.Head(context.Background(), "k.txt"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected no object after cancelled put, got %v", err)
	}
}
