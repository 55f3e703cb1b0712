package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"

	"recordhistory/internal/archive/core"
)

// mockRoundTripper provides a tiny fake S3 subset sufficient to exercise the adapter without network access.
type mockRoundTripper struct {
	mu    sync.Mutex
	state map[string]stored
}

type stored struct {
	body        []byte
	contentType string
}

func emptyResponse(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		return m.list(req), nil
	}
	switch req.Method {
	case http.MethodHead:
		if st, ok := m.state[key]; ok {
			return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{
				"Content-Length": {strconv.Itoa(len(st.body))},
				"Content-Type":   {st.contentType},
				"Etag":           {"\"etag123\""},
				"Last-Modified":  {time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
			}}, nil
		}
		return emptyResponse(404), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if _, exists := m.state[key]; exists && req.Header.Get("If-None-Match") == "*" {
			return emptyResponse(412), nil
		}
		if isChunked(req) {
			if dec, ok := decodeChunked(body); ok {
				body = dec
			}
		}
		m.state[key] = stored{body: body, contentType: req.Header.Get("Content-Type")}
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"Etag": {"\"etag\""}}}, nil
	case http.MethodGet:
		if st, ok := m.state[key]; ok {
			return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(st.body)), Header: http.Header{
				"Content-Length": {strconv.Itoa(len(st.body))},
				"Content-Type":   {st.contentType},
				"Last-Modified":  {time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
				"Etag":           {"\"etag\""},
			}}, nil
		}
		return emptyResponse(404), nil
	case http.MethodDelete:
		delete(m.state, key)
		return emptyResponse(204), nil
	}
	return emptyResponse(501), nil
}

func (m *mockRoundTripper) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	cont := req.URL.Query().Get("continuation-token")
	var keys []string
	for k := range m.state {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	page := keys
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><ListBucketResult>")
	switch {
	case cont == "" && len(keys) > 1:
		page = keys[:1]
		b.WriteString("<IsTruncated>true</IsTruncated><NextContinuationToken>tok123</NextContinuationToken>")
	case cont != "" && len(keys) > 1:
		page = keys[1:]
		b.WriteString("<IsTruncated>false</IsTruncated>")
	default:
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range page {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(m.state[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(b.String())), Header: http.Header{"Content-Type": {"application/xml"}}}
}

func isChunked(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") ||
		req.Header.Get("X-Amz-Decoded-Content-Length") != ""
}

// decodeChunked strips aws-chunked framing: hex sizes (optionally followed by
// a ;chunk-signature extension) each preceding that many bytes, terminated by
// a zero-size chunk and optional trailers.
func decodeChunked(b []byte) ([]byte, bool) {
	var out []byte
	for {
		nl := bytes.Index(b, []byte("\r\n"))
		if nl < 0 {
			return nil, false
		}
		header := string(b[:nl])
		if i := strings.IndexByte(header, ';'); i >= 0 {
			header = header[:i]
		}
		n, err := strconv.ParseInt(strings.TrimSpace(header), 16, 64)
		if err != nil || n < 0 {
			return nil, false
		}
		b = b[nl+2:]
		if n == 0 {
			return out, true
		}
		if int64(len(b)) < n+2 || string(b[n:n+2]) != "\r\n" {
			return nil, false
		}
		out = append(out, b[:n]...)
		b = b[n+2:]
	}
}

func newMockStore(t *testing.T) (*Store, *mockRoundTripper) {
	t.Helper()
	rt := &mockRoundTripper{state: make(map[string]stored)}
	store, err := New(context.Background(), Config{
		Bucket:          "mock-bucket",
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return store, rt
}

func TestStore_MockedBasicFlow(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()
	info, err := store.Put(ctx, "redirects/redirects_202202.txt", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "redirects/redirects_202202.txt" || info.ContentType != "text/plain" || info.Size < 5 {
		t.Fatalf("unexpected info %#v", info)
	}
	if _, err := store.Put(ctx, "redirects/redirects_202202.txt", bytes.NewReader([]byte("ignored")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := store.Head(ctx, "redirects/redirects_202202.txt"); err != nil {
		t.Fatalf("head: %v", err)
	}
	_, rc, err := store.Get(ctx, "redirects/redirects_202202.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("get mismatch: %q", string(data))
	}
	list, err := store.List(ctx, "redirects/")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	if ok, err := store.Delete(ctx, "redirects/redirects_202202.txt"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "redirects/redirects_202202.txt"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if store.Driver() != core.DriverS3 {
		t.Fatalf("expected DriverS3")
	}
}

func TestStore_ErrorPaths(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := New(ctx, Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestStore_ListPaginatesAndTrimsPrefix(t *testing.T) {
	rt := &mockRoundTripper{state: make(map[string]stored)}
	store, err := New(context.Background(), Config{
		Bucket:          "mock-bucket",
		Prefix:          "hathi/",
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for _, k := range []string{"history/202202.ndj.gz", "history/202201.ndj.gz"} {
		if _, err := store.Put(ctx, k, bytes.NewReader([]byte("body")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	if _, ok := rt.state["hathi/history/202201.ndj.gz"]; !ok {
		t.Fatalf("expected object under configured prefix, have %v", rt.state)
	}
	list, err := store.List(ctx, "history/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "history/202201.ndj.gz" || list[1].Key != "history/202202.ndj.gz" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list, err := store.List(ctx, "no-such-prefix/"); err != nil || len(list) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, list)
	}
}

func TestStore_FromHeadNilBranches(t *testing.T) {
	info := fromHead("k", 10, nil, aws.String("\"etagval\""), map[string]string{"x": "y"}, nil)
	if info.ETag != "etagval" || info.ContentType != "" || info.Key != "k" || info.Size != 10 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.LastModified.IsZero() {
		t.Fatalf("expected last modified default")
	}
}

func TestDecodeChunkedHelper(t *testing.T) {
	if _, ok := decodeChunked([]byte("not-chunked")); ok {
		t.Fatalf("expected fail 1")
	}
	if _, ok := decodeChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("size mismatch should fail")
	}
	if b, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\n")); !ok || string(b) != "hello" {
		t.Fatalf("expected decode hello")
	}
	framed := "3;chunk-signature=abc\r\nfoo\r\n3\r\nbar\r\n0\r\nx-amz-checksum-crc32:AAAAAA==\r\n\r\n"
	if b, ok := decodeChunked([]byte(framed)); !ok || string(b) != "foobar" {
		t.Fatalf("expected decode foobar, got %q %v", b, ok)
	}
}
