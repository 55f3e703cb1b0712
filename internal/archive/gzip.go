package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// OpenReader returns a reader over the object at key, transparently decompressing
// keys ending in .gz. Closing the reader releases the underlying object.
func OpenReader(ctx context.Context, store Store, key string) (io.ReadCloser, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(key, ".gz") {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("gunzip %s: %w", key, err)
	}
	return &gzipReadCloser{Reader: zr, body: rc}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.ReadCloser
}

func (g *gzipReadCloser) Close() error {
	zerr := g.Reader.Close()
	if err := g.body.Close(); err != nil {
		return err
	}
	return zerr
}

// PutStream writes the output of fn to key, gzip compressing it when the key
// ends in .gz. Output is spooled to a temporary file first so the backend
// receives a seekable body of known length, and the object is only created
// if fn succeeds.
func PutStream(ctx context.Context, store Store, key string, opts PutOptions, fn func(w io.Writer) error) (Info, error) {
	compress := strings.HasSuffix(key, ".gz")
	if opts.ContentType == "" {
		opts.ContentType = "text/plain; charset=utf-8"
		if compress {
			opts.ContentType = "application/gzip"
		}
	}
	spool, err := os.CreateTemp("", "archive-put-*")
	if err != nil {
		return Info{}, fmt.Errorf("spool %s: %w", key, err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()
	bw := bufio.NewWriterSize(spool, 1<<20)
	var w io.Writer = bw
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(bw)
		w = zw
	}
	if err := fn(w); err != nil {
		return Info{}, err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return Info{}, fmt.Errorf("gzip %s: %w", key, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return Info{}, fmt.Errorf("spool %s: %w", key, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return Info{}, fmt.Errorf("spool %s: %w", key, err)
	}
	return store.Put(ctx, key, spool, opts)
}
