package cache

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"

	syncerr "github.com/gatherly/syncstore/pkg/errors"
)

func errInvalidNamespace(namespace string) error {
	return syncerr.NewError(syncerr.ErrCodeInvalidConfig, "namespace must be non-empty and contain no ':'").
		WithComponent("cache").WithContext("namespace", namespace)
}

// compressPayload gzips a serialized payload for storage.
func compressPayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressPayload reverses compressPayload.
func decompressPayload(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
