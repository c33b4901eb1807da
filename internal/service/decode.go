package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeBody returns body decoded according to a Content-Encoding header value.
// Stacked encodings are not supported. A positive limit caps the decoded size.
func decodeBody(body []byte, contentEncoding string, limit int64) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch enc {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		return readAll("gzip", zr, limit)
	case "deflate":
		// "deflate" is meant to be zlib-wrapped, but some servers send raw deflate.
		out, err := decodeZlib(body, limit)
		if err == nil || errors.Is(err, ErrResponseTooLarge) {
			return out, err
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer func() { _ = fr.Close() }()
		return readAll("deflate", fr, limit)
	case "br":
		return readAll("br", brotli.NewReader(bytes.NewReader(body)), limit)
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		return readAll("zstd", zr, limit)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

func decodeZlib(body []byte, limit int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	defer func() { _ = zr.Close() }()
	return readAll("deflate", zr, limit)
}

func readAll(name string, r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, fmt.Errorf("%s: %w", name, ErrResponseTooLarge)
	}
	return out, nil
}
