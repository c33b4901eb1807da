package service

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const decodeSample = `<html><head><meta property="og:url" content=""></head></html>`

func encode(t *testing.T, enc string, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w interface {
		Write([]byte) (int, error)
		Close() error
	}
	switch enc {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "zlib":
		w = zlib.NewWriter(&buf)
	case "flate":
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			t.Fatal(err)
		}
		w = fw
	case "br":
		w = brotli.NewWriter(&buf)
	case "zstd":
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		w = zw
	default:
		t.Fatalf("unknown encoder %q", enc)
	}
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		body     []byte
		wantBody string
	}{
		{"none", "", []byte(decodeSample), decodeSample},
		{"identity", "identity", []byte(decodeSample), decodeSample},
		{"gzip", "gzip", encode(t, "gzip", decodeSample), decodeSample},
		{"x-gzip", "x-gzip", encode(t, "gzip", decodeSample), decodeSample},
		{"gzip uppercase", " GZIP ", encode(t, "gzip", decodeSample), decodeSample},
		{"deflate zlib", "deflate", encode(t, "zlib", decodeSample), decodeSample},
		{"deflate raw", "deflate", encode(t, "flate", decodeSample), decodeSample},
		{"brotli", "br", encode(t, "br", decodeSample), decodeSample},
		{"zstd", "zstd", encode(t, "zstd", decodeSample), decodeSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBody(tt.body, tt.header, 0)
			if err != nil {
				t.Fatalf("decodeBody() error = %v", err)
			}
			if string(got) != tt.wantBody {
				t.Errorf("decodeBody() = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestDecodeBody_Errors(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   []byte
	}{
		{"unsupported", "compress", []byte(decodeSample)},
		{"stacked", "gzip, br", encode(t, "gzip", decodeSample)},
		{"corrupt gzip", "gzip", []byte("not gzip at all")},
		{"corrupt zstd", "zstd", []byte("not zstd at all")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeBody(tt.body, tt.header, 0); err == nil {
				t.Errorf("decodeBody(%q) expected error, got nil", tt.header)
			}
		})
	}
}

func TestDecodeBody_Limit(t *testing.T) {
	big := strings.Repeat("a", 4096)

	_, err := decodeBody(encode(t, "gzip", big), "gzip", 1024)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Errorf("decodeBody() error = %v, want ErrResponseTooLarge", err)
	}

	got, err := decodeBody(encode(t, "gzip", big), "gzip", 4096)
	if err != nil || len(got) != 4096 {
		t.Errorf("decodeBody() at limit = (%d bytes, %v), want (4096, nil)", len(got), err)
	}
}
