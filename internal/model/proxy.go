// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound client request to be forwarded to the origin.
// Path is decoded; RawPath holds the original encoding when it differs, as in url.URL.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawPath       string
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	RemoteAddr    string
}

// OriginResponse is an origin response with its body fully buffered.
// Interception never mutates it; a rewrite produces a new value.
type OriginResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
