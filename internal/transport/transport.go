// Copyright 2025 SirSeer, LLC
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://mariadb.com/bsl11
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport provides the http.RoundTripper layers shared by the
// GitHub, Linear and App Store Connect clients: header injection, retries
// on transient gateway errors, and response size limits.
package transport

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/apierror"
	"github.com/sirseerhq/testflight-relay/pkg/version"
)

// DefaultMaxResponseBytes caps response bodies read through LimitBody.
const DefaultMaxResponseBytes = 10 << 20

// NewPooled returns the base transport used by every client.
func NewPooled() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// Header sets a fixed header and the relay User-Agent on every request.
type Header struct {
	Name  string
	Value string
	Base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *Header) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.Name != "" {
		req.Header.Set(t.Name, t.Value)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	return base(t.Base).RoundTrip(req)
}

// Bearer returns a Header transport sending "Authorization: Bearer <token>".
func Bearer(token string, base http.RoundTripper) *Header {
	return &Header{Name: "Authorization", Value: "Bearer " + token, Base: base}
}

// Retry retries requests that fail with a gateway error or a transient
// network error, with exponential backoff.
type Retry struct {
	Base           http.RoundTripper
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewRetry wraps base with the default retry settings.
func NewRetry(base http.RoundTripper) *Retry {
	return &Retry{
		Base:           base,
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// RoundTrip implements http.RoundTripper with retry logic.
func (t *Retry) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	backoff := t.InitialBackoff
	inspector := apierror.NewInspector()
	maxAttempts := max(t.MaxAttempts, 1)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptReq := req.Clone(req.Context())
		if attempt > 0 && req.Body != nil {
			if req.GetBody == nil {
				return nil, lastErr
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attemptReq.Body = body
		}

		resp, err := base(t.Base).RoundTrip(attemptReq)

		if err == nil && !retryableStatus(req.Method, resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			// The server may have acted on a request whose response was lost.
			if !idempotent(req.Method) || !inspector.IsRetryable(err) {
				return nil, err
			}
			lastErr = apierror.WithRetryInfo(err, attempt+1, maxAttempts)
		} else {
			lastErr = apierror.WithRetryInfo(
				fmt.Errorf("received status %d", resp.StatusCode),
				attempt+1, maxAttempts)
			if attempt == maxAttempts-1 {
				return resp, nil
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(backoff):
				backoff *= 2
				if backoff > t.MaxBackoff {
					backoff = t.MaxBackoff
				}
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}
	}

	return nil, apierror.WithUserAction(lastErr,
		"Network connection failed. Please check your internet connection and try again")
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// retryableStatus reports whether a response status should be retried.
// Non-idempotent requests are only retried when the server refused them
// outright.
func retryableStatus(method string, code int) bool {
	if idempotent(method) {
		return code == http.StatusBadGateway ||
			code == http.StatusServiceUnavailable ||
			code == http.StatusGatewayTimeout
	}
	return code == http.StatusServiceUnavailable
}

// LimitBody caps how many response bytes a caller may read.
type LimitBody struct {
	Base  http.RoundTripper
	Limit int64
}

// RoundTrip implements http.RoundTripper
func (t *LimitBody) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := base(t.Base).RoundTrip(req)
	if err != nil {
		return nil, err
	}
	limit := t.Limit
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	resp.Body = &limitedReader{ReadCloser: resp.Body, limit: limit}
	return resp, nil
}

// limitedReader wraps a ReadCloser with a size limit to prevent excessive memory usage.
type limitedReader struct {
	io.ReadCloser
	limit int64
	read  int64
}

// Read implements io.Reader with size limit enforcement.
func (lr *limitedReader) Read(p []byte) (n int, err error) {
	if lr.read >= lr.limit {
		return 0, fmt.Errorf("response size exceeded limit of %d bytes", lr.limit)
	}

	remaining := lr.limit - lr.read
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err = lr.ReadCloser.Read(p)
	lr.read += int64(n)

	return n, err
}

// Chain builds the standard stack: pooled base, retries, size limit, then
// the given header.
func Chain(headerName, headerValue string) http.RoundTripper {
	return &Header{
		Name:  headerName,
		Value: headerValue,
		Base: &LimitBody{
			Base: NewRetry(NewPooled()),
		},
	}
}

func base(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}
