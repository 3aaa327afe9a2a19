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

package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v61/github"

	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
)

// Inspector provides methods to classify errors from the upstream APIs.
type Inspector interface {
	// IsAuthError returns true if the error represents an authentication or authorization failure.
	IsAuthError(err error) bool

	// IsNotFoundError returns true if the error represents a resource not found error.
	IsNotFoundError(err error) bool

	// IsRateLimitError returns true if the error represents a rate limit error.
	IsRateLimitError(err error) bool

	// IsNetworkError returns true if the error represents a network connectivity error.
	IsNetworkError(err error) bool

	// IsServerError returns true if the upstream answered with a 5xx status.
	IsServerError(err error) bool

	// IsRetryable returns true if retrying the same call may succeed.
	IsRetryable(err error) bool
}

// StatusError is returned by the hand-written HTTP clients when the
// upstream answers with a non-2xx status.
type StatusError struct {
	Platform   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d %s", e.Platform, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Platform, e.StatusCode, e.Message)
}

func (e *StatusError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden && e.RetryAfter == 0
}

func (e *StatusError) IsNotFoundError() bool { return e.StatusCode == http.StatusNotFound }

func (e *StatusError) IsRateLimitError() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusForbidden && e.RetryAfter > 0
}

func (e *StatusError) IsServerError() bool { return e.StatusCode >= 500 }

// messageInspector implements Inspector by matching on error text.
type messageInspector struct{}

// NewInspector creates an Inspector that classifies errors by their message.
func NewInspector() Inspector {
	return &messageInspector{}
}

func (i *messageInspector) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "bad credentials") ||
		strings.Contains(errStr, "authentication")
}

func (i *messageInspector) IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "404") ||
		strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "entity not found")
}

func (i *messageInspector) IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "ratelimited") ||
		strings.Contains(errStr, "429")
}

func (i *messageInspector) IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "dial tcp") ||
		strings.Contains(errStr, "tls handshake") ||
		strings.Contains(errStr, "unexpected eof") ||
		strings.Contains(errStr, "network is unreachable")
}

func (i *messageInspector) IsServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable")
}

func (i *messageInspector) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limits are checked first: GitHub answers secondary limits with 403.
	if i.IsRateLimitError(err) {
		return true
	}
	if i.IsAuthError(err) || i.IsNotFoundError(err) {
		return false
	}
	return i.IsNetworkError(err) || i.IsServerError(err)
}

// chainInspector checks typed errors in the wrap chain before falling back
// to a base inspector.
type chainInspector struct {
	base Inspector
}

// NewChainInspector wraps base with typed-error detection.
func NewChainInspector(base Inspector) Inspector {
	if base == nil {
		base = NewInspector()
	}
	return &chainInspector{base: base}
}

// statusCode extracts an HTTP status from typed errors, or 0.
func statusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

func (e *chainInspector) IsAuthError(err error) bool {
	if errors.Is(err, relayerrors.ErrInvalidToken) {
		return true
	}
	var authErr interface{ IsAuthError() bool }
	if errors.As(err, &authErr) {
		return authErr.IsAuthError()
	}
	if e.IsRateLimitError(err) {
		return false
	}
	if code := statusCode(err); code != 0 {
		return code == http.StatusUnauthorized || code == http.StatusForbidden
	}
	return e.base.IsAuthError(err)
}

func (e *chainInspector) IsNotFoundError(err error) bool {
	if errors.Is(err, relayerrors.ErrNotFound) {
		return true
	}
	var notFoundErr interface{ IsNotFoundError() bool }
	if errors.As(err, &notFoundErr) {
		return notFoundErr.IsNotFoundError()
	}
	if code := statusCode(err); code != 0 {
		return code == http.StatusNotFound
	}
	return e.base.IsNotFoundError(err)
}

func (e *chainInspector) IsRateLimitError(err error) bool {
	if errors.Is(err, relayerrors.ErrRateLimit) {
		return true
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var rateLimitErr interface{ IsRateLimitError() bool }
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.IsRateLimitError()
	}
	if code := statusCode(err); code != 0 {
		return code == http.StatusTooManyRequests
	}
	return e.base.IsRateLimitError(err)
}

func (e *chainInspector) IsNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, relayerrors.ErrNetworkFailure) ||
		errors.Is(err, relayerrors.ErrSearchTimeout) {
		return true
	}
	var networkErr interface{ IsNetworkError() bool }
	if errors.As(err, &networkErr) && networkErr.IsNetworkError() {
		return true
	}
	return e.base.IsNetworkError(err)
}

func (e *chainInspector) IsServerError(err error) bool {
	if code := statusCode(err); code != 0 {
		return code >= 500
	}
	return e.base.IsServerError(err)
}

func (e *chainInspector) IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if e.IsRateLimitError(err) {
		return true
	}
	if e.IsAuthError(err) || e.IsNotFoundError(err) {
		return false
	}
	if code := statusCode(err); code != 0 {
		return code >= 500
	}
	return e.IsNetworkError(err) || e.base.IsServerError(err)
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return *abuseErr.RetryAfter
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		if wait := time.Until(rateErr.Rate.Reset.Time); wait > 0 {
			return wait
		}
	}
	return 0
}

// retryInfoError annotates an error with the attempt it failed on.
type retryInfoError struct {
	err         error
	attempt     int
	maxAttempts int
}

func (e *retryInfoError) Error() string {
	return fmt.Sprintf("%v (attempt %d/%d)", e.err, e.attempt, e.maxAttempts)
}

func (e *retryInfoError) Unwrap() error { return e.err }

// WithRetryInfo records which attempt produced err.
func WithRetryInfo(err error, attempt, maxAttempts int) error {
	if err == nil {
		return nil
	}
	return &retryInfoError{err: err, attempt: attempt, maxAttempts: maxAttempts}
}

// userActionError attaches a hint the CLI prints next to the error.
type userActionError struct {
	err    error
	action string
}

func (e *userActionError) Error() string {
	return fmt.Sprintf("%v. %s", e.err, e.action)
}

func (e *userActionError) Unwrap() error { return e.err }

// WithUserAction wraps err with a hint describing how to fix it.
func WithUserAction(err error, action string) error {
	if err == nil {
		return nil
	}
	return &userActionError{err: err, action: action}
}
