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

// Package retry runs operations with exponential backoff, retrying only
// the failures a Classifier accepts.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirseerhq/testflight-relay/internal/apierror"
)

// Policy configures the retry behavior.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the computed wait. Zero means no cap.
	MaxBackoff time.Duration
	// Multiplier grows the backoff between attempts.
	Multiplier float64
	// Jitter spreads each wait by ±Jitter (0.1 is ±10%). Zero disables it.
	Jitter float64
	// MaxRetryAfter caps server-requested delays. Zero ignores them.
	MaxRetryAfter time.Duration
}

// DefaultPolicy returns the policy used for the App Store Connect client.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		MaxRetryAfter:  2 * time.Minute,
	}
}

// Backoff returns the wait before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(p.InitialBackoff) * math.Pow(multiplier, float64(attempt))

	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	if p.Jitter > 0 {
		backoff += backoff * p.Jitter * (2*rand.Float64() - 1)
	}

	return time.Duration(backoff)
}

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Transient classifies with inspector.IsRetryable.
func Transient(inspector apierror.Inspector) Classifier {
	return inspector.IsRetryable
}

// Notify is called before each wait.
type Notify func(attempt int, wait time.Duration, err error)

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retries are exhausted. fn receives the 0-based attempt number.
func Do(ctx context.Context, p Policy, retryable Classifier, fn func(ctx context.Context, attempt int) error, notify Notify) error {
	if retryable == nil {
		retryable = Transient(apierror.NewChainInspector(nil))
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == p.MaxRetries {
			break
		}

		wait := p.Backoff(attempt)
		if p.MaxRetryAfter > 0 {
			if after := apierror.RetryAfter(err); after > wait {
				wait = min(after, p.MaxRetryAfter)
			}
		}
		if notify != nil {
			notify(attempt+1, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed after %d retries: %w", p.MaxRetries, lastErr)
}
