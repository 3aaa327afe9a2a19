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

// Package health probes the external systems the relay depends on and
// reports their status and latency.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirseerhq/testflight-relay/internal/state"
)

// DefaultTimeout bounds each probe.
const DefaultTimeout = 15 * time.Second

// Status is the result of one probe.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Accessor is implemented by the platform clients.
type Accessor interface {
	CheckAccess(ctx context.Context) error
}

// AccessProbe probes a platform client.
func AccessProbe(a Accessor) Probe {
	return a.CheckAccess
}

// StateProbe loads the state through backend. A corrupted state is
// reported as a failure even though a run would recover from it.
func StateProbe(backend state.Backend) Probe {
	return func(ctx context.Context) error {
		_, err := backend.Load(ctx)
		return err
	}
}

// Check is the outcome of one probe.
type Check struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Report aggregates every check, in registration order.
type Report struct {
	Checks  []Check `json:"checks"`
	Healthy bool    `json:"healthy"`
}

// Failed returns the names of failing checks.
func (r Report) Failed() []string {
	var names []string
	for _, c := range r.Checks {
		if c.Status != StatusOK {
			names = append(names, c.Name)
		}
	}
	return names
}

type namedProbe struct {
	name  string
	probe Probe
}

// Checker runs registered probes concurrently.
type Checker struct {
	probes  []namedProbe
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChecker creates an empty Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{timeout: DefaultTimeout, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add registers a probe under name.
func (c *Checker) Add(name string, p Probe) {
	c.probes = append(c.probes, namedProbe{name: name, probe: p})
}

// Run executes every probe and waits for all of them. A failing probe does
// not cancel the others.
func (c *Checker) Run(ctx context.Context) Report {
	checks := make([]Check, len(c.probes))

	var g errgroup.Group
	for i, p := range c.probes {
		g.Go(func() error {
			checks[i] = c.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Checks: checks, Healthy: true}
	for _, check := range checks {
		if check.Status != StatusOK {
			report.Healthy = false
		}
	}
	return report
}

func (c *Checker) run(ctx context.Context, p namedProbe) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	err := safeCall(ctx, p.probe)
	check := Check{Name: p.name, Status: StatusOK, Latency: c.now().Sub(start)}
	if err != nil {
		check.Status = StatusFailed
		check.Error = err.Error()
	}
	c.logger.Debug("health probe finished", "name", p.name, "status", check.Status, "latency", check.Latency)
	return check
}

// safeCall turns a panicking probe into an error.
func safeCall(ctx context.Context, p Probe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p(ctx)
}
