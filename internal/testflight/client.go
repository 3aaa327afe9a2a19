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

package testflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sirseerhq/testflight-relay/internal/apierror"
	"github.com/sirseerhq/testflight-relay/internal/config"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
	"github.com/sirseerhq/testflight-relay/internal/retry"
	"github.com/sirseerhq/testflight-relay/internal/transport"
	"github.com/sirseerhq/testflight-relay/internal/window"
)

const (
	// DefaultPageSize is the largest page App Store Connect serves for
	// feedback submissions.
	DefaultPageSize = 200

	requestTimeout  = 30 * time.Second
	maxErrorBody    = 64 << 10
	platformName    = "App Store Connect"
	crashResource   = "betaFeedbackCrashSubmissions"
	screenResource  = "betaFeedbackScreenshotSubmissions"
	includeRelated  = "build,tester"
	sortNewestFirst = "-createdDate"
)

// Fetcher retrieves TestFlight feedback submitted inside a window.
type Fetcher interface {
	FetchFeedback(ctx context.Context, w window.Window) ([]*feedback.Record, error)
	CheckAccess(ctx context.Context) error
}

// Client talks to the App Store Connect API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	tokens     *TokenSource
	limiter    *rate.Limiter
	policy     retry.Policy
	inspector  apierror.Inspector
	pageSize   int
	logger     *slog.Logger

	mu       sync.Mutex
	versions map[string]string
	app      *appAttributes
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the retry policy applied to each request.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithPageSize sets the number of submissions requested per page.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= DefaultPageSize {
			c.pageSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTokenSource replaces the token source built from the configured key.
func WithTokenSource(ts *TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// NewClient creates an App Store Connect client from cfg.
func NewClient(cfg config.AppStoreConnectConfig, opts ...Option) (*Client, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("%w: TestFlight app id is required", relayerrors.ErrInvalidConfig)
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.appstoreconnect.apple.com"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	c := &Client{
		baseURL:   endpoint,
		appID:     cfg.AppID,
		limiter:   rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		policy:    retry.DefaultPolicy(),
		inspector: apierror.NewChainInspector(nil),
		pageSize:  DefaultPageSize,
		logger:    slog.Default(),
		versions:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokens == nil {
		key, err := LoadPrivateKey(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.IssuerID == "" || cfg.KeyID == "" {
			return nil, fmt.Errorf("%w: App Store Connect issuer id and key id are required", relayerrors.ErrInvalidToken)
		}
		c.tokens = NewTokenSource(cfg.IssuerID, cfg.KeyID, key)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   requestTimeout,
			Transport: &transport.Header{Base: &transport.LimitBody{Base: transport.NewPooled()}},
		}
	}
	return c, nil
}

// FetchFeedback returns the crash and screenshot submissions created in
// [w.StartTime, w.EndTime), oldest first.
func (c *Client) FetchFeedback(ctx context.Context, w window.Window) ([]*feedback.Record, error) {
	app, err := c.appInfo(ctx)
	if err != nil {
		c.logger.Warn("could not load app details", "app_id", c.appID, "error", err)
		app = &appAttributes{}
	}

	var crashes, screenshots []*feedback.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		crashes, err = c.fetchKind(gctx, crashResource, feedback.TypeCrash, w)
		return err
	})
	g.Go(func() error {
		var err error
		screenshots, err = c.fetchKind(gctx, screenResource, feedback.TypeScreenshot, w)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := append(crashes, screenshots...)
	for _, r := range records {
		r.AppName = app.Name
		if r.BundleID == "" {
			r.BundleID = app.BundleID
		}
	}
	slices.SortStableFunc(records, func(a, b *feedback.Record) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})

	c.logger.Info("fetched TestFlight feedback",
		"crashes", len(crashes), "screenshots", len(screenshots), "window", w.String())
	return records, nil
}

// fetchKind pages through one submission collection, newest first, and
// stops at the first submission older than the window.
func (c *Client) fetchKind(ctx context.Context, resource string, kind feedback.Type, w window.Window) ([]*feedback.Record, error) {
	q := url.Values{}
	q.Set("sort", sortNewestFirst)
	q.Set("include", includeRelated)
	q.Set("limit", strconv.Itoa(c.pageSize))
	next := fmt.Sprintf("%s/v1/apps/%s/%s?%s", c.baseURL, url.PathEscape(c.appID), resource, q.Encode())

	var records []*feedback.Record
	for page := 1; next != ""; page++ {
		var doc document
		if err := c.get(ctx, next, &doc); err != nil {
			return nil, c.mapError(err, "list "+resource)
		}

		included := indexIncluded(doc.Included)
		done := false
		for _, res := range doc.Data {
			var attrs submissionAttributes
			if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
				c.logger.Warn("skipping malformed submission", "id", res.ID, "error", err)
				continue
			}
			if attrs.CreatedDate.Before(w.StartTime) {
				done = true
				break
			}
			if !w.Contains(attrs.CreatedDate) {
				continue
			}
			records = append(records, c.toRecord(ctx, kind, res, attrs, included))
		}

		c.logger.Debug("fetched submission page", "resource", resource, "page", page, "items", len(doc.Data))
		if done {
			break
		}
		next = doc.Links.Next
	}
	return records, nil
}

func (c *Client) toRecord(ctx context.Context, kind feedback.Type, res resource, attrs submissionAttributes, included map[identifier]json.RawMessage) *feedback.Record {
	r := &feedback.Record{
		ID:          res.ID,
		Type:        kind,
		SubmittedAt: attrs.CreatedDate.UTC(),
		BundleID:    attrs.BuildBundleID,
		Device: feedback.DeviceInfo{
			Model:            attrs.DeviceModel,
			Family:           attrs.DeviceFamily,
			OSVersion:        attrs.OSVersion,
			Locale:           attrs.Locale,
			Architecture:     attrs.Architecture,
			ConnectionType:   attrs.ConnectionType,
			BatteryPercent:   attrs.BatteryPercentage,
			ScreenWidth:      attrs.ScreenWidthInPoints,
			ScreenHeight:     attrs.ScreenHeightInPoints,
			TimeZone:         attrs.TimeZone,
			DiskBytesFree:    attrs.DiskBytesAvailable,
			AppUptimeMillis:  attrs.AppUptimeInMilliseconds,
			PairedWatchModel: attrs.PairedAppleWatch,
		},
	}

	if buildID := res.related("build"); buildID != "" {
		var build buildAttributes
		if raw, ok := included[identifier{Type: "builds", ID: buildID}]; ok {
			_ = json.Unmarshal(raw, &build)
		}
		r.BuildNumber = build.Version
		r.AppVersion = c.marketingVersion(ctx, buildID)
	}

	tester := &feedback.Tester{Email: attrs.Email}
	if testerID := res.related("tester"); testerID != "" {
		if raw, ok := included[identifier{Type: "betaTesters", ID: testerID}]; ok {
			var t testerAttributes
			if err := json.Unmarshal(raw, &t); err == nil {
				tester.Name = strings.TrimSpace(t.FirstName + " " + t.LastName)
				if tester.Email == "" {
					tester.Email = t.Email
				}
			}
		}
	}
	if tester.Email != "" || tester.Name != "" {
		r.Tester = tester
	}

	switch kind {
	case feedback.TypeCrash:
		r.Crash = &feedback.CrashData{Comment: attrs.Comment}
		if log, err := c.crashLog(ctx, res.ID); err != nil {
			c.logger.Warn("could not fetch crash log", "id", res.ID, "error", err)
		} else if log != "" {
			r.Crash.CrashLog = log
			parseCrashLog(log, r.Crash)
		}
	case feedback.TypeScreenshot:
		r.Screenshot = &feedback.ScreenshotData{Comment: attrs.Comment}
		for _, s := range attrs.Screenshots {
			r.Screenshot.Images = append(r.Screenshot.Images, feedback.ScreenshotImage{
				URL:       s.URL,
				Width:     s.Width,
				Height:    s.Height,
				ExpiresAt: s.ExpirationDate,
			})
		}
	}
	return r
}

// marketingVersion resolves the pre-release version of a build, caching per
// build. Failures yield an empty version.
func (c *Client) marketingVersion(ctx context.Context, buildID string) string {
	c.mu.Lock()
	v, ok := c.versions[buildID]
	c.mu.Unlock()
	if ok {
		return v
	}

	var doc singleDocument
	endpoint := fmt.Sprintf("%s/v1/builds/%s/preReleaseVersion", c.baseURL, url.PathEscape(buildID))
	if err := c.get(ctx, endpoint, &doc); err != nil {
		c.logger.Warn("could not fetch build version", "build", buildID, "error", err)
		return ""
	}
	var attrs versionAttributes
	_ = json.Unmarshal(doc.Data.Attributes, &attrs)

	c.mu.Lock()
	c.versions[buildID] = attrs.Version
	c.mu.Unlock()
	return attrs.Version
}

func (c *Client) crashLog(ctx context.Context, submissionID string) (string, error) {
	var doc singleDocument
	endpoint := fmt.Sprintf("%s/v1/%s/%s/crashLog", c.baseURL, crashResource, url.PathEscape(submissionID))
	if err := c.get(ctx, endpoint, &doc); err != nil {
		if c.inspector.IsNotFoundError(err) {
			return "", nil
		}
		return "", err
	}
	var attrs crashLogAttributes
	if err := json.Unmarshal(doc.Data.Attributes, &attrs); err != nil {
		return "", fmt.Errorf("failed to decode crash log: %w", err)
	}
	return attrs.LogText, nil
}

func (c *Client) appInfo(ctx context.Context) (*appAttributes, error) {
	c.mu.Lock()
	app := c.app
	c.mu.Unlock()
	if app != nil {
		return app, nil
	}

	var doc singleDocument
	if err := c.get(ctx, fmt.Sprintf("%s/v1/apps/%s", c.baseURL, url.PathEscape(c.appID)), &doc); err != nil {
		return nil, c.mapError(err, "get app")
	}
	app = &appAttributes{}
	if err := json.Unmarshal(doc.Data.Attributes, app); err != nil {
		return nil, fmt.Errorf("failed to decode app: %w", err)
	}

	c.mu.Lock()
	c.app = app
	c.mu.Unlock()
	return app, nil
}

// CheckAccess verifies the credentials can read the configured app.
func (c *Client) CheckAccess(ctx context.Context) error {
	_, err := c.appInfo(ctx)
	return err
}

// get performs a paced, retried GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return retry.Do(ctx, c.policy, retry.Transient(c.inspector), func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("%w: %w", relayerrors.ErrInvalidToken, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", relayerrors.ErrNetworkFailure, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return statusError(resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		c.logger.Debug("retrying App Store Connect request", "attempt", attempt, "wait", wait, "error", err)
	})
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var doc errorDocument
	_ = json.Unmarshal(body, &doc)
	return &apierror.StatusError{
		Platform:   platformName,
		StatusCode: resp.StatusCode,
		Message:    doc.message(),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter accepts both the delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func (c *Client) mapError(err error, op string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case c.inspector.IsRateLimitError(err):
		return fmt.Errorf("App Store Connect rate limit exceeded during %s: %w: %w", op, relayerrors.ErrRateLimit, err)
	case c.inspector.IsAuthError(err):
		return fmt.Errorf("App Store Connect authentication failed. Check the issuer id, key id and private key: %w: %w", relayerrors.ErrInvalidToken, err)
	case c.inspector.IsNotFoundError(err):
		return fmt.Errorf("app '%s' not found in App Store Connect: %w: %w", c.appID, relayerrors.ErrNotFound, err)
	case c.inspector.IsNetworkError(err):
		return fmt.Errorf("network error connecting to App Store Connect: %w: %w", relayerrors.ErrNetworkFailure, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func indexIncluded(included []resource) map[identifier]json.RawMessage {
	index := make(map[identifier]json.RawMessage, len(included))
	for _, res := range included {
		index[identifier{Type: res.Type, ID: res.ID}] = res.Attributes
	}
	return index
}
