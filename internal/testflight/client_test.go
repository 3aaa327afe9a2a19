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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirseerhq/testflight-relay/internal/config"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
	"github.com/sirseerhq/testflight-relay/internal/feedback"
	"github.com/sirseerhq/testflight-relay/internal/retry"
	"github.com/sirseerhq/testflight-relay/internal/window"
)

func testKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenSource_SignsAndCaches(t *testing.T) {
	key, _ := testKey(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := NewTokenSource("issuer-1", "KEY123", key)
	ts.now = func() time.Time { return now }

	first, err := ts.Token()
	require.NoError(t, err)

	parsed, err := jwt.Parse(first, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }), jwt.WithAudience(audience))
	require.NoError(t, err)
	assert.Equal(t, "ES256", parsed.Method.Alg())
	assert.Equal(t, "KEY123", parsed.Header["kid"])

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "issuer-1", claims["iss"])
	iat, _ := claims.GetIssuedAt()
	exp, _ := claims.GetExpirationTime()
	assert.Equal(t, tokenLifetime, exp.Sub(iat.Time))

	now = now.Add(10 * time.Minute)
	second, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second, "token is reused while fresh")

	now = now.Add(9*time.Minute + 30*time.Second)
	third, err := ts.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, third, "token is renewed within a minute of expiry")
}

func TestLoadPrivateKey(t *testing.T) {
	_, pemKey := testKey(t)
	path := filepath.Join(t.TempDir(), "AuthKey.p8")
	require.NoError(t, os.WriteFile(path, []byte(pemKey), 0o600))

	tests := []struct {
		name    string
		cfg     config.AppStoreConnectConfig
		wantErr bool
	}{
		{"inline", config.AppStoreConnectConfig{PrivateKey: pemKey}, false},
		{"inline with escaped newlines", config.AppStoreConnectConfig{PrivateKey: strings.ReplaceAll(pemKey, "\n", `\n`)}, false},
		{"from path", config.AppStoreConnectConfig{PrivateKeyPath: path}, false},
		{"missing", config.AppStoreConnectConfig{}, true},
		{"unreadable path", config.AppStoreConnectConfig{PrivateKeyPath: filepath.Join(t.TempDir(), "nope.p8")}, true},
		{"garbage", config.AppStoreConnectConfig{PrivateKey: "not a key"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadPrivateKey(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, relayerrors.ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, key)
		})
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, pemKey := testKey(t)

	_, err := NewClient(config.AppStoreConnectConfig{IssuerID: "i", KeyID: "k", PrivateKey: pemKey})
	assert.ErrorIs(t, err, relayerrors.ErrInvalidConfig)

	_, err = NewClient(config.AppStoreConnectConfig{AppID: "1", PrivateKey: pemKey})
	assert.ErrorIs(t, err, relayerrors.ErrInvalidToken)

	c, err := NewClient(config.AppStoreConnectConfig{AppID: "1", IssuerID: "i", KeyID: "k", PrivateKey: pemKey, Endpoint: "https://example.test/"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test", c.baseURL)
}

// fakeASC serves a small App Store Connect fixture.
type fakeASC struct {
	versionCalls atomic.Int32
	crashPages   atomic.Int32
}

func (f *fakeASC) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/apps/app-1", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		fmt.Fprint(w, `{"data":{"type":"apps","id":"app-1","attributes":{"name":"Demo","bundleId":"com.example.demo"}}}`)
	})
	mux.HandleFunc("/v1/apps/app-1/betaFeedbackCrashSubmissions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-createdDate", r.URL.Query().Get("sort"))
		assert.Equal(t, "build,tester", r.URL.Query().Get("include"))
		f.crashPages.Add(1)
		if r.URL.Query().Get("cursor") == "" {
			next := "http://" + r.Host + r.URL.Path + "?cursor=2"
			fmt.Fprintf(w, `{
				"data":[
					{"type":"betaFeedbackCrashSubmissions","id":"crash-late","attributes":{"createdDate":"2025-06-01T12:00:00Z"},
					 "relationships":{"build":{"data":{"type":"builds","id":"b1"}}}},
					{"type":"betaFeedbackCrashSubmissions","id":"crash-1","attributes":{"createdDate":"2025-06-01T10:30:00Z","comment":"it died","deviceModel":"iPhone15,2","osVersion":"17.5","batteryPercentage":80},
					 "relationships":{"build":{"data":{"type":"builds","id":"b1"}},"tester":{"data":{"type":"betaTesters","id":"t1"}}}}
				],
				"included":[
					{"type":"builds","id":"b1","attributes":{"version":"42"}},
					{"type":"betaTesters","id":"t1","attributes":{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com"}}
				],
				"links":{"next":%q}}`, next)
			return
		}
		fmt.Fprint(w, `{
			"data":[
				{"type":"betaFeedbackCrashSubmissions","id":"crash-2","attributes":{"createdDate":"2025-06-01T10:05:00Z"},
				 "relationships":{"build":{"data":{"type":"builds","id":"b1"}}}},
				{"type":"betaFeedbackCrashSubmissions","id":"crash-old","attributes":{"createdDate":"2025-06-01T09:00:00Z"}}
			],
			"links":{"next":"http://unreachable.invalid/never"}}`)
	})
	mux.HandleFunc("/v1/apps/app-1/betaFeedbackScreenshotSubmissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"data":[
				{"type":"betaFeedbackScreenshotSubmissions","id":"shot-1","attributes":{"createdDate":"2025-06-01T10:15:00Z","comment":"button overlaps","email":"bob@example.com",
				 "screenshots":[{"url":"https://cdn.example/1.png","width":1170,"height":2532,"expirationDate":"2025-06-02T10:15:00Z"}]}}
			],
			"links":{}}`)
	})
	mux.HandleFunc("/v1/builds/b1/preReleaseVersion", func(w http.ResponseWriter, r *http.Request) {
		f.versionCalls.Add(1)
		fmt.Fprint(w, `{"data":{"type":"preReleaseVersions","id":"v1","attributes":{"version":"1.4.0"}}}`)
	})
	mux.HandleFunc("/v1/betaFeedbackCrashSubmissions/crash-1/crashLog", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"type":"betaCrashLogs","id":"log-1","attributes":{"logText":"Exception Type:  EXC_CRASH (SIGABRT)\nException Reason: index out of range\n\nThread 0 Crashed:\n0   Demo  0x1 main + 12\n1   UIKit 0x2 run + 4\n"}}}`)
	})
	mux.HandleFunc("/v1/betaFeedbackCrashSubmissions/crash-2/crashLog", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":[{"status":"404","title":"not found"}]}`)
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	key, _ := testKey(t)
	opts = append([]Option{
		WithTokenSource(NewTokenSource("issuer", "kid", key)),
		WithHTTPClient(srv.Client()),
		WithLogger(quietLogger()),
		WithRetryPolicy(retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}),
	}, opts...)
	c, err := NewClient(config.AppStoreConnectConfig{AppID: "app-1", Endpoint: srv.URL, RequestsPerSecond: 1000}, opts...)
	require.NoError(t, err)
	return c
}

func TestFetchFeedback(t *testing.T) {
	fake := &fakeASC{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	w := window.Window{
		StartTime: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}

	records, err := c.FetchFeedback(context.Background(), w)
	require.NoError(t, err)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"crash-2", "shot-1", "crash-1"}, ids, "oldest first, window bounds applied")
	assert.Equal(t, int32(2), fake.crashPages.Load(), "paging stops before the window start")
	assert.Equal(t, int32(1), fake.versionCalls.Load(), "build versions are cached")

	crash := records[2]
	assert.Equal(t, feedback.TypeCrash, crash.Type)
	assert.Equal(t, "1.4.0", crash.AppVersion)
	assert.Equal(t, "42", crash.BuildNumber)
	assert.Equal(t, "Demo", crash.AppName)
	assert.Equal(t, "com.example.demo", crash.BundleID)
	assert.Equal(t, "iPhone15,2", crash.Device.Model)
	assert.Equal(t, 80, crash.Device.BatteryPercent)
	require.NotNil(t, crash.Tester)
	assert.Equal(t, "Ada Lovelace", crash.Tester.Name)
	require.NotNil(t, crash.Crash)
	assert.Equal(t, "it died", crash.Crash.Comment)
	assert.Equal(t, "EXC_CRASH (SIGABRT)", crash.Crash.ExceptionType)
	assert.Equal(t, "index out of range", crash.Crash.ExceptionMessage)
	assert.Len(t, crash.Crash.TopFrames, 2)

	assert.Empty(t, records[0].Crash.CrashLog, "missing crash log is tolerated")

	shot := records[1]
	require.NotNil(t, shot.Screenshot)
	assert.Equal(t, "button overlaps", shot.Screenshot.Comment)
	require.Len(t, shot.Screenshot.Images, 1)
	assert.Equal(t, 1170, shot.Screenshot.Images[0].Width)
	assert.Equal(t, "bob@example.com", shot.Tester.Email)
}

func TestFetchFeedback_AuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":[{"status":"401","code":"NOT_AUTHORIZED","detail":"Provide a properly configured and signed bearer token"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.CheckAccess(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, relayerrors.ErrInvalidToken)
	assert.Contains(t, err.Error(), "signed bearer token")
	assert.Equal(t, int32(1), calls.Load(), "auth failures are not retried")
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":{"type":"apps","id":"app-1","attributes":{"name":"Demo"}}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.CheckAccess(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_RateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.CheckAccess(context.Background())
	assert.ErrorIs(t, err, relayerrors.ErrRateLimit)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5", now))
	assert.Equal(t, time.Minute, parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}

func TestParseCrashLog(t *testing.T) {
	log := strings.Join([]string{
		"Incident Identifier: 1234",
		"Exception Type:  EXC_BAD_ACCESS (SIGSEGV)",
		"Termination Reason: Namespace SIGNAL, Code 11",
		"",
		"Thread 0:",
		"0   libsystem 0x1 idle",
		"",
		"Thread 3 name:  worker Crashed:",
		"0   Demo     0x10   -[Cache get:] + 40",
		"1   Demo     0x20   -[Feed load] + 12",
		"2   Demo     0x30   main + 8",
		"3   dyld     0x40   start + 1",
		"4   dyld     0x50   start + 2",
		"5   dyld     0x60   start + 3",
		"",
		"Thread 4:",
	}, "\n")

	var c feedback.CrashData
	parseCrashLog(log, &c)

	assert.Equal(t, "EXC_BAD_ACCESS (SIGSEGV)", c.ExceptionType)
	assert.Equal(t, "Namespace SIGNAL, Code 11", c.ExceptionMessage)
	require.Len(t, c.TopFrames, maxTopFrames)
	assert.Equal(t, "0 Demo 0x10 -[Cache get:] + 40", c.TopFrames[0])
}
