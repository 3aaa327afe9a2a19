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
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sirseerhq/testflight-relay/internal/config"
	relayerrors "github.com/sirseerhq/testflight-relay/internal/errors"
)

const (
	// audience is required by App Store Connect for API tokens.
	audience = "appstoreconnect-v1"
	// tokenLifetime must not exceed 20 minutes.
	tokenLifetime = 20 * time.Minute
	// tokenRefreshSkew renews a cached token before it expires.
	tokenRefreshSkew = time.Minute
)

// TokenSource mints and caches App Store Connect API tokens.
type TokenSource struct {
	issuerID string
	keyID    string
	key      *ecdsa.PrivateKey
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a TokenSource signing with key.
func NewTokenSource(issuerID, keyID string, key *ecdsa.PrivateKey) *TokenSource {
	return &TokenSource{issuerID: issuerID, keyID: keyID, key: key, now: time.Now}
}

// LoadPrivateKey reads the .p8 key inline from cfg.PrivateKey or from
// cfg.PrivateKeyPath.
func LoadPrivateKey(cfg config.AppStoreConnectConfig) (*ecdsa.PrivateKey, error) {
	data := []byte(cfg.PrivateKey)
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		if cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("%w: App Store Connect private key is not set", relayerrors.ErrInvalidToken)
		}
		var err error
		data, err = os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read App Store Connect private key: %v", relayerrors.ErrInvalidToken, err)
		}
	}

	// Keys passed through environment variables often carry literal "\n".
	data = []byte(strings.ReplaceAll(string(data), `\n`, "\n"))

	key, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid App Store Connect private key: %v", relayerrors.ErrInvalidToken, err)
	}
	return key, nil
}

// Token returns a signed token, reusing the cached one until shortly
// before it expires.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expires.Add(-tokenRefreshSkew)) {
		return s.token, nil
	}

	expires := now.Add(tokenLifetime)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": s.issuerID,
		"iat": now.Unix(),
		"exp": expires.Unix(),
		"aud": audience,
	})
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign App Store Connect token: %w", err)
	}

	s.token = signed
	s.expires = expires
	return signed, nil
}
