/*
Copyright 2026, OpenTeams.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package keycloak

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/golang-jwt/jwt/v5"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultAdminRealm is the realm admin users authenticate against.
const DefaultAdminRealm = "master"

// tokenExpirySkew renews the admin token slightly before Keycloak rejects it.
const tokenExpirySkew = 30 * time.Second

// Session is an authenticated handle on the admin API, valid for one apply cycle.
type Session struct {
	API   API
	Token string
}

// SessionSource hands out authenticated sessions.
type SessionSource interface {
	Session(ctx context.Context) (*Session, error)
}

// Connector logs into Keycloak as an admin and reuses the access token until it expires.
// It is safe for concurrent use.
type Connector struct {
	// URL is the base URL of the Keycloak server.
	// Example: http://keycloak.keycloak.svc.cluster.local:8080
	URL string

	// Username and Password of the admin user.
	Username string
	Password string

	// AdminRealm is the realm the admin user lives in. Defaults to "master".
	AdminRealm string

	// NewAPI builds the admin API client. Defaults to gocloak.
	NewAPI func(url string) API

	// Now is the clock used for token expiry. Defaults to time.Now.
	Now func() time.Time

	mu      sync.Mutex
	api     API
	token   string
	expires time.Time
}

// Session returns an authenticated session, logging in again only when the cached
// token is missing or about to expire.
func (c *Connector) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api == nil {
		newAPI := c.NewAPI
		if newAPI == nil {
			newAPI = NewAPI
		}
		c.api = newAPI(c.URL)
	}

	now := c.now()
	if c.token != "" && now.Add(tokenExpirySkew).Before(c.expires) {
		return &Session{API: c.api, Token: c.token}, nil
	}

	adminRealm := c.AdminRealm
	if adminRealm == "" {
		adminRealm = DefaultAdminRealm
	}

	token, err := c.api.LoginAdmin(ctx, c.Username, c.Password, adminRealm)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate to Keycloak: %w", err)
	}

	c.token = token.AccessToken
	c.expires = tokenExpiry(token, now)
	log.FromContext(ctx).V(1).Info("Authenticated to Keycloak", "url", c.URL, "expires", c.expires)

	return &Session{API: c.api, Token: c.token}, nil
}

// Invalidate drops the cached token so the next Session call logs in again.
func (c *Connector) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expires = time.Time{}
}

func (c *Connector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// tokenExpiry reads the exp claim of the access token. The signature is not checked:
// the token came straight from Keycloak and is only used to decide when to log in again.
// Falls back to expires_in when the token cannot be parsed.
func tokenExpiry(token *gocloak.JWT, now time.Time) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(time.Duration(token.ExpiresIn) * time.Second)
}
