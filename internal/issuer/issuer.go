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

// Package issuer discovers the OIDC issuer of a Keycloak realm.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrNoUserInfoEndpoint is returned when the issuer does not advertise a userinfo
// endpoint, so the groups claim has nowhere to be published.
var ErrNoUserInfoEndpoint = errors.New("issuer does not advertise a userinfo endpoint")

// Metadata is the subset of the discovery document clients are handed.
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// RealmURL returns the issuer URL of realm on a Keycloak server.
// Example: RealmURL("https://keycloak.example.com/", "qhub") = "https://keycloak.example.com/realms/qhub"
func RealmURL(baseURL, realm string) string {
	return fmt.Sprintf("%s/realms/%s", strings.TrimSuffix(baseURL, "/"), realm)
}

// Prober runs OIDC discovery against realm issuers.
type Prober struct {
	// HTTPClient is used for discovery requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Probe fetches the discovery document at discoveryURL and checks that it publishes
// issuerURL and a userinfo endpoint. discoveryURL may differ from issuerURL when the
// operator reaches Keycloak through an in-cluster address while clients use the
// public one; an empty issuerURL means they are the same.
func (p *Prober) Probe(ctx context.Context, discoveryURL, issuerURL string) (*Metadata, error) {
	logger := log.FromContext(ctx).WithValues("discoveryURL", discoveryURL)

	if p.HTTPClient != nil {
		ctx = gooidc.ClientContext(ctx, p.HTTPClient)
	}
	if issuerURL != "" && issuerURL != discoveryURL {
		ctx = gooidc.InsecureIssuerURLContext(ctx, issuerURL)
	}

	provider, err := gooidc.NewProvider(ctx, discoveryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer: %w", err)
	}

	metadata := &Metadata{}
	if err := provider.Claims(metadata); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if metadata.UserInfoEndpoint == "" {
		return nil, ErrNoUserInfoEndpoint
	}

	logger.V(1).Info("Discovered issuer", "issuer", metadata.Issuer, "userinfo", metadata.UserInfoEndpoint)
	return metadata, nil
}
