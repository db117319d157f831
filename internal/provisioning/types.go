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

// Package provisioning converges a Keycloak OIDC client and the group membership
// mapper bound to it. Both are gated by one toggle and applied in dependency order:
// the client first, the mapper second; teardown runs the other way around.
package provisioning

import (
	"fmt"
	"strings"
)

// AccessType is the Keycloak access type of a client.
type AccessType string

const (
	AccessTypeConfidential AccessType = "CONFIDENTIAL"
	AccessTypePublic       AccessType = "PUBLIC"
	AccessTypeBearerOnly   AccessType = "BEARER-ONLY"
)

// TokenTarget is a token surface a claim can be added to.
type TokenTarget string

const (
	TokenTargetIDToken     TokenTarget = "ID_TOKEN"
	TokenTargetAccessToken TokenTarget = "ACCESS_TOKEN"
	TokenTargetUserInfo    TokenTarget = "USERINFO"
)

// Phase is the point a reconciliation pass reached.
// Absent and Converged are the only stable phases between passes.
type Phase string

const (
	PhaseAbsent        Phase = "Absent"
	PhaseClientPending Phase = "ClientPending"
	PhaseClientReady   Phase = "ClientReady"
	PhaseMapperPending Phase = "MapperPending"
	PhaseConverged     Phase = "Converged"
	PhaseTeardown      Phase = "Teardown"
)

// Operation is what a converge step did to a remote resource.
type Operation string

const (
	OperationNone    Operation = "unchanged"
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
	OperationDeleted Operation = "deleted"
)

const (
	// ClientIDSuffix is appended to the declared name to form the client id.
	ClientIDSuffix = "-client"

	// OAuthCallbackPath is the last segment of the redirect URI.
	OAuthCallbackPath = "oauth_callback"

	// OIDCProtocol is the Keycloak protocol of clients and mappers.
	OIDCProtocol = "openid-connect"

	// DefaultLoginTheme is used when no login theme is declared.
	DefaultLoginTheme = "keycloak"

	// GroupMapperName is the name of the group membership mapper under the client.
	GroupMapperName = "group-membership-mapper"

	// GroupMapperType is the Keycloak protocol mapper implementation.
	GroupMapperType = "oidc-group-membership-mapper"

	// GroupClaimName is the claim the group memberships are published under.
	GroupClaimName = "groups"

	// OwnerAttribute is the client attribute recording which declaration owns the client.
	OwnerAttribute = "nebari.dev/owner"

	// LoginThemeAttribute is the client attribute Keycloak reads the login theme from.
	LoginThemeAttribute = "login_theme"
)

// Declaration is the caller-facing input for one client.
type Declaration struct {
	// Enabled is the oauth2client toggle.
	Enabled bool

	// Realm is the realm the client is registered in. It must already exist.
	Realm string

	// Name is the base of the client id ("<name>-client").
	Name string

	// Secret is forwarded to CONFIDENTIAL clients.
	Secret string

	// ExternalURL and URLSlug compose the redirect URI
	// https://<ExternalURL>/<URLSlug>/oauth_callback.
	ExternalURL string
	URLSlug     string

	// DisplayName defaults to the client id.
	DisplayName string

	// AccessType defaults to CONFIDENTIAL.
	AccessType AccessType

	// StandardFlowEnabled defaults to true.
	StandardFlowEnabled *bool

	// LoginTheme defaults to "keycloak".
	LoginTheme string

	// Owner identifies the lineage of the declaration. A client created under one
	// owner is never adopted or overwritten by another.
	Owner string
}

// ClientSpec is the desired state of the Keycloak client.
type ClientSpec struct {
	Enabled             bool
	Realm               string
	ClientID            string
	Secret              string
	DisplayName         string
	AccessType          AccessType
	StandardFlowEnabled bool
	RedirectURIs        []string
	LoginTheme          string
	Owner               string
}

// ClaimMapperSpec is the desired state of the group membership mapper.
type ClaimMapperSpec struct {
	// Enabled always equals the owning client's Enabled.
	Enabled      bool
	Name         string
	ClaimName    string
	TokenTargets []TokenTarget
	FullPath     bool
}

// ClientRef points at a materialized client. It is only valid for the apply cycle
// that produced it.
type ClientRef struct {
	Realm    string
	ClientID string
	UUID     string
}

func (r ClientRef) String() string {
	return fmt.Sprintf("%s/%s (%s)", r.Realm, r.ClientID, r.UUID)
}

// ClientID derives the client id from a declared name.
func ClientID(name string) string {
	return name + ClientIDSuffix
}

// RedirectURI composes the OAuth callback URI from the external host and url slug.
func RedirectURI(externalURL, urlSlug string) string {
	return fmt.Sprintf("https://%s/%s/%s",
		strings.TrimSuffix(externalURL, "/"), strings.Trim(urlSlug, "/"), OAuthCallbackPath)
}

// ClientSpec derives the desired client from the declaration, filling in defaults.
func (d Declaration) ClientSpec() ClientSpec {
	clientID := ClientID(d.Name)

	displayName := d.DisplayName
	if displayName == "" {
		displayName = clientID
	}

	accessType := d.AccessType
	if accessType == "" {
		accessType = AccessTypeConfidential
	}

	standardFlow := true
	if d.StandardFlowEnabled != nil {
		standardFlow = *d.StandardFlowEnabled
	}

	loginTheme := d.LoginTheme
	if loginTheme == "" {
		loginTheme = DefaultLoginTheme
	}

	spec := ClientSpec{
		Enabled:             d.Enabled,
		Realm:               d.Realm,
		ClientID:            clientID,
		DisplayName:         displayName,
		AccessType:          accessType,
		StandardFlowEnabled: standardFlow,
		LoginTheme:          loginTheme,
		Owner:               d.Owner,
	}
	if accessType == AccessTypeConfidential {
		spec.Secret = d.Secret
	}
	if d.Enabled {
		spec.RedirectURIs = []string{RedirectURI(d.ExternalURL, d.URLSlug)}
	}
	return spec
}

// GroupMapperSpec returns the group membership mapper bound to client.
// Groups are published to user info only, by leaf name.
func GroupMapperSpec(client ClientSpec) ClaimMapperSpec {
	return ClaimMapperSpec{
		Enabled:      client.Enabled,
		Name:         GroupMapperName,
		ClaimName:    GroupClaimName,
		TokenTargets: []TokenTarget{TokenTargetUserInfo},
		FullPath:     false,
	}
}

// Result reports what an apply cycle did.
type Result struct {
	// Phase is the phase reached. On failure it is the phase the chain stopped in.
	Phase Phase

	// Client is the materialized client, nil when absent.
	Client *ClientRef

	// MapperID is the internal id of the group mapper, empty when absent.
	MapperID string

	// Mutations counts the state-changing calls made against Keycloak.
	Mutations int
}
