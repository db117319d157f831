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

package constants

// Keycloak defaults for the in-cluster deployment installed alongside the operator.
const (
	// DefaultKeycloakServiceName is the Kubernetes service fronting Keycloak
	DefaultKeycloakServiceName = "keycloak-keycloakx-http"

	// DefaultKeycloakNamespace is the namespace Keycloak is deployed in
	DefaultKeycloakNamespace = "keycloak"

	// DefaultKeycloakServicePort is the HTTP port of the Keycloak service
	DefaultKeycloakServicePort = 8080

	// DefaultKeycloakContextPath is the HTTP context path Keycloak is served under
	DefaultKeycloakContextPath = "/auth"

	// DefaultKeycloakRealm is the realm clients are registered in when none is declared
	DefaultKeycloakRealm = "nebari"

	// DefaultAdminSecretName holds the realm admin credentials
	DefaultAdminSecretName = "nebari-realm-admin-credentials"
)

// Resource naming suffixes
const (
	// CredentialsSecretSuffix is appended to OAuth2Client name for the published credentials secret
	CredentialsSecretSuffix = "oauth2-client"
)

// Secret keys
const (
	// ClientIDKey is the key name for the client id in the credentials secret
	ClientIDKey = "client-id"

	// ClientSecretKey is the key name for the client secret
	ClientSecretKey = "client-secret"

	// IssuerURLKey is the key name for the realm issuer URL in the credentials secret
	IssuerURLKey = "issuer-url"
)

// Finalizers
const (
	// OAuth2ClientFinalizer is the finalizer added to OAuth2Client resources
	OAuth2ClientFinalizer = "reconcilers.nebari.dev/oauth2client-finalizer"
)

// Owner lineages recorded on Keycloak clients
const (
	// OperatorOwnerPrefix prefixes the owner of clients provisioned by the operator
	OperatorOwnerPrefix = "oauth2client"

	// CLIOwnerPrefix prefixes the owner of clients provisioned by the provision CLI
	CLIOwnerPrefix = "provision"
)
