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

package config

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/constants"
	"github.com/nebari-dev/oauth2client-operator/internal/issuer"
	"github.com/nebari-dev/oauth2client-operator/internal/keycloak"
)

// KeycloakConfig holds Keycloak-specific configuration.
type KeycloakConfig struct {
	// URL is the internal cluster URL for Keycloak admin API
	// Example: http://keycloak.keycloak.svc.cluster.local:8080
	URL string

	// Realm is the Keycloak realm OAuth2Clients are registered in unless they name one
	Realm string

	// AdminSecretName is the name of the secret containing admin credentials
	// The secret should contain 'username' and 'password' keys
	AdminSecretName string

	// AdminSecretNamespace is the namespace where the admin secret is located
	AdminSecretNamespace string

	// AdminUsername is the admin username (if not using secret)
	AdminUsername string

	// AdminPassword is the admin password (if not using secret)
	AdminPassword string

	// AdminRealm is the realm the admin user authenticates against
	AdminRealm string

	// IssuerURL is the public base URL clients see Keycloak under. Issuers published
	// to applications are built from it. Defaults to URL.
	// Example: https://keycloak.example.com/auth
	IssuerURL string

	// VerifyIssuer enables OIDC discovery of the realm issuer after provisioning
	VerifyIssuer bool
}

// LoadKeycloakConfig loads Keycloak configuration from environment variables.
func LoadKeycloakConfig() KeycloakConfig {
	return KeycloakConfig{
		URL:                  getEnv("KEYCLOAK_URL", fmt.Sprintf("http://%s.%s.svc.cluster.local:%d%s", constants.DefaultKeycloakServiceName, constants.DefaultKeycloakNamespace, constants.DefaultKeycloakServicePort, constants.DefaultKeycloakContextPath)),
		Realm:                getEnv("KEYCLOAK_REALM", constants.DefaultKeycloakRealm),
		AdminSecretName:      getEnv("KEYCLOAK_ADMIN_SECRET_NAME", constants.DefaultAdminSecretName),
		AdminSecretNamespace: getEnv("KEYCLOAK_ADMIN_SECRET_NAMESPACE", constants.DefaultKeycloakNamespace),
		AdminUsername:        getEnv("KEYCLOAK_ADMIN_USERNAME", ""),
		AdminPassword:        getEnv("KEYCLOAK_ADMIN_PASSWORD", ""),
		AdminRealm:           getEnv("KEYCLOAK_ADMIN_REALM", keycloak.DefaultAdminRealm),
		IssuerURL:            getEnv("KEYCLOAK_ISSUER_URL", ""),
		VerifyIssuer:         getEnvBool("KEYCLOAK_VERIFY_ISSUER", false),
	}
}

// LoadKeycloakCredentials loads Keycloak admin credentials from a secret or environment variables.
// Priority: Secret > Environment Variables
func (c *KeycloakConfig) LoadKeycloakCredentials(ctx context.Context, k8sClient client.Client) error {
	if c.AdminSecretName != "" && c.AdminSecretNamespace != "" {
		secret := &corev1.Secret{}
		err := k8sClient.Get(ctx, types.NamespacedName{
			Name:      c.AdminSecretName,
			Namespace: c.AdminSecretNamespace,
		}, secret)

		if err != nil {
			// Fall back to environment credentials when they are complete
			if c.AdminUsername != "" && c.AdminPassword != "" {
				return nil
			}
			return fmt.Errorf("failed to get Keycloak admin secret %s/%s: %w", c.AdminSecretNamespace, c.AdminSecretName, err)
		}

		username, ok := firstKey(secret.Data, "username", "admin-username")
		if !ok {
			return fmt.Errorf("keycloak admin secret %s/%s missing 'username' or 'admin-username' key", c.AdminSecretNamespace, c.AdminSecretName)
		}
		password, ok := firstKey(secret.Data, "password", "admin-password")
		if !ok {
			return fmt.Errorf("keycloak admin secret %s/%s missing 'password' or 'admin-password' key", c.AdminSecretNamespace, c.AdminSecretName)
		}
		c.AdminUsername = username
		c.AdminPassword = password
	}

	if c.AdminUsername == "" || c.AdminPassword == "" {
		return fmt.Errorf("keycloak admin credentials not configured. Set KEYCLOAK_ADMIN_SECRET_NAME or KEYCLOAK_ADMIN_USERNAME/PASSWORD")
	}

	return nil
}

// Connector returns a Keycloak session source for the configured admin user.
func (c *KeycloakConfig) Connector() *keycloak.Connector {
	return &keycloak.Connector{
		URL:        c.URL,
		Username:   c.AdminUsername,
		Password:   c.AdminPassword,
		AdminRealm: c.AdminRealm,
	}
}

// RealmIssuerURL is the issuer applications are told to trust for realm.
func (c *KeycloakConfig) RealmIssuerURL(realm string) string {
	base := c.IssuerURL
	if base == "" {
		base = c.URL
	}
	return issuer.RealmURL(base, realm)
}

// RealmDiscoveryURL is where the operator itself fetches the discovery document of realm.
func (c *KeycloakConfig) RealmDiscoveryURL(realm string) string {
	return issuer.RealmURL(c.URL, realm)
}

func firstKey(data map[string][]byte, keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := data[key]; ok {
			return string(value), true
		}
	}
	return "", false
}
