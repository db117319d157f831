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

// Package keycloak wraps the subset of the Keycloak admin REST API used to
// provision OIDC clients and their protocol mappers.
package keycloak

import (
	"context"

	"github.com/Nerzal/gocloak/v13"
)

// API is the subset of gocloak used by the provisioner.
// Method signatures mirror *gocloak.GoCloak so the real client satisfies it directly.
type API interface {
	LoginAdmin(ctx context.Context, username, password, realm string) (*gocloak.JWT, error)
	GetRealm(ctx context.Context, token, realm string) (*gocloak.RealmRepresentation, error)

	GetClients(ctx context.Context, token, realm string, params gocloak.GetClientsParams) ([]*gocloak.Client, error)
	GetClient(ctx context.Context, token, realm, idOfClient string) (*gocloak.Client, error)
	GetClientSecret(ctx context.Context, token, realm, idOfClient string) (*gocloak.CredentialRepresentation, error)
	CreateClient(ctx context.Context, accessToken, realm string, newClient gocloak.Client) (string, error)
	UpdateClient(ctx context.Context, accessToken, realm string, updatedClient gocloak.Client) error
	DeleteClient(ctx context.Context, accessToken, realm, idOfClient string) error

	CreateClientProtocolMapper(ctx context.Context, token, realm, idOfClient string, mapper gocloak.ProtocolMapperRepresentation) (string, error)
	UpdateClientProtocolMapper(ctx context.Context, token, realm, idOfClient, mapperID string, mapper gocloak.ProtocolMapperRepresentation) error
	DeleteClientProtocolMapper(ctx context.Context, token, realm, idOfClient, mapperID string) error
}

var _ API = (*gocloak.GoCloak)(nil)

// NewAPI returns a gocloak client for the Keycloak server at url.
func NewAPI(url string) API {
	return gocloak.NewClient(url)
}
