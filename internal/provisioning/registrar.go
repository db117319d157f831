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

package provisioning

import (
	"context"
	"fmt"
	"slices"

	"github.com/Nerzal/gocloak/v13"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/nebari-dev/oauth2client-operator/internal/keycloak"
	"github.com/nebari-dev/oauth2client-operator/internal/metrics"
)

const resourceClient = "client"

// Registrar converges the Keycloak client of a declaration.
type Registrar struct {
	Session *keycloak.Session
}

// Converge creates or updates the client so it matches spec and returns a reference
// to it. A disabled spec is a valid terminal state: nothing is done and the
// reference is nil.
func (r *Registrar) Converge(ctx context.Context, spec ClientSpec) (*ClientRef, Operation, error) {
	logger := log.FromContext(ctx).WithValues("realm", spec.Realm, "clientID", spec.ClientID)

	if !spec.Enabled {
		logger.V(1).Info("Client disabled, skipping")
		return nil, OperationNone, nil
	}

	if err := r.ensureRealm(ctx, spec.Realm); err != nil {
		return nil, OperationNone, err
	}

	existing, err := r.findClient(ctx, spec.Realm, spec.ClientID)
	if err != nil {
		return nil, OperationNone, err
	}

	if existing == nil {
		ref, err := r.createClient(ctx, spec)
		if err == nil {
			logger.Info("Created client", "uuid", ref.UUID)
			return ref, OperationCreated, nil
		}
		if !keycloak.IsConflict(err) {
			return nil, OperationNone, err
		}

		// Another pass created it between our lookup and create; re-evaluate against it.
		logger.V(1).Info("Client created concurrently, re-reading")
		existing, err = r.findClient(ctx, spec.Realm, spec.ClientID)
		if err != nil {
			return nil, OperationNone, err
		}
		if existing == nil {
			return nil, OperationNone, remoteFailure(resourceClient,
				fmt.Sprintf("client %s reported as existing but not found", spec.ClientID), nil)
		}
	}

	ref := &ClientRef{Realm: spec.Realm, ClientID: spec.ClientID, UUID: gocloak.PString(existing.ID)}

	if owner := ownerOf(existing); owner != spec.Owner {
		return nil, OperationNone, remoteConflict(resourceClient,
			fmt.Sprintf("client %s in realm %s is owned by %q, not %q", spec.ClientID, spec.Realm, owner, spec.Owner))
	}

	currentSecret, err := r.currentSecret(ctx, spec, existing)
	if err != nil {
		return nil, OperationNone, err
	}

	if clientMatches(existing, spec, currentSecret) {
		logger.V(1).Info("Client up to date", "uuid", ref.UUID)
		return ref, OperationNone, nil
	}

	applyClientSpec(existing, spec)
	if err := r.Session.API.UpdateClient(ctx, r.Session.Token, spec.Realm, *existing); err != nil {
		return nil, OperationNone, remoteFailure(resourceClient, "failed to update client", err)
	}
	metrics.RecordMutation(resourceClient, string(OperationUpdated))
	logger.Info("Updated client", "uuid", ref.UUID)

	return ref, OperationUpdated, nil
}

// Resolve looks up the client of spec without changing anything. It returns nil when
// the client does not exist or belongs to another owner.
func (r *Registrar) Resolve(ctx context.Context, spec ClientSpec) (*ClientRef, error) {
	existing, err := r.findClient(ctx, spec.Realm, spec.ClientID)
	if err != nil {
		return nil, err
	}
	if existing == nil || ownerOf(existing) != spec.Owner {
		return nil, nil
	}
	return &ClientRef{Realm: spec.Realm, ClientID: spec.ClientID, UUID: gocloak.PString(existing.ID)}, nil
}

// Teardown deletes the client referenced by ref. A client that is already gone is fine.
func (r *Registrar) Teardown(ctx context.Context, ref *ClientRef) (Operation, error) {
	if ref == nil {
		return OperationNone, nil
	}
	err := r.Session.API.DeleteClient(ctx, r.Session.Token, ref.Realm, ref.UUID)
	if keycloak.IsNotFound(err) {
		return OperationNone, nil
	}
	if err != nil {
		return OperationNone, remoteFailure(resourceClient, "failed to delete client", err)
	}
	metrics.RecordMutation(resourceClient, string(OperationDeleted))
	log.FromContext(ctx).Info("Deleted client", "realm", ref.Realm, "clientID", ref.ClientID, "uuid", ref.UUID)
	return OperationDeleted, nil
}

func (r *Registrar) ensureRealm(ctx context.Context, realm string) error {
	_, err := r.Session.API.GetRealm(ctx, r.Session.Token, realm)
	if keycloak.IsNotFound(err) {
		return dependencyUnresolved("realm", fmt.Sprintf("realm %s does not exist", realm), err)
	}
	if err != nil {
		return remoteFailure("realm", "failed to get realm", err)
	}
	return nil
}

// findClient looks up a client by client id, returns nil if not found.
func (r *Registrar) findClient(ctx context.Context, realm, clientID string) (*gocloak.Client, error) {
	clients, err := r.Session.API.GetClients(ctx, r.Session.Token, realm, gocloak.GetClientsParams{
		ClientID: &clientID,
	})
	if keycloak.IsNotFound(err) {
		return nil, dependencyUnresolved("realm", fmt.Sprintf("realm %s does not exist", realm), err)
	}
	if err != nil {
		return nil, remoteFailure(resourceClient, "failed to query clients", err)
	}
	for _, c := range clients {
		if gocloak.PString(c.ClientID) == clientID {
			return c, nil
		}
	}
	return nil, nil
}

func (r *Registrar) createClient(ctx context.Context, spec ClientSpec) (*ClientRef, error) {
	newClient := gocloak.Client{
		ClientID:                  gocloak.StringP(spec.ClientID),
		DirectAccessGrantsEnabled: gocloak.BoolP(false),
		ServiceAccountsEnabled:    gocloak.BoolP(false),
	}
	applyClientSpec(&newClient, spec)

	id, err := r.Session.API.CreateClient(ctx, r.Session.Token, spec.Realm, newClient)
	if err != nil {
		return nil, remoteFailure(resourceClient, "failed to create client", err)
	}
	metrics.RecordMutation(resourceClient, string(OperationCreated))
	return &ClientRef{Realm: spec.Realm, ClientID: spec.ClientID, UUID: id}, nil
}

func (r *Registrar) currentSecret(ctx context.Context, spec ClientSpec, existing *gocloak.Client) (string, error) {
	if spec.AccessType != AccessTypeConfidential {
		return "", nil
	}
	if existing.Secret != nil && *existing.Secret != "" {
		return *existing.Secret, nil
	}
	credential, err := r.Session.API.GetClientSecret(ctx, r.Session.Token, spec.Realm, gocloak.PString(existing.ID))
	if err != nil {
		return "", remoteFailure(resourceClient, "failed to get client secret", err)
	}
	return gocloak.PString(credential.Value), nil
}

// applyClientSpec writes the managed fields of spec onto c, leaving the rest untouched.
func applyClientSpec(c *gocloak.Client, spec ClientSpec) {
	redirectURIs := slices.Clone(spec.RedirectURIs)

	c.Name = gocloak.StringP(spec.DisplayName)
	c.Protocol = gocloak.StringP(OIDCProtocol)
	c.Enabled = gocloak.BoolP(true)
	c.PublicClient = gocloak.BoolP(spec.AccessType == AccessTypePublic)
	c.BearerOnly = gocloak.BoolP(spec.AccessType == AccessTypeBearerOnly)
	c.StandardFlowEnabled = gocloak.BoolP(spec.StandardFlowEnabled)
	c.RedirectURIs = &redirectURIs

	if spec.AccessType == AccessTypeConfidential {
		c.Secret = gocloak.StringP(spec.Secret)
	} else {
		c.Secret = nil
	}

	attributes := map[string]string{}
	if c.Attributes != nil {
		for k, v := range *c.Attributes {
			attributes[k] = v
		}
	}
	attributes[LoginThemeAttribute] = spec.LoginTheme
	attributes[OwnerAttribute] = spec.Owner
	c.Attributes = &attributes
}

// clientMatches reports whether the managed fields of c already equal spec.
func clientMatches(c *gocloak.Client, spec ClientSpec, currentSecret string) bool {
	if gocloak.PString(c.Name) != spec.DisplayName ||
		gocloak.PString(c.Protocol) != OIDCProtocol ||
		!gocloak.PBool(c.Enabled) ||
		gocloak.PBool(c.PublicClient) != (spec.AccessType == AccessTypePublic) ||
		gocloak.PBool(c.BearerOnly) != (spec.AccessType == AccessTypeBearerOnly) ||
		gocloak.PBool(c.StandardFlowEnabled) != spec.StandardFlowEnabled {
		return false
	}

	var redirectURIs []string
	if c.RedirectURIs != nil {
		redirectURIs = *c.RedirectURIs
	}
	if !slices.Equal(redirectURIs, spec.RedirectURIs) {
		return false
	}

	if attributeOf(c, LoginThemeAttribute) != spec.LoginTheme {
		return false
	}

	return spec.AccessType != AccessTypeConfidential || currentSecret == spec.Secret
}

func ownerOf(c *gocloak.Client) string {
	return attributeOf(c, OwnerAttribute)
}

func attributeOf(c *gocloak.Client, key string) string {
	if c.Attributes == nil {
		return ""
	}
	return (*c.Attributes)[key]
}
