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
	"strconv"

	"github.com/Nerzal/gocloak/v13"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/nebari-dev/oauth2client-operator/internal/keycloak"
	"github.com/nebari-dev/oauth2client-operator/internal/metrics"
)

const resourceMapper = "mapper"

// Config keys of the Keycloak group membership mapper.
const (
	configClaimName        = "claim.name"
	configFullPath         = "full.path"
	configIDTokenClaim     = "id.token.claim"
	configAccessTokenClaim = "access.token.claim"
	configUserInfoClaim    = "userinfo.token.claim"
)

// Binder converges the group membership mapper under a materialized client.
type Binder struct {
	Session *keycloak.Session
}

// Converge creates or updates the mapper under the client ref points at and returns
// the mapper id. A disabled spec does nothing. An enabled spec without a resolved,
// live client fails with DependencyUnresolved before anything is written.
func (b *Binder) Converge(ctx context.Context, spec ClaimMapperSpec, ref *ClientRef) (string, Operation, error) {
	logger := log.FromContext(ctx).WithValues("mapper", spec.Name)

	if !spec.Enabled {
		logger.V(1).Info("Mapper disabled, skipping")
		return "", OperationNone, nil
	}
	if ref == nil {
		return "", OperationNone, dependencyUnresolved(resourceMapper,
			fmt.Sprintf("mapper %s requires a resolved client reference", spec.Name), nil)
	}
	logger = logger.WithValues("realm", ref.Realm, "clientID", ref.ClientID)

	existing, err := b.findMapper(ctx, ref, spec.Name)
	if err != nil {
		return "", OperationNone, err
	}

	desired := desiredMapper(spec)

	if existing == nil {
		id, err := b.Session.API.CreateClientProtocolMapper(ctx, b.Session.Token, ref.Realm, ref.UUID, desired)
		if err == nil {
			metrics.RecordMutation(resourceMapper, string(OperationCreated))
			logger.Info("Created mapper", "id", id)
			return id, OperationCreated, nil
		}
		if keycloak.IsNotFound(err) {
			return "", OperationNone, dependencyUnresolved(resourceMapper,
				fmt.Sprintf("client %s disappeared before its mapper was created", ref), err)
		}
		if !keycloak.IsConflict(err) {
			return "", OperationNone, remoteFailure(resourceMapper, "failed to create mapper", err)
		}

		logger.V(1).Info("Mapper created concurrently, re-reading")
		existing, err = b.findMapper(ctx, ref, spec.Name)
		if err != nil {
			return "", OperationNone, err
		}
		if existing == nil {
			return "", OperationNone, remoteFailure(resourceMapper,
				fmt.Sprintf("mapper %s reported as existing but not found", spec.Name), nil)
		}
	}

	id := gocloak.PString(existing.ID)
	if mapperMatches(existing, desired) {
		logger.V(1).Info("Mapper up to date", "id", id)
		return id, OperationNone, nil
	}

	desired.ID = existing.ID
	if existing.Config != nil {
		merged := map[string]string{}
		for k, v := range *existing.Config {
			merged[k] = v
		}
		for k, v := range *desired.Config {
			merged[k] = v
		}
		desired.Config = &merged
	}
	if err := b.Session.API.UpdateClientProtocolMapper(ctx, b.Session.Token, ref.Realm, ref.UUID, id, desired); err != nil {
		return "", OperationNone, remoteFailure(resourceMapper, "failed to update mapper", err)
	}
	metrics.RecordMutation(resourceMapper, string(OperationUpdated))
	logger.Info("Updated mapper", "id", id)

	return id, OperationUpdated, nil
}

// Teardown removes the named mapper from the client ref points at.
// A missing client or mapper is already torn down.
func (b *Binder) Teardown(ctx context.Context, ref *ClientRef, name string) (Operation, error) {
	if ref == nil {
		return OperationNone, nil
	}

	existing, err := b.findMapper(ctx, ref, name)
	if IsDependencyUnresolved(err) {
		return OperationNone, nil
	}
	if err != nil {
		return OperationNone, err
	}
	if existing == nil {
		return OperationNone, nil
	}

	err = b.Session.API.DeleteClientProtocolMapper(ctx, b.Session.Token, ref.Realm, ref.UUID, gocloak.PString(existing.ID))
	if keycloak.IsNotFound(err) {
		return OperationNone, nil
	}
	if err != nil {
		return OperationNone, remoteFailure(resourceMapper, "failed to delete mapper", err)
	}
	metrics.RecordMutation(resourceMapper, string(OperationDeleted))
	log.FromContext(ctx).Info("Deleted mapper", "mapper", name, "realm", ref.Realm, "clientID", ref.ClientID)

	return OperationDeleted, nil
}

// findMapper reads the client ref points at and returns its mapper called name.
// A client that no longer exists is a DependencyUnresolved failure.
func (b *Binder) findMapper(ctx context.Context, ref *ClientRef, name string) (*gocloak.ProtocolMapperRepresentation, error) {
	client, err := b.Session.API.GetClient(ctx, b.Session.Token, ref.Realm, ref.UUID)
	if keycloak.IsNotFound(err) {
		return nil, dependencyUnresolved(resourceMapper, fmt.Sprintf("client %s does not exist", ref), err)
	}
	if err != nil {
		return nil, remoteFailure(resourceMapper, "failed to get client", err)
	}
	if client.ProtocolMappers == nil {
		return nil, nil
	}
	for _, m := range *client.ProtocolMappers {
		if gocloak.PString(m.Name) == name {
			return &m, nil
		}
	}
	return nil, nil
}

// IsDependencyUnresolved reports whether err is a DependencyUnresolved failure.
func IsDependencyUnresolved(err error) bool {
	return KindOf(err) == KindDependencyUnresolved
}

func desiredMapper(spec ClaimMapperSpec) gocloak.ProtocolMapperRepresentation {
	config := map[string]string{
		configClaimName:        spec.ClaimName,
		configFullPath:         strconv.FormatBool(spec.FullPath),
		configIDTokenClaim:     strconv.FormatBool(slices.Contains(spec.TokenTargets, TokenTargetIDToken)),
		configAccessTokenClaim: strconv.FormatBool(slices.Contains(spec.TokenTargets, TokenTargetAccessToken)),
		configUserInfoClaim:    strconv.FormatBool(slices.Contains(spec.TokenTargets, TokenTargetUserInfo)),
	}
	return gocloak.ProtocolMapperRepresentation{
		Name:           gocloak.StringP(spec.Name),
		Protocol:       gocloak.StringP(OIDCProtocol),
		ProtocolMapper: gocloak.StringP(GroupMapperType),
		Config:         &config,
	}
}

// mapperMatches compares the keys this package manages; Keycloak may add others.
func mapperMatches(existing *gocloak.ProtocolMapperRepresentation, desired gocloak.ProtocolMapperRepresentation) bool {
	if gocloak.PString(existing.Protocol) != gocloak.PString(desired.Protocol) ||
		gocloak.PString(existing.ProtocolMapper) != gocloak.PString(desired.ProtocolMapper) {
		return false
	}
	if existing.Config == nil {
		return false
	}
	for k, v := range *desired.Config {
		if (*existing.Config)[k] != v {
			return false
		}
	}
	return true
}
