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

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/nebari-dev/oauth2client-operator/internal/keycloak"
	"github.com/nebari-dev/oauth2client-operator/internal/metrics"
)

// Provisioner runs the client -> mapper chain for a declaration.
// It is safe for concurrent use across independent declarations; a single
// declaration must not be applied concurrently with itself by the same caller.
type Provisioner struct {
	Sessions keycloak.SessionSource

	// OnPhase, when set, is called on every phase transition of an apply cycle.
	OnPhase func(ctx context.Context, phase Phase)
}

// Apply converges Keycloak to the declaration. When the declaration is enabled the
// client is converged first and the mapper is bound to the resulting reference.
// When disabled, whatever this owner provisioned is torn down, mapper first.
//
// Configuration errors abort before any remote call.
func (p *Provisioner) Apply(ctx context.Context, decl Declaration) (Result, error) {
	if err := decl.Validate(); err != nil {
		metrics.RecordConverge(resourceClient, string(KindConfigInvalid))
		return Result{Phase: PhaseAbsent}, err
	}

	session, err := p.Sessions.Session(ctx)
	if err != nil {
		return Result{Phase: PhaseAbsent}, remoteFailure("session", "failed to open Keycloak session", err)
	}

	clientSpec := decl.ClientSpec()
	mapperSpec := GroupMapperSpec(clientSpec)

	var result Result
	if !clientSpec.Enabled {
		result, err = p.teardown(ctx, session, clientSpec, mapperSpec)
	} else {
		result, err = p.converge(ctx, session, clientSpec, mapperSpec)
	}
	if keycloak.IsUnauthorized(err) {
		if inv, ok := p.Sessions.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	}
	return result, err
}

// Destroy tears down whatever the declaration provisioned regardless of its toggle.
func (p *Provisioner) Destroy(ctx context.Context, decl Declaration) (Result, error) {
	decl.Enabled = false
	return p.Apply(ctx, decl)
}

func (p *Provisioner) converge(ctx context.Context, session *keycloak.Session, clientSpec ClientSpec, mapperSpec ClaimMapperSpec) (Result, error) {
	logger := log.FromContext(ctx).WithValues("realm", clientSpec.Realm, "clientID", clientSpec.ClientID)
	result := Result{}
	p.enter(ctx, &result, PhaseClientPending)

	registrar := &Registrar{Session: session}
	ref, op, err := registrar.Converge(ctx, clientSpec)
	record(resourceClient, op, err)
	if err != nil {
		return result, err
	}
	result.count(op)
	result.Client = ref
	p.enter(ctx, &result, PhaseClientReady)

	// The mapper only ever sees a reference the registrar resolved in this cycle.
	p.enter(ctx, &result, PhaseMapperPending)
	binder := &Binder{Session: session}
	mapperID, op, err := binder.Converge(ctx, mapperSpec, ref)
	record(resourceMapper, op, err)
	if err != nil {
		return result, err
	}
	result.count(op)
	result.MapperID = mapperID
	p.enter(ctx, &result, PhaseConverged)

	logger.Info("Converged", "uuid", ref.UUID, "mapperID", mapperID, "mutations", result.Mutations)
	return result, nil
}

func (p *Provisioner) teardown(ctx context.Context, session *keycloak.Session, clientSpec ClientSpec, mapperSpec ClaimMapperSpec) (Result, error) {
	logger := log.FromContext(ctx).WithValues("realm", clientSpec.Realm, "clientID", clientSpec.ClientID)
	result := Result{}
	p.enter(ctx, &result, PhaseTeardown)

	registrar := &Registrar{Session: session}
	ref, err := registrar.Resolve(ctx, clientSpec)
	if err != nil && !IsDependencyUnresolved(err) {
		return result, err
	}
	if ref == nil {
		logger.V(1).Info("Nothing to tear down")
		p.enter(ctx, &result, PhaseAbsent)
		return result, nil
	}

	binder := &Binder{Session: session}
	op, err := binder.Teardown(ctx, ref, mapperSpec.Name)
	record(resourceMapper, op, err)
	if err != nil {
		return result, err
	}
	result.count(op)

	op, err = registrar.Teardown(ctx, ref)
	record(resourceClient, op, err)
	if err != nil {
		return result, err
	}
	result.count(op)
	p.enter(ctx, &result, PhaseAbsent)

	logger.Info("Torn down", "uuid", ref.UUID, "mutations", result.Mutations)
	return result, nil
}

func (p *Provisioner) enter(ctx context.Context, result *Result, phase Phase) {
	result.Phase = phase
	if p.OnPhase != nil {
		p.OnPhase(ctx, phase)
	}
}

func (r *Result) count(op Operation) {
	if op != OperationNone {
		r.Mutations++
	}
}

func record(resource string, op Operation, err error) {
	if err != nil {
		metrics.RecordConverge(resource, string(KindOf(err)))
		return
	}
	metrics.RecordConverge(resource, string(op))
}
