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

package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
	"github.com/nebari-dev/oauth2client-operator/internal/state"
)

// DefaultConcurrency is how many declarations are converged at once when unset.
const DefaultConcurrency = 4

// Outcome is the result of converging one declaration.
type Outcome struct {
	Declaration provisioning.Declaration
	Result      provisioning.Result
	Err         error
}

// Runner converges independent declarations in parallel and records each outcome.
type Runner struct {
	Provisioner *provisioning.Provisioner

	// Ledger, when set, receives one record per declaration. Destroyed clients are removed.
	Ledger *state.Ledger

	Concurrency int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Apply converges every declaration. Outcomes are returned in declaration order,
// the error joins every failure.
func (r *Runner) Apply(ctx context.Context, decls []provisioning.Declaration) ([]Outcome, error) {
	return r.run(ctx, decls, false)
}

// Destroy tears down every declaration regardless of its toggle.
func (r *Runner) Destroy(ctx context.Context, decls []provisioning.Declaration) ([]Outcome, error) {
	return r.run(ctx, decls, true)
}

// Prune destroys every client recorded in the ledger that decls no longer declare.
// Without a ledger there is nothing to compare against and nothing is pruned.
func (r *Runner) Prune(ctx context.Context, decls []provisioning.Declaration, owner func(name string) string) ([]Outcome, error) {
	if r.Ledger == nil {
		return nil, nil
	}
	records, err := r.Ledger.List()
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool, len(decls))
	for _, decl := range decls {
		declared[state.Key(decl.Realm, decl.Name)] = true
	}
	var stale []state.Record
	for _, rec := range records {
		if !declared[rec.Key()] {
			stale = append(stale, rec)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	log.FromContext(ctx).Info("Pruning clients no longer declared", "clients", len(stale))
	return r.Destroy(ctx, Declarations(stale, owner))
}

func (r *Runner) run(ctx context.Context, decls []provisioning.Declaration, destroy bool) ([]Outcome, error) {
	runID := uuid.NewString()
	logger := log.FromContext(ctx).WithValues("run", runID)
	logger.Info("Starting run", "declarations", len(decls), "destroy", destroy)

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	outcomes := make([]Outcome, len(decls))
	ledgerErrs := make([]error, len(decls))

	// Failures of one declaration never cancel the others.
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, decl := range decls {
		g.Go(func() error {
			declCtx := log.IntoContext(ctx, logger.WithValues("realm", decl.Realm, "name", decl.Name))

			var result provisioning.Result
			var err error
			if destroy {
				result, err = r.Provisioner.Destroy(declCtx, decl)
			} else {
				result, err = r.Provisioner.Apply(declCtx, decl)
			}
			outcomes[i] = Outcome{Declaration: decl, Result: result, Err: err}
			ledgerErrs[i] = r.record(runID, outcomes[i], destroy)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", state.Key(o.Declaration.Realm, o.Declaration.Name), o.Err))
		}
		if ledgerErrs[i] != nil {
			errs = append(errs, ledgerErrs[i])
		}
	}

	logger.Info("Finished run", "failed", len(errs))
	return outcomes, errors.Join(errs...)
}

func (r *Runner) record(runID string, o Outcome, destroy bool) error {
	if r.Ledger == nil {
		return nil
	}
	decl := o.Declaration

	if destroy && o.Err == nil {
		if err := r.Ledger.Delete(decl.Realm, decl.Name); err != nil {
			return fmt.Errorf("failed to remove state of %s: %w", state.Key(decl.Realm, decl.Name), err)
		}
		return nil
	}

	rec := state.Record{
		Realm:     decl.Realm,
		Name:      decl.Name,
		ClientID:  provisioning.ClientID(decl.Name),
		MapperID:  o.Result.MapperID,
		Enabled:   decl.Enabled && !destroy,
		Phase:     string(o.Result.Phase),
		Mutations: o.Result.Mutations,
		RunID:     runID,
		AppliedAt: r.now(),
	}
	if o.Result.Client != nil {
		rec.UUID = o.Result.Client.UUID
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if err := r.Ledger.Put(rec); err != nil {
		return fmt.Errorf("failed to record state of %s: %w", rec.Key(), err)
	}
	return nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Declarations rebuilds identity-only declarations from ledger records so clients can
// be destroyed without the manifest that created them.
func Declarations(records []state.Record, owner func(name string) string) []provisioning.Declaration {
	decls := make([]provisioning.Declaration, 0, len(records))
	for _, rec := range records {
		decls = append(decls, provisioning.Declaration{
			Realm: rec.Realm,
			Name:  rec.Name,
			Owner: owner(rec.Name),
		})
	}
	return decls
}
