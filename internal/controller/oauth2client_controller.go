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

package controller

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	reconcilersv1 "github.com/nebari-dev/oauth2client-operator/api/v1"
	"github.com/nebari-dev/oauth2client-operator/internal/config"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/reconcilers/core"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/reconcilers/credentials"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/conditions"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/constants"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/naming"
	"github.com/nebari-dev/oauth2client-operator/internal/issuer"
	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
)

const (
	// validationRequeue is used for failures only a spec or realm change can fix.
	validationRequeue = 5 * time.Minute

	// issuerRequeue retries issuer discovery sooner, Keycloak may still be starting.
	issuerRequeue = time.Minute

	// resyncPeriod re-checks converged clients for drift made in the Keycloak console.
	resyncPeriod = 10 * time.Minute
)

// IssuerProber checks that a realm issuer serves OIDC discovery.
type IssuerProber interface {
	Probe(ctx context.Context, discoveryURL, issuerURL string) (*issuer.Metadata, error)
}

// OAuth2ClientReconciler reconciles a OAuth2Client object
type OAuth2ClientReconciler struct {
	client.Client
	Scheme                *runtime.Scheme
	Recorder              record.EventRecorder
	Config                *config.Config
	Provisioner           *provisioning.Provisioner
	Issuers               IssuerProber
	CoreReconciler        *core.CoreReconciler
	CredentialsReconciler *credentials.CredentialsReconciler
}

// +kubebuilder:rbac:groups=reconcilers.nebari.dev,resources=oauth2clients,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=reconcilers.nebari.dev,resources=oauth2clients/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=reconcilers.nebari.dev,resources=oauth2clients/finalizers,verbs=update
// +kubebuilder:rbac:groups=core,resources=namespaces,verbs=get;list;watch
// +kubebuilder:rbac:groups=core,resources=secrets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=core,resources=events,verbs=create;patch

// Reconcile converges the Keycloak client and group mapper declared by an OAuth2Client
// and publishes the resulting credentials.
func (r *OAuth2ClientReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := logf.FromContext(ctx)

	logger.Info("Reconciling OAuth2Client", "name", req.Name, "namespace", req.Namespace)

	oauth2Client := &reconcilersv1.OAuth2Client{}
	if err := r.Get(ctx, req.NamespacedName, oauth2Client); err != nil {
		if errors.IsNotFound(err) {
			logger.Info("OAuth2Client resource not found. Ignoring since object must be deleted")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Failed to get OAuth2Client")
		return ctrl.Result{}, err
	}

	r.initReconcilers()

	// Handle finalizer
	if oauth2Client.DeletionTimestamp.IsZero() {
		if !controllerutil.ContainsFinalizer(oauth2Client, constants.OAuth2ClientFinalizer) {
			controllerutil.AddFinalizer(oauth2Client, constants.OAuth2ClientFinalizer)
			if err := r.Update(ctx, oauth2Client); err != nil {
				return ctrl.Result{}, err
			}
		}
	} else {
		if controllerutil.ContainsFinalizer(oauth2Client, constants.OAuth2ClientFinalizer) {
			if err := r.cleanup(ctx, oauth2Client); err != nil {
				logger.Error(err, "Failed to cleanup resources")
				return ctrl.Result{}, err
			}

			controllerutil.RemoveFinalizer(oauth2Client, constants.OAuth2ClientFinalizer)
			if err := r.Update(ctx, oauth2Client); err != nil {
				return ctrl.Result{}, err
			}
		}
		return ctrl.Result{}, nil
	}

	conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionUnknown,
		reconcilersv1.ReasonReconciling, "Reconciliation in progress")

	if err := r.CoreReconciler.ValidateSpec(ctx, oauth2Client); err != nil {
		logger.Error(err, "Core validation failed")
		if err := r.updateStatus(ctx, oauth2Client); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{RequeueAfter: validationRequeue}, nil
	}

	var secret string
	if oauth2Client.Spec.IsEnabled() {
		var err error
		if secret, err = r.CredentialsReconciler.ResolveSecret(ctx, oauth2Client); err != nil {
			logger.Error(err, "Failed to resolve client secret")
			conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionFalse,
				reconcilersv1.ReasonSecretNotFound, err.Error())
			if err := r.updateStatus(ctx, oauth2Client); err != nil {
				return ctrl.Result{}, err
			}
			return ctrl.Result{}, err
		}
	}

	kcCtx, cancel := context.WithTimeout(ctx, r.reconcileTimeout())
	defer cancel()

	decl := r.declaration(oauth2Client, secret)
	if err := r.retirePrevious(kcCtx, oauth2Client, decl); err != nil {
		return r.handleProvisionError(ctx, oauth2Client, provisioning.Result{}, err)
	}

	result, err := r.Provisioner.Apply(kcCtx, decl)
	r.recordResult(oauth2Client, decl, result, err)
	if err != nil {
		return r.handleProvisionError(ctx, oauth2Client, result, err)
	}

	if !decl.Enabled {
		return r.reconcileDisabled(ctx, oauth2Client, result)
	}
	return r.reconcileEnabled(kcCtx, ctx, oauth2Client, decl, secret, result)
}

func (r *OAuth2ClientReconciler) reconcileEnabled(kcCtx, ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client,
	decl provisioning.Declaration, secret string, result provisioning.Result) (ctrl.Result, error) {
	logger := logf.FromContext(ctx)

	clientID := provisioning.ClientID(decl.Name)
	conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeClientReady, metav1.ConditionTrue,
		reconcilersv1.ReasonConverged, fmt.Sprintf("Client %s is registered in realm %s", clientID, decl.Realm))
	conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeMapperReady, metav1.ConditionTrue,
		reconcilersv1.ReasonConverged, fmt.Sprintf("Mapper %s is bound to %s", provisioning.GroupMapperName, clientID))
	if result.Mutations > 0 {
		r.Recorder.Event(oauth2Client, corev1.EventTypeNormal, reconcilersv1.EventReasonClientProvisioned,
			fmt.Sprintf("Provisioned client %s in realm %s", clientID, decl.Realm))
	}

	issuerURL := r.Config.Keycloak.RealmIssuerURL(decl.Realm)
	oauth2Client.Status.IssuerURL = issuerURL

	if err := r.CredentialsReconciler.PublishCredentials(ctx, oauth2Client, credentials.Credentials{
		ClientID:     clientID,
		ClientSecret: secret,
		IssuerURL:    issuerURL,
	}); err != nil {
		logger.Error(err, "Failed to publish credentials")
		conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionFalse,
			reconcilersv1.ReasonReconciling, fmt.Sprintf("Failed to publish credentials: %v", err))
		if err := r.updateStatus(ctx, oauth2Client); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{}, err
	}

	if !r.Config.Keycloak.VerifyIssuer {
		conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeIssuerReady, metav1.ConditionTrue,
			reconcilersv1.ReasonVerificationSkipped, "Issuer verification is disabled")
	} else if _, err := r.Issuers.Probe(kcCtx, r.Config.Keycloak.RealmDiscoveryURL(decl.Realm), issuerURL); err != nil {
		logger.Error(err, "Issuer discovery failed", "issuer", issuerURL)
		r.Recorder.Event(oauth2Client, corev1.EventTypeWarning, reconcilersv1.EventReasonIssuerUnavailable, err.Error())
		conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeIssuerReady, metav1.ConditionFalse,
			reconcilersv1.ReasonIssuerUnavailable, err.Error())
		conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionFalse,
			reconcilersv1.ReasonIssuerUnavailable, fmt.Sprintf("Issuer %s is not serving OIDC discovery", issuerURL))
		if err := r.updateStatus(ctx, oauth2Client); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{RequeueAfter: issuerRequeue}, nil
	} else {
		conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeIssuerReady, metav1.ConditionTrue,
			reconcilersv1.ReasonIssuerVerified, fmt.Sprintf("Issuer %s serves a userinfo endpoint", issuerURL))
	}

	if conditions.AllTrue(oauth2Client, reconcilersv1.ConditionTypeClientReady,
		reconcilersv1.ConditionTypeMapperReady, reconcilersv1.ConditionTypeIssuerReady) {
		conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionTrue,
			reconcilersv1.ReasonReconcileSuccess, "OAuth2Client reconciled successfully")
	}

	if err := r.updateStatus(ctx, oauth2Client); err != nil {
		logger.Error(err, "Failed to update OAuth2Client status")
		return ctrl.Result{}, err
	}

	logger.Info("Successfully reconciled OAuth2Client", "clientID", clientID, "mutations", result.Mutations)
	return ctrl.Result{RequeueAfter: resyncPeriod}, nil
}

func (r *OAuth2ClientReconciler) reconcileDisabled(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client,
	result provisioning.Result) (ctrl.Result, error) {
	logger := logf.FromContext(ctx)

	if err := r.CredentialsReconciler.CleanupCredentials(ctx, oauth2Client); err != nil {
		logger.Error(err, "Failed to clean up credentials")
		return ctrl.Result{}, err
	}
	if result.Mutations > 0 {
		r.Recorder.Event(oauth2Client, corev1.EventTypeNormal, reconcilersv1.EventReasonClientRemoved,
			fmt.Sprintf("Removed client %s", provisioning.ClientID(oauth2Client.Spec.Name)))
	}

	oauth2Client.Status.IssuerURL = ""
	for _, conditionType := range []string{
		reconcilersv1.ConditionTypeClientReady,
		reconcilersv1.ConditionTypeMapperReady,
		reconcilersv1.ConditionTypeIssuerReady,
	} {
		conditions.SetCondition(oauth2Client, conditionType, metav1.ConditionFalse,
			reconcilersv1.ReasonDisabled, "oauth2client is disabled")
	}
	conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionTrue,
		reconcilersv1.ReasonDisabled, "oauth2client is disabled, nothing is provisioned")

	if err := r.updateStatus(ctx, oauth2Client); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{RequeueAfter: resyncPeriod}, nil
}

// handleProvisionError maps provisioning failures onto conditions, events and requeues.
// Only failures a blind retry can fix are returned to controller-runtime for backoff.
func (r *OAuth2ClientReconciler) handleProvisionError(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client,
	result provisioning.Result, err error) (ctrl.Result, error) {
	logger := logf.FromContext(ctx)
	logger.Error(err, "Provisioning failed", "phase", oauth2Client.Status.Phase)

	reason := string(provisioning.KindOf(err))
	if reason == "" {
		reason = reconcilersv1.ReasonRemoteApplyFailure
	}

	eventReason := reconcilersv1.EventReasonProvisionFailed
	if provisioning.KindOf(err) == provisioning.KindRemoteConflict {
		eventReason = reconcilersv1.EventReasonClientConflict
	}
	r.Recorder.Event(oauth2Client, corev1.EventTypeWarning, eventReason, err.Error())

	if result.Client == nil {
		conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeClientReady, metav1.ConditionFalse, reason, err.Error())
	}
	conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeMapperReady, metav1.ConditionFalse, reason, err.Error())
	conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionFalse, reason, err.Error())

	if updateErr := r.updateStatus(ctx, oauth2Client); updateErr != nil {
		return ctrl.Result{}, updateErr
	}

	if provisioning.IsRetryable(err) {
		return ctrl.Result{}, err
	}
	return ctrl.Result{RequeueAfter: validationRequeue}, nil
}

// recordResult copies what the apply cycle reached into the status.
func (r *OAuth2ClientReconciler) recordResult(oauth2Client *reconcilersv1.OAuth2Client, decl provisioning.Declaration,
	result provisioning.Result, err error) {
	switch {
	case decl.Enabled && provisioning.KindOf(err) != provisioning.KindConfigInvalid:
		// A failed create may still have landed, so the identity is kept for teardown.
		oauth2Client.Status.ProvisionedRealm = decl.Realm
		oauth2Client.Status.ProvisionedName = decl.Name
	case !decl.Enabled && err == nil:
		oauth2Client.Status.ProvisionedRealm = ""
		oauth2Client.Status.ProvisionedName = ""
	}

	oauth2Client.Status.Phase = string(result.Phase)
	oauth2Client.Status.MapperID = result.MapperID
	if result.Client != nil {
		oauth2Client.Status.ClientID = result.Client.ClientID
		oauth2Client.Status.ClientUUID = result.Client.UUID
		if decl.Enabled && result.Phase != provisioning.PhaseConverged {
			conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeClientReady, metav1.ConditionTrue,
				reconcilersv1.ReasonConverged, fmt.Sprintf("Client %s is registered in realm %s", result.Client.ClientID, decl.Realm))
		}
		return
	}
	if decl.Enabled {
		oauth2Client.Status.ClientID = provisioning.ClientID(decl.Name)
	} else {
		oauth2Client.Status.ClientID = ""
	}
	oauth2Client.Status.ClientUUID = ""
}

// cleanup removes the Keycloak client and group mapper of an OAuth2Client being deleted.
func (r *OAuth2ClientReconciler) cleanup(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client) error {
	logger := logf.FromContext(ctx)
	logger.Info("Cleaning up resources for OAuth2Client", "name", oauth2Client.Name, "namespace", oauth2Client.Namespace)

	r.Recorder.Event(oauth2Client, corev1.EventTypeNormal, reconcilersv1.EventReasonCleanup, "Starting resource cleanup")

	kcCtx, cancel := context.WithTimeout(ctx, r.reconcileTimeout())
	defer cancel()

	if err := r.retirePrevious(kcCtx, oauth2Client, r.declaration(oauth2Client, "")); err != nil {
		return fmt.Errorf("failed to remove previous Keycloak client: %w", err)
	}

	result, err := r.Provisioner.Destroy(kcCtx, r.declaration(oauth2Client, ""))
	if err != nil {
		if provisioning.IsRetryable(err) {
			return fmt.Errorf("failed to remove Keycloak client: %w", err)
		}
		// Nothing this operator could have created can be found from an invalid spec.
		logger.Error(err, "Skipping Keycloak cleanup")
	} else if result.Mutations > 0 {
		r.Recorder.Event(oauth2Client, corev1.EventTypeNormal, reconcilersv1.EventReasonClientRemoved,
			fmt.Sprintf("Removed client %s", provisioning.ClientID(oauth2Client.Spec.Name)))
	}

	// The credentials Secret is owned by the OAuth2Client and garbage collected with it.
	if err := r.CredentialsReconciler.CleanupCredentials(ctx, oauth2Client); err != nil {
		logger.Error(err, "Failed to delete credentials secret")
	}

	logger.Info("Cleanup completed")
	return nil
}

// retirePrevious tears down the client recorded in the status when the declaration now
// names a different realm or name. Only retryable failures are returned; once nothing
// more can be done the old identity is forgotten.
func (r *OAuth2ClientReconciler) retirePrevious(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client, decl provisioning.Declaration) error {
	status := &oauth2Client.Status
	if status.ProvisionedName == "" || (status.ProvisionedRealm == decl.Realm && status.ProvisionedName == decl.Name) {
		return nil
	}
	logger := logf.FromContext(ctx).WithValues("realm", status.ProvisionedRealm, "previousName", status.ProvisionedName)

	previous := provisioning.Declaration{
		Realm: status.ProvisionedRealm,
		Name:  status.ProvisionedName,
		Owner: naming.Owner(oauth2Client),
	}
	result, err := r.Provisioner.Destroy(ctx, previous)
	if err != nil {
		if provisioning.IsRetryable(err) {
			return err
		}
		logger.Error(err, "Skipping teardown of previous client")
	} else {
		logger.Info("Retired previous client", "mutations", result.Mutations)
		if result.Mutations > 0 {
			r.Recorder.Event(oauth2Client, corev1.EventTypeNormal, reconcilersv1.EventReasonClientRemoved,
				fmt.Sprintf("Removed client %s", provisioning.ClientID(previous.Name)))
		}
	}

	status.ProvisionedRealm = ""
	status.ProvisionedName = ""
	return nil
}

// declaration builds the provisioning input of an OAuth2Client.
func (r *OAuth2ClientReconciler) declaration(oauth2Client *reconcilersv1.OAuth2Client, secret string) provisioning.Declaration {
	realm := oauth2Client.Spec.Realm
	if realm == "" {
		realm = r.Config.Keycloak.Realm
	}
	return provisioning.Declaration{
		Enabled:             oauth2Client.Spec.IsEnabled(),
		Realm:               realm,
		Name:                oauth2Client.Spec.Name,
		Secret:              secret,
		ExternalURL:         oauth2Client.Spec.ExternalURL,
		URLSlug:             oauth2Client.Spec.URLSlug,
		DisplayName:         oauth2Client.Spec.DisplayName,
		AccessType:          provisioning.AccessType(oauth2Client.Spec.AccessType),
		StandardFlowEnabled: oauth2Client.Spec.StandardFlowEnabled,
		LoginTheme:          oauth2Client.Spec.LoginTheme,
		Owner:               naming.Owner(oauth2Client),
	}
}

func (r *OAuth2ClientReconciler) updateStatus(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client) error {
	oauth2Client.Status.ObservedGeneration = oauth2Client.Generation
	return r.Status().Update(ctx, oauth2Client)
}

func (r *OAuth2ClientReconciler) reconcileTimeout() time.Duration {
	if r.Config.ReconcileTimeout > 0 {
		return r.Config.ReconcileTimeout
	}
	return config.DefaultReconcileTimeout
}

func (r *OAuth2ClientReconciler) initReconcilers() {
	if r.CoreReconciler == nil {
		r.CoreReconciler = &core.CoreReconciler{
			Client:   r.Client,
			Scheme:   r.Scheme,
			Recorder: r.Recorder,
		}
	}
	if r.CredentialsReconciler == nil {
		r.CredentialsReconciler = &credentials.CredentialsReconciler{
			Client:   r.Client,
			Scheme:   r.Scheme,
			Recorder: r.Recorder,
		}
	}
	if r.Issuers == nil {
		r.Issuers = &issuer.Prober{}
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *OAuth2ClientReconciler) SetupWithManager(mgr ctrl.Manager) error {
	r.Recorder = mgr.GetEventRecorderFor("oauth2client-controller")
	r.initReconcilers()

	maxConcurrent := r.Config.MaxConcurrentReconciles
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrentReconciles
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&reconcilersv1.OAuth2Client{}).
		Owns(&corev1.Secret{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: maxConcurrent}).
		Named("oauth2client").
		Complete(r)
}
