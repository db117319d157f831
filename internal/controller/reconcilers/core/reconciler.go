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

package core

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	reconcilersv1 "github.com/nebari-dev/oauth2client-operator/api/v1"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/conditions"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/validation"
)

// CoreReconciler handles core validation and status management for OAuth2Client resources
type CoreReconciler struct {
	Client   client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
}

// ValidateSpec checks what must hold before Keycloak is contacted: the namespace is
// opted-in and, for an enabled client, the referenced client secret is readable.
// On failure the Ready condition is set to False and a warning event is recorded.
func (r *CoreReconciler) ValidateSpec(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client) error {
	logger := log.FromContext(ctx)

	if err := validation.ValidateNamespaceOptIn(ctx, r.Client, oauth2Client); err != nil {
		logger.Error(err, "Namespace validation failed")
		r.Recorder.Event(oauth2Client, corev1.EventTypeWarning, reconcilersv1.EventReasonNamespaceNotOptIn, err.Error())
		conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionFalse,
			reconcilersv1.ReasonNamespaceNotOptedIn, err.Error())
		return err
	}

	if oauth2Client.Spec.IsEnabled() {
		if err := validation.ValidateSecretRef(ctx, r.Client, oauth2Client); err != nil {
			logger.Error(err, "Client secret validation failed")
			r.Recorder.Event(oauth2Client, corev1.EventTypeWarning, reconcilersv1.EventReasonValidationFailed, err.Error())
			conditions.SetCondition(oauth2Client, reconcilersv1.ConditionTypeReady, metav1.ConditionFalse,
				reconcilersv1.ReasonSecretNotFound, err.Error())
			return err
		}
	}

	logger.V(1).Info("Core validation passed", "oauth2client", oauth2Client.Name)
	r.Recorder.Event(oauth2Client, corev1.EventTypeNormal, reconcilersv1.EventReasonValidationSuccess,
		"OAuth2Client validation completed successfully")

	return nil
}
