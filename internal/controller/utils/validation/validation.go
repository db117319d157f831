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

package validation

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	reconcilersv1 "github.com/nebari-dev/oauth2client-operator/api/v1"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/constants"
)

const (
	// ManagedNamespaceLabel is the label that indicates a namespace is opted-in to OAuth2 client management
	ManagedNamespaceLabel = "nebari.dev/managed"
)

// ValidateNamespaceOptIn checks if the namespace has the required label for OAuth2 client management.
// Returns an error if the namespace is not opted-in or cannot be accessed.
func ValidateNamespaceOptIn(ctx context.Context, c client.Client, oauth2Client *reconcilersv1.OAuth2Client) error {
	namespace := &corev1.Namespace{}
	if err := c.Get(ctx, client.ObjectKey{Name: oauth2Client.Namespace}, namespace); err != nil {
		return fmt.Errorf("failed to get namespace: %w", err)
	}

	if namespace.Labels == nil || namespace.Labels[ManagedNamespaceLabel] != "true" {
		return fmt.Errorf("namespace %s is not opted-in to OAuth2 client management (missing label: %s=true)",
			oauth2Client.Namespace, ManagedNamespaceLabel)
	}

	return nil
}

// SecretRefKey returns the key read from the referenced client secret.
func SecretRefKey(ref *reconcilersv1.SecretKeyReference) string {
	if ref == nil || ref.Key == "" {
		return constants.ClientSecretKey
	}
	return ref.Key
}

// ValidateSecretRef checks that the referenced client secret exists and carries a non-empty value.
// A missing Secret is returned wrapped so callers can test it with apierrors.IsNotFound.
func ValidateSecretRef(ctx context.Context, c client.Client, oauth2Client *reconcilersv1.OAuth2Client) error {
	ref := oauth2Client.Spec.ClientSecretRef
	if ref == nil {
		return nil
	}

	secret := &corev1.Secret{}
	if err := c.Get(ctx, client.ObjectKey{Name: ref.Name, Namespace: oauth2Client.Namespace}, secret); err != nil {
		return fmt.Errorf("failed to get client secret %s/%s: %w", oauth2Client.Namespace, ref.Name, err)
	}

	key := SecretRefKey(ref)
	if len(secret.Data[key]) == 0 {
		return fmt.Errorf("secret %s/%s has no value for key %q", oauth2Client.Namespace, ref.Name, key)
	}

	return nil
}
