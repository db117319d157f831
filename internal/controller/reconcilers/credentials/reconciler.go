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

package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	reconcilersv1 "github.com/nebari-dev/oauth2client-operator/api/v1"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/constants"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/labels"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/naming"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/validation"
	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
)

// generatedSecretLength is the length of operator-generated client secrets.
const generatedSecretLength = 32

// Credentials are what applications need to use the provisioned client.
type Credentials struct {
	ClientID     string
	ClientSecret string
	IssuerURL    string
}

// CredentialsReconciler resolves client secrets and publishes client credentials
// for OAuth2Client resources.
type CredentialsReconciler struct {
	Client   client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
}

// ResolveSecret returns the client secret to forward to Keycloak.
// Non-CONFIDENTIAL clients have none. A referenced Secret wins; otherwise the
// secret already stored in the credentials Secret is reused, or a new one is
// generated and stored so it stays stable across reconciliations.
func (r *CredentialsReconciler) ResolveSecret(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client) (string, error) {
	if !needsSecret(oauth2Client) {
		return "", nil
	}

	if ref := oauth2Client.Spec.ClientSecretRef; ref != nil {
		secret := &corev1.Secret{}
		if err := r.Client.Get(ctx, client.ObjectKey{Name: ref.Name, Namespace: oauth2Client.Namespace}, secret); err != nil {
			return "", fmt.Errorf("failed to get client secret %s/%s: %w", oauth2Client.Namespace, ref.Name, err)
		}
		key := validation.SecretRefKey(ref)
		value := string(secret.Data[key])
		if value == "" {
			return "", fmt.Errorf("secret %s/%s has no value for key %q", oauth2Client.Namespace, ref.Name, key)
		}
		return value, nil
	}

	existing, err := r.getCredentialsSecret(ctx, oauth2Client)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if value := string(existing.Data[constants.ClientSecretKey]); value != "" {
			return value, nil
		}
	}

	generated, err := generateSecret(generatedSecretLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	if err := r.storeCredentials(ctx, oauth2Client, Credentials{
		ClientID:     naming.ClientID(oauth2Client),
		ClientSecret: generated,
	}); err != nil {
		return "", err
	}
	log.FromContext(ctx).Info("Generated client secret", "secret", naming.CredentialsSecretName(oauth2Client))
	r.Recorder.Event(oauth2Client, corev1.EventTypeNormal, reconcilersv1.EventReasonSecretGenerated,
		fmt.Sprintf("Generated client secret in %s", naming.CredentialsSecretName(oauth2Client)))

	return generated, nil
}

// PublishCredentials writes the client id, client secret and issuer URL to the
// credentials Secret and records it in the status.
func (r *CredentialsReconciler) PublishCredentials(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client, creds Credentials) error {
	if err := r.storeCredentials(ctx, oauth2Client, creds); err != nil {
		return err
	}
	oauth2Client.Status.CredentialsSecretRef = &reconcilersv1.ResourceReference{
		Name:      naming.CredentialsSecretName(oauth2Client),
		Namespace: oauth2Client.Namespace,
	}
	return nil
}

// CleanupCredentials deletes the credentials Secret when the client no longer exists.
// A Secret of the same name the operator did not create is left alone.
func (r *CredentialsReconciler) CleanupCredentials(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client) error {
	oauth2Client.Status.CredentialsSecretRef = nil

	existing, err := r.getCredentialsSecret(ctx, oauth2Client)
	if err != nil || existing == nil {
		return err
	}
	if err := r.Client.Delete(ctx, existing); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete credentials secret: %w", err)
	}
	log.FromContext(ctx).Info("Deleted credentials secret", "secret", existing.Name)
	return nil
}

// getCredentialsSecret returns the operator-managed credentials Secret, nil if it does
// not exist, or an error if a Secret of that name belongs to someone else.
func (r *CredentialsReconciler) getCredentialsSecret(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	key := client.ObjectKey{Name: naming.CredentialsSecretName(oauth2Client), Namespace: oauth2Client.Namespace}
	err := r.Client.Get(ctx, key, secret)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing secret: %w", err)
	}
	if !labels.IsManaged(secret.Labels) {
		return nil, fmt.Errorf("secret %s/%s exists and is not managed by the operator", key.Namespace, key.Name)
	}
	return secret, nil
}

// storeCredentials creates or updates the credentials Secret, owned by the OAuth2Client.
func (r *CredentialsReconciler) storeCredentials(ctx context.Context, oauth2Client *reconcilersv1.OAuth2Client, creds Credentials) error {
	if _, err := r.getCredentialsSecret(ctx, oauth2Client); err != nil {
		return err
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      naming.CredentialsSecretName(oauth2Client),
			Namespace: oauth2Client.Namespace,
		},
	}
	_, err := controllerutil.CreateOrUpdate(ctx, r.Client, secret, func() error {
		secret.Labels = labels.MergeLabels(secret.Labels,
			labels.LabelsWithComponent(oauth2Client, labels.ComponentCredentials))
		secret.Type = corev1.SecretTypeOpaque

		data := map[string][]byte{
			constants.ClientIDKey: []byte(creds.ClientID),
		}
		if creds.ClientSecret != "" {
			data[constants.ClientSecretKey] = []byte(creds.ClientSecret)
		}
		if creds.IssuerURL != "" {
			data[constants.IssuerURLKey] = []byte(creds.IssuerURL)
		}
		secret.Data = data

		return controllerutil.SetControllerReference(oauth2Client, secret, r.Scheme)
	})
	if err != nil {
		return fmt.Errorf("failed to store credentials secret: %w", err)
	}
	return nil
}

func needsSecret(oauth2Client *reconcilersv1.OAuth2Client) bool {
	accessType := provisioning.AccessType(oauth2Client.Spec.AccessType)
	return accessType == "" || accessType == provisioning.AccessTypeConfidential
}

// generateSecret generates a random secret string of the specified length.
func generateSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}
