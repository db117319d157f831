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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// OAuth2ClientSpec defines the desired state of OAuth2Client
type OAuth2ClientSpec struct {
	// Enabled is the master toggle for both the Keycloak client and its group mapper.
	// When false, neither resource exists in the realm and any previously provisioned
	// ones are torn down.
	// +kubebuilder:default=true
	// +optional
	Enabled *bool `json:"oauth2client,omitempty"`

	// Realm is the Keycloak realm the client is registered in.
	// Defaults to the realm the operator is configured with.
	// +optional
	Realm string `json:"realm,omitempty"`

	// Name is the base used for the client id ("<name>-client") and display name.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:Pattern=`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`
	Name string `json:"name"`

	// ExternalURL is the external host (optionally with port) the application is served on.
	// Example: "example.com"
	// +optional
	ExternalURL string `json:"externalURL,omitempty"`

	// URLSlug is the path segment the application is mounted under.
	// The redirect URI is composed as https://<externalURL>/<urlSlug>/oauth_callback.
	// +optional
	URLSlug string `json:"urlSlug,omitempty"`

	// DisplayName overrides the name shown in the Keycloak console.
	// +optional
	DisplayName string `json:"displayName,omitempty"`

	// AccessType is the Keycloak access type of the client.
	// +kubebuilder:validation:Enum=CONFIDENTIAL;PUBLIC;BEARER-ONLY
	// +kubebuilder:default=CONFIDENTIAL
	// +optional
	AccessType string `json:"accessType,omitempty"`

	// StandardFlowEnabled enables the authorization code flow for the client.
	// +kubebuilder:default=true
	// +optional
	StandardFlowEnabled *bool `json:"standardFlowEnabled,omitempty"`

	// LoginTheme is the Keycloak login theme used for this client.
	// +kubebuilder:default=keycloak
	// +optional
	LoginTheme string `json:"loginTheme,omitempty"`

	// ClientSecretRef references a Secret in the same namespace holding the client secret.
	// If not specified for a CONFIDENTIAL client, the operator generates one and stores it
	// in a secret named "<oauth2client-name>-oauth2-client".
	// +optional
	ClientSecretRef *SecretKeyReference `json:"clientSecretRef,omitempty"`
}

// IsEnabled reports whether the oauth2client toggle is on. An unset toggle is on.
func (s *OAuth2ClientSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SecretKeyReference selects a key of a Secret in the same namespace.
type SecretKeyReference struct {
	// Name of the Secret.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Key within the Secret. Defaults to "client-secret".
	// +optional
	Key string `json:"key,omitempty"`
}

// OAuth2ClientStatus defines the observed state of OAuth2Client.
type OAuth2ClientStatus struct {
	// Conditions represent the current state of the OAuth2Client resource.
	// Standard condition types:
	//   - "ClientReady": the Keycloak client exists and matches the spec
	//   - "MapperReady": the group membership mapper is bound to the client
	//   - "IssuerReady": the realm issuer serves OIDC discovery (when verification is enabled)
	//   - "Ready": aggregate condition
	// +listType=map
	// +listMapKey=type
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// ObservedGeneration is the most recent generation observed for this OAuth2Client.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Phase is the provisioning phase reached by the last reconciliation.
	// +kubebuilder:validation:Enum=Absent;ClientPending;ClientReady;MapperPending;Converged;Teardown
	// +optional
	Phase string `json:"phase,omitempty"`

	// ClientID is the externally visible client id.
	// +optional
	ClientID string `json:"clientID,omitempty"`

	// ClientUUID is the Keycloak internal id of the client.
	// +optional
	ClientUUID string `json:"clientUUID,omitempty"`

	// MapperID is the Keycloak internal id of the group membership mapper.
	// +optional
	MapperID string `json:"mapperID,omitempty"`

	// ProvisionedRealm and ProvisionedName identify the client last provisioned for this
	// resource. A spec that moves to another realm or name retires this one first.
	// +optional
	ProvisionedRealm string `json:"provisionedRealm,omitempty"`
	// +optional
	ProvisionedName string `json:"provisionedName,omitempty"`

	// IssuerURL is the OIDC issuer of the realm the client lives in.
	// +optional
	IssuerURL string `json:"issuerURL,omitempty"`

	// CredentialsSecretRef identifies the Secret holding the published client credentials.
	// +optional
	CredentialsSecretRef *ResourceReference `json:"credentialsSecretRef,omitempty"`
}

// ResourceReference identifies a Kubernetes resource.
type ResourceReference struct {
	// Name of the resource.
	Name string `json:"name"`

	// Namespace of the resource (if namespaced).
	// +optional
	Namespace string `json:"namespace,omitempty"`
}

// Condition types for OAuth2Client
const (
	// ConditionTypeClientReady indicates that the Keycloak client exists and matches the spec.
	ConditionTypeClientReady = "ClientReady"

	// ConditionTypeMapperReady indicates that the group membership mapper is bound to the client.
	ConditionTypeMapperReady = "MapperReady"

	// ConditionTypeIssuerReady indicates that the realm issuer serves an OIDC discovery document.
	ConditionTypeIssuerReady = "IssuerReady"

	// ConditionTypeReady is an aggregate condition indicating all components are ready.
	ConditionTypeReady = "Ready"
)

// Condition reasons
const (
	ReasonReconciling          = "Reconciling"
	ReasonReconcileSuccess     = "ReconcileSuccess"
	ReasonDisabled             = "Disabled"
	ReasonConverged            = "Converged"
	ReasonConfigInvalid        = "ConfigInvalid"
	ReasonDependencyUnresolved = "DependencyUnresolved"
	ReasonRemoteConflict       = "RemoteConflict"
	ReasonRemoteApplyFailure   = "RemoteApplyFailure"
	ReasonNamespaceNotOptedIn  = "NamespaceNotOptedIn"
	ReasonSecretNotFound       = "SecretNotFound"
	ReasonIssuerUnavailable    = "IssuerUnavailable"
	ReasonIssuerVerified       = "IssuerVerified"
	ReasonVerificationSkipped  = "VerificationSkipped"
)

// Event reasons for recording Kubernetes events
const (
	EventReasonValidationFailed  = "ValidationFailed"
	EventReasonValidationSuccess = "ValidationSuccess"
	EventReasonNamespaceNotOptIn = "NamespaceNotOptedIn"
	EventReasonClientProvisioned = "ClientProvisioned"
	EventReasonProvisionFailed   = "ProvisionFailed"
	EventReasonClientConflict    = "ClientConflict"
	EventReasonClientRemoved     = "ClientRemoved"
	EventReasonSecretGenerated   = "SecretGenerated"
	EventReasonIssuerUnavailable = "IssuerUnavailable"
	EventReasonCleanup           = "Cleanup"
)

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=oac
// +kubebuilder:printcolumn:name="Client",type=string,JSONPath=`.status.clientID`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// OAuth2Client is the Schema for the oauth2clients API.
// It declares a Keycloak OIDC client and the group membership mapper bound to it.
type OAuth2Client struct {
	metav1.TypeMeta `json:",inline"`

	// metadata is a standard object metadata
	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// spec defines the desired state of OAuth2Client
	// +required
	Spec OAuth2ClientSpec `json:"spec"`

	// status defines the observed state of OAuth2Client
	// +optional
	Status OAuth2ClientStatus `json:"status,omitzero"`
}

// +kubebuilder:object:root=true

// OAuth2ClientList contains a list of OAuth2Client
type OAuth2ClientList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []OAuth2Client `json:"items"`
}

func init() {
	SchemeBuilder.Register(&OAuth2Client{}, &OAuth2ClientList{})
}
