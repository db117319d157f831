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

package labels

import (
	reconcilersv1 "github.com/nebari-dev/oauth2client-operator/api/v1"
)

const (
	// ManagedByLabel marks resources created by the operator.
	ManagedByLabel = "app.kubernetes.io/managed-by"

	// ManagedByValue is the value of ManagedByLabel on operator-created resources.
	ManagedByValue = "oauth2client-operator"

	// ComponentCredentials is the component label of the published credentials secret.
	ComponentCredentials = "credentials"
)

// StandardLabels returns the standard set of labels for OAuth2Client-owned resources.
// These labels follow Kubernetes recommended label conventions.
func StandardLabels(oauth2Client *reconcilersv1.OAuth2Client) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":      "oauth2client",
		"app.kubernetes.io/instance":  oauth2Client.Name,
		ManagedByLabel:                ManagedByValue,
		"app.kubernetes.io/component": "client",
	}
}

// LabelsWithComponent returns standard labels with a custom component value.
func LabelsWithComponent(oauth2Client *reconcilersv1.OAuth2Client, component string) map[string]string {
	labels := StandardLabels(oauth2Client)
	labels["app.kubernetes.io/component"] = component
	return labels
}

// IsManaged reports whether labels mark a resource as created by the operator.
func IsManaged(labels map[string]string) bool {
	return labels[ManagedByLabel] == ManagedByValue
}

// MergeLabels merges multiple label maps, with later maps taking precedence.
func MergeLabels(labelMaps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, labels := range labelMaps {
		for k, v := range labels {
			result[k] = v
		}
	}
	return result
}
