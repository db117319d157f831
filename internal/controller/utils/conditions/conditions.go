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

package conditions

import (
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	reconcilersv1 "github.com/nebari-dev/oauth2client-operator/api/v1"
)

// SetCondition sets or updates a condition in the OAuth2Client status.
// If a condition with the same type already exists, it will be updated.
// The LastTransitionTime is only updated when the status changes.
func SetCondition(oauth2Client *reconcilersv1.OAuth2Client, conditionType string,
	status metav1.ConditionStatus, reason, message string) {

	existingCondition := meta.FindStatusCondition(oauth2Client.Status.Conditions, conditionType)

	condition := metav1.Condition{
		Type:               conditionType,
		Status:             status,
		ObservedGeneration: oauth2Client.Generation,
		Reason:             reason,
		Message:            message,
	}

	// A zero LastTransitionTime makes meta.SetStatusCondition keep the existing one.
	if existingCondition == nil || existingCondition.Status != status {
		condition.LastTransitionTime = metav1.Now()
	}

	meta.SetStatusCondition(&oauth2Client.Status.Conditions, condition)
}

// GetCondition returns the condition with the given type from the OAuth2Client status.
// Returns nil if the condition does not exist.
func GetCondition(oauth2Client *reconcilersv1.OAuth2Client, conditionType string) *metav1.Condition {
	return meta.FindStatusCondition(oauth2Client.Status.Conditions, conditionType)
}

// IsConditionTrue checks if a condition exists and is set to True.
func IsConditionTrue(oauth2Client *reconcilersv1.OAuth2Client, conditionType string) bool {
	condition := GetCondition(oauth2Client, conditionType)
	return condition != nil && condition.Status == metav1.ConditionTrue
}

// IsConditionFalse checks if a condition exists and is set to False.
func IsConditionFalse(oauth2Client *reconcilersv1.OAuth2Client, conditionType string) bool {
	condition := GetCondition(oauth2Client, conditionType)
	return condition != nil && condition.Status == metav1.ConditionFalse
}

// AllTrue reports whether every listed condition exists and is True.
func AllTrue(oauth2Client *reconcilersv1.OAuth2Client, conditionTypes ...string) bool {
	for _, conditionType := range conditionTypes {
		if !IsConditionTrue(oauth2Client, conditionType) {
			return false
		}
	}
	return true
}
