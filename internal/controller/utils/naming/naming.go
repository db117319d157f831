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

package naming

import (
	"fmt"

	reconcilersv1 "github.com/nebari-dev/oauth2client-operator/api/v1"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/constants"
	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
)

// ResourceName generates a name for a resource owned by an OAuth2Client.
// Pattern: <oauth2client-name>-<resourceType>
func ResourceName(oauth2Client *reconcilersv1.OAuth2Client, resourceType string) string {
	return fmt.Sprintf("%s-%s", oauth2Client.Name, resourceType)
}

// CredentialsSecretName generates the name for the published credentials secret.
// Pattern: <oauth2client-name>-oauth2-client
func CredentialsSecretName(oauth2Client *reconcilersv1.OAuth2Client) string {
	return ResourceName(oauth2Client, constants.CredentialsSecretSuffix)
}

// ClientID generates the Keycloak client id for an OAuth2Client.
// Pattern: <spec.name>-client
func ClientID(oauth2Client *reconcilersv1.OAuth2Client) string {
	return provisioning.ClientID(oauth2Client.Spec.Name)
}

// Owner is the lineage recorded on the Keycloak client.
// Pattern: oauth2client/<namespace>/<oauth2client-name>
func Owner(oauth2Client *reconcilersv1.OAuth2Client) string {
	return fmt.Sprintf("%s/%s/%s", constants.OperatorOwnerPrefix, oauth2Client.Namespace, oauth2Client.Name)
}

// CLIOwner is the lineage recorded on clients the provision CLI applies.
// Pattern: provision/<name>
func CLIOwner(name string) string {
	return fmt.Sprintf("%s/%s", constants.CLIOwnerPrefix, name)
}
