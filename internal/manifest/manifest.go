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

package manifest

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
)

// Manifest is a set of client declarations converged together by the provision CLI.
//
// Example:
//
//	realm: qhub
//	clients:
//	  - name: svc
//	    externalURL: example.com
//	    urlSlug: qhub
//	    secretEnv: SVC_CLIENT_SECRET
type Manifest struct {
	// Realm is used by every client that does not name its own.
	Realm string `json:"realm,omitempty"`

	Clients []Client `json:"clients"`
}

// Client declares one Keycloak client and its group mapper.
type Client struct {
	// Enabled is the oauth2client toggle. Unset means enabled.
	Enabled *bool `json:"oauth2client,omitempty"`

	Realm       string `json:"realm,omitempty"`
	Name        string `json:"name"`
	ExternalURL string `json:"externalURL,omitempty"`
	URLSlug     string `json:"urlSlug,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AccessType  string `json:"accessType,omitempty"`
	LoginTheme  string `json:"loginTheme,omitempty"`

	StandardFlowEnabled *bool `json:"standardFlowEnabled,omitempty"`

	// Secret is the client secret inline. SecretEnv names an environment variable
	// holding it instead; only one of the two may be set.
	Secret    string `json:"secret,omitempty"`
	SecretEnv string `json:"secretEnv,omitempty"`
}

// IsEnabled reports whether the oauth2client toggle is on.
func (c Client) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.UnmarshalStrict(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Declarations turns the manifest into provisioning declarations, one per client.
// owner derives the lineage recorded on each client from its name.
// Two clients with the same name in the same realm are rejected.
func (m *Manifest) Declarations(owner func(name string) string) ([]provisioning.Declaration, error) {
	seen := map[string]bool{}
	decls := make([]provisioning.Declaration, 0, len(m.Clients))

	for i, c := range m.Clients {
		if c.Name == "" {
			return nil, fmt.Errorf("clients[%d]: name is required", i)
		}

		realm := c.Realm
		if realm == "" {
			realm = m.Realm
		}
		key := realm + "/" + c.Name
		if seen[key] {
			return nil, fmt.Errorf("clients[%d]: duplicate client %s in realm %s", i, c.Name, realm)
		}
		seen[key] = true

		secret, err := c.secret()
		if err != nil {
			return nil, fmt.Errorf("clients[%d] (%s): %w", i, c.Name, err)
		}

		decls = append(decls, provisioning.Declaration{
			Enabled:             c.IsEnabled(),
			Realm:               realm,
			Name:                c.Name,
			Secret:              secret,
			ExternalURL:         c.ExternalURL,
			URLSlug:             c.URLSlug,
			DisplayName:         c.DisplayName,
			AccessType:          provisioning.AccessType(c.AccessType),
			StandardFlowEnabled: c.StandardFlowEnabled,
			LoginTheme:          c.LoginTheme,
			Owner:               owner(c.Name),
		})
	}

	return decls, nil
}

func (c Client) secret() (string, error) {
	if c.SecretEnv == "" {
		return c.Secret, nil
	}
	if c.Secret != "" {
		return "", fmt.Errorf("secret and secretEnv are mutually exclusive")
	}
	value, ok := os.LookupEnv(c.SecretEnv)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", c.SecretEnv)
	}
	return value, nil
}
