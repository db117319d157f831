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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
)

func testOwner(name string) string {
	return "provision/" + name
}

func TestParse(t *testing.T) {
	data := []byte(`
realm: qhub
clients:
  - name: svc
    externalURL: example.com
    urlSlug: qhub
    secret: s3cr3t
  - name: dask
    oauth2client: false
    realm: other
    accessType: PUBLIC
    standardFlowEnabled: false
`)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Realm != "qhub" {
		t.Errorf("expected realm qhub, got %q", m.Realm)
	}
	if len(m.Clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(m.Clients))
	}
	if !m.Clients[0].IsEnabled() {
		t.Error("expected unset toggle to be enabled")
	}
	if m.Clients[1].IsEnabled() {
		t.Error("expected explicit false toggle to be disabled")
	}
	if m.Clients[1].StandardFlowEnabled == nil || *m.Clients[1].StandardFlowEnabled {
		t.Error("expected standardFlowEnabled to be false")
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
clients:
  - name: svc
    redirectURI: https://example.com/cb
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestDeclarations(t *testing.T) {
	t.Setenv("SVC_CLIENT_SECRET", "from-env")

	m := &Manifest{
		Realm: "qhub",
		Clients: []Client{
			{Name: "svc", ExternalURL: "example.com", URLSlug: "qhub", SecretEnv: "SVC_CLIENT_SECRET"},
			{Name: "grafana", Realm: "monitoring", ExternalURL: "example.com", URLSlug: "grafana", Secret: "inline"},
		},
	}

	decls, err := m.Declarations(testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decls) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(decls))
	}

	svc := decls[0]
	if !svc.Enabled || svc.Realm != "qhub" || svc.Secret != "from-env" || svc.Owner != "provision/svc" {
		t.Errorf("unexpected svc declaration: %+v", svc)
	}
	if got := svc.ClientSpec().RedirectURIs; len(got) != 1 || got[0] != "https://example.com/qhub/oauth_callback" {
		t.Errorf("unexpected redirect URIs: %v", got)
	}

	grafana := decls[1]
	if grafana.Realm != "monitoring" || grafana.Secret != "inline" {
		t.Errorf("unexpected grafana declaration: %+v", grafana)
	}
	if grafana.AccessType != "" {
		t.Errorf("expected access type left for defaulting, got %q", grafana.AccessType)
	}
	if grafana.ClientSpec().AccessType != provisioning.AccessTypeConfidential {
		t.Errorf("expected CONFIDENTIAL default, got %q", grafana.ClientSpec().AccessType)
	}
}

func TestDeclarations_Errors(t *testing.T) {
	os.Unsetenv("PROVISION_TEST_UNSET")

	tests := []struct {
		name    string
		clients []Client
		wantErr string
	}{
		{
			name:    "missing name",
			clients: []Client{{ExternalURL: "example.com"}},
			wantErr: "name is required",
		},
		{
			name:    "duplicate in realm",
			clients: []Client{{Name: "svc"}, {Name: "svc"}},
			wantErr: "duplicate client svc",
		},
		{
			name:    "secret and secretEnv",
			clients: []Client{{Name: "svc", Secret: "a", SecretEnv: "HOME"}},
			wantErr: "mutually exclusive",
		},
		{
			name:    "unset secretEnv",
			clients: []Client{{Name: "svc", SecretEnv: "PROVISION_TEST_UNSET"}},
			wantErr: "PROVISION_TEST_UNSET is not set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Realm: "qhub", Clients: tt.clients}
			_, err := m.Declarations(testOwner)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestDeclarations_SameNameInDifferentRealms(t *testing.T) {
	m := &Manifest{
		Realm:   "qhub",
		Clients: []Client{{Name: "svc"}, {Name: "svc", Realm: "other"}},
	}
	if _, err := m.Declarations(testOwner); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.yaml")
	if err := os.WriteFile(path, []byte("clients:\n  - name: svc\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Clients) != 1 || m.Clients[0].Name != "svc" {
		t.Errorf("unexpected manifest: %+v", m)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
