//go:build e2e
// +build e2e

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

package e2e

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Nerzal/gocloak/v13"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/naming"
	"github.com/nebari-dev/oauth2client-operator/internal/issuer"
	"github.com/nebari-dev/oauth2client-operator/internal/keycloak"
	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
	"github.com/nebari-dev/oauth2client-operator/test/utils"
)

var _ = Describe("Provisioning", Ordered, func() {
	const name = "e2e-svc"

	var (
		ctx         context.Context
		provisioner *provisioning.Provisioner
		admin       *gocloak.GoCloak
		token       string
		decl        provisioning.Declaration
	)

	findClient := func() *gocloak.Client {
		clientID := provisioning.ClientID(name)
		clients, err := admin.GetClients(ctx, token, keycloakEnv.Realm, gocloak.GetClientsParams{ClientID: &clientID})
		Expect(err).NotTo(HaveOccurred())
		for _, c := range clients {
			if gocloak.PString(c.ClientID) == clientID {
				return c
			}
		}
		return nil
	}

	BeforeAll(func() {
		ctx = context.Background()

		provisioner = &provisioning.Provisioner{
			Sessions: &keycloak.Connector{
				URL:        keycloakEnv.URL,
				Username:   keycloakEnv.Username,
				Password:   keycloakEnv.Password,
				AdminRealm: keycloakEnv.AdminRealm,
			},
		}

		admin = gocloak.NewClient(keycloakEnv.URL)
		jwt, err := admin.LoginAdmin(ctx, keycloakEnv.Username, keycloakEnv.Password, keycloakEnv.AdminRealm)
		Expect(err).NotTo(HaveOccurred(), "Failed to log in to Keycloak")
		token = jwt.AccessToken

		decl = provisioning.Declaration{
			Enabled:     true,
			Realm:       keycloakEnv.Realm,
			Name:        name,
			Secret:      "e2e-s3cr3t",
			ExternalURL: "example.com",
			URLSlug:     "qhub",
			Owner:       naming.CLIOwner(name),
		}

		By("removing leftovers of a previous run")
		_, err = provisioner.Destroy(ctx, decl)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if keepClients {
			return
		}
		By("destroying the e2e client")
		if _, err := provisioner.Destroy(ctx, decl); err != nil {
			warnError(err)
		}
	})

	It("should converge the client and its group mapper", func() {
		applyCtx, cancel := context.WithTimeout(ctx, MediumTimeout)
		defer cancel()

		result, err := provisioner.Apply(applyCtx, decl)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Phase).To(Equal(provisioning.PhaseConverged))

		client := findClient()
		Expect(client).NotTo(BeNil())
		Expect(*client.RedirectURIs).To(ConsistOf("https://example.com/qhub/oauth_callback"))
		Expect(gocloak.PBool(client.StandardFlowEnabled)).To(BeTrue())
		Expect((*client.Attributes)[provisioning.OwnerAttribute]).To(Equal(naming.CLIOwner(name)))

		By("reading the group mapper")
		full, err := admin.GetClient(ctx, token, keycloakEnv.Realm, gocloak.PString(client.ID))
		Expect(err).NotTo(HaveOccurred())
		Expect(full.ProtocolMappers).NotTo(BeNil())
		var mapper *gocloak.ProtocolMapperRepresentation
		for _, m := range *full.ProtocolMappers {
			if gocloak.PString(m.Name) == provisioning.GroupMapperName {
				mapper = &m
			}
		}
		Expect(mapper).NotTo(BeNil())
		Expect(gocloak.PString(mapper.ProtocolMapper)).To(Equal(provisioning.GroupMapperType))
		Expect((*mapper.Config)["claim.name"]).To(Equal("groups"))
		Expect((*mapper.Config)["userinfo.token.claim"]).To(Equal("true"))
		Expect((*mapper.Config)["full.path"]).To(Equal("false"))
	})

	It("should make no changes on a second apply", func() {
		result, err := provisioner.Apply(ctx, decl)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Mutations).To(BeZero())
	})

	It("should expose a userinfo endpoint on the realm issuer", func() {
		realmURL := issuer.RealmURL(keycloakEnv.URL, keycloakEnv.Realm)
		metadata, err := (&issuer.Prober{}).Probe(ctx, realmURL, realmURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(metadata.UserInfoEndpoint).NotTo(BeEmpty())
	})

	It("should refuse to take over a client owned by another declaration", func() {
		foreign := decl
		foreign.Owner = "e2e/someone-else"

		result, err := provisioner.Apply(ctx, foreign)
		Expect(provisioning.KindOf(err)).To(Equal(provisioning.KindRemoteConflict))
		Expect(result.Mutations).To(BeZero())
		Expect(findClient()).NotTo(BeNil())
	})

	It("should tear everything down when the toggle is flipped off", func() {
		disabled := decl
		disabled.Enabled = false

		result, err := provisioner.Apply(ctx, disabled)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Phase).To(Equal(provisioning.PhaseAbsent))
		Expect(findClient()).To(BeNil())
	})

	It("should converge a manifest through the provision CLI", func() {
		dir := GinkgoT().TempDir()
		manifestPath := filepath.Join(dir, "clients.yaml")
		statePath := filepath.Join(dir, "state.db")
		manifest := fmt.Sprintf("realm: %s\nclients:\n  - name: %s\n    externalURL: example.com\n    urlSlug: qhub\n    secretEnv: E2E_CLIENT_SECRET\n",
			keycloakEnv.Realm, name)
		Expect(os.WriteFile(manifestPath, []byte(manifest), 0o600)).To(Succeed())

		flags := []string{
			"--keycloak-url", keycloakEnv.URL,
			"--admin-realm", keycloakEnv.AdminRealm,
			"--state", statePath,
		}

		By("applying the manifest")
		cmd := exec.Command("go", append([]string{"run", "./cmd/provision", "apply", "-f", manifestPath}, flags...)...)
		cmd.Env = append(os.Environ(), "E2E_CLIENT_SECRET=from-env")
		output, err := utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(output).To(ContainSubstring(provisioning.ClientID(name)))
		Expect(findClient()).NotTo(BeNil())

		By("reading the state file")
		cmd = exec.Command("go", "run", "./cmd/provision", "status", "--state", statePath)
		output, err = utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(utils.GetNonEmptyLines(output)).To(HaveLen(2))

		By("destroying from the state file")
		cmd = exec.Command("go", append([]string{"run", "./cmd/provision", "destroy"}, flags...)...)
		_, err = utils.Run(cmd)
		Expect(err).NotTo(HaveOccurred())
		Eventually(findClient, ShortTimeout, PollInterval).Should(BeNil())
	})
})
