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

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/Nerzal/gocloak/v13"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	reconcilersv1 "github.com/nebari-dev/oauth2client-operator/api/v1"
	"github.com/nebari-dev/oauth2client-operator/internal/config"
	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/constants"
	"github.com/nebari-dev/oauth2client-operator/internal/issuer"
	"github.com/nebari-dev/oauth2client-operator/internal/keycloak"
	"github.com/nebari-dev/oauth2client-operator/internal/keycloak/keycloaktest"
	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
)

type fakeProber struct {
	err   error
	calls []string
}

func (p *fakeProber) Probe(_ context.Context, discoveryURL, issuerURL string) (*issuer.Metadata, error) {
	p.calls = append(p.calls, discoveryURL)
	if p.err != nil {
		return nil, p.err
	}
	return &issuer.Metadata{Issuer: issuerURL, UserInfoEndpoint: issuerURL + "/protocol/openid-connect/userinfo"}, nil
}

var _ = Describe("OAuth2Client Controller", func() {
	const keycloakURL = "http://keycloak.keycloak.svc.cluster.local:8080/auth"

	var (
		ctx        context.Context
		server     *keycloaktest.Server
		prober     *fakeProber
		recorder   *record.FakeRecorder
		cfg        *config.Config
		reconciler *OAuth2ClientReconciler
	)

	newReconciler := func() *OAuth2ClientReconciler {
		return &OAuth2ClientReconciler{
			Client:   k8sClient,
			Scheme:   k8sClient.Scheme(),
			Recorder: recorder,
			Config:   cfg,
			Provisioner: &provisioning.Provisioner{
				Sessions: &keycloak.Connector{
					URL:      keycloakURL,
					Username: "admin",
					Password: "admin",
					NewAPI:   server.API(),
				},
			},
			Issuers: prober,
		}
	}

	createOAuth2Client := func(name, namespace string, mutate func(*reconcilersv1.OAuth2ClientSpec)) types.NamespacedName {
		resource := &reconcilersv1.OAuth2Client{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
			Spec: reconcilersv1.OAuth2ClientSpec{
				Name:        name,
				ExternalURL: "example.com",
				URLSlug:     name,
			},
		}
		if mutate != nil {
			mutate(&resource.Spec)
		}
		Expect(k8sClient.Create(ctx, resource)).To(Succeed())
		return types.NamespacedName{Name: name, Namespace: namespace}
	}

	reconcileOnce := func(key types.NamespacedName) (reconcile.Result, error) {
		return reconciler.Reconcile(ctx, reconcile.Request{NamespacedName: key})
	}

	fetch := func(key types.NamespacedName) *reconcilersv1.OAuth2Client {
		oauth2Client := &reconcilersv1.OAuth2Client{}
		Expect(k8sClient.Get(ctx, key, oauth2Client)).To(Succeed())
		return oauth2Client
	}

	deleteOAuth2Client := func(key types.NamespacedName) {
		oauth2Client := &reconcilersv1.OAuth2Client{}
		if err := k8sClient.Get(ctx, key, oauth2Client); errors.IsNotFound(err) {
			return
		}
		Expect(k8sClient.Delete(ctx, oauth2Client)).To(Succeed())
		_, err := reconcileOnce(key)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		server = keycloaktest.NewServer("nebari")
		prober = &fakeProber{}
		recorder = record.NewFakeRecorder(100)
		cfg = &config.Config{
			Keycloak: config.KeycloakConfig{
				URL:   keycloakURL,
				Realm: "nebari",
			},
			ReconcileTimeout: 10 * time.Second,
		}
		reconciler = newReconciler()
	})

	Context("When the oauth2client toggle is on", func() {
		const resourceName = "jupyterhub"
		var key types.NamespacedName

		BeforeEach(func() {
			key = createOAuth2Client(resourceName, "default", nil)
		})

		AfterEach(func() {
			By("Cleanup the OAuth2Client")
			deleteOAuth2Client(key)
		})

		It("should provision the client and its group mapper", func() {
			By("Reconciling the created resource")
			result, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(resyncPeriod))

			By("Checking the client in Keycloak")
			client := server.FindClient("nebari", "jupyterhub-client")
			Expect(client).NotTo(BeNil())
			Expect(gocloak.PBool(client.PublicClient)).To(BeFalse())
			Expect(*client.RedirectURIs).To(ConsistOf("https://example.com/jupyterhub/oauth_callback"))
			Expect((*client.Attributes)[provisioning.OwnerAttribute]).To(Equal("oauth2client/default/jupyterhub"))

			mappers := server.Mappers("nebari", "jupyterhub-client")
			Expect(mappers).To(HaveLen(1))
			Expect(gocloak.PString(mappers[0].Name)).To(Equal(provisioning.GroupMapperName))
			Expect((*mappers[0].Config)["userinfo.token.claim"]).To(Equal("true"))
			Expect((*mappers[0].Config)["id.token.claim"]).To(Equal("false"))

			By("Checking the status")
			oauth2Client := fetch(key)
			Expect(oauth2Client.Status.Phase).To(Equal(string(provisioning.PhaseConverged)))
			Expect(oauth2Client.Status.ClientID).To(Equal("jupyterhub-client"))
			Expect(oauth2Client.Status.ClientUUID).To(Equal(gocloak.PString(client.ID)))
			Expect(oauth2Client.Status.MapperID).To(Equal(gocloak.PString(mappers[0].ID)))
			Expect(oauth2Client.Status.IssuerURL).To(Equal(keycloakURL + "/realms/nebari"))
			Expect(meta.IsStatusConditionTrue(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeReady)).To(BeTrue())
			Expect(meta.IsStatusConditionTrue(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeClientReady)).To(BeTrue())
			Expect(meta.IsStatusConditionTrue(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeMapperReady)).To(BeTrue())
			issuerReady := meta.FindStatusCondition(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeIssuerReady)
			Expect(issuerReady).NotTo(BeNil())
			Expect(issuerReady.Reason).To(Equal(reconcilersv1.ReasonVerificationSkipped))

			By("Checking the published credentials")
			Expect(oauth2Client.Status.CredentialsSecretRef).NotTo(BeNil())
			secret := &corev1.Secret{}
			Expect(k8sClient.Get(ctx, types.NamespacedName{
				Name:      oauth2Client.Status.CredentialsSecretRef.Name,
				Namespace: "default",
			}, secret)).To(Succeed())
			Expect(string(secret.Data[constants.ClientIDKey])).To(Equal("jupyterhub-client"))
			Expect(string(secret.Data[constants.ClientSecretKey])).To(Equal(gocloak.PString(client.Secret)))
			Expect(string(secret.Data[constants.IssuerURLKey])).To(Equal(keycloakURL + "/realms/nebari"))
		})

		It("should make no changes when reconciled again", func() {
			_, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			uuid := fetch(key).Status.ClientUUID

			server.ResetMutations()
			_, err = reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())

			Expect(server.Mutations()).To(BeEmpty())
			Expect(fetch(key).Status.ClientUUID).To(Equal(uuid))
		})

		It("should tear down the client when the toggle is flipped off", func() {
			_, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())

			By("Disabling the oauth2client toggle")
			oauth2Client := fetch(key)
			oauth2Client.Spec.Enabled = new(bool)
			Expect(k8sClient.Update(ctx, oauth2Client)).To(Succeed())

			result, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(resyncPeriod))

			Expect(server.FindClient("nebari", "jupyterhub-client")).To(BeNil())

			oauth2Client = fetch(key)
			Expect(oauth2Client.Status.Phase).To(Equal(string(provisioning.PhaseAbsent)))
			Expect(oauth2Client.Status.ClientID).To(BeEmpty())
			Expect(oauth2Client.Status.ClientUUID).To(BeEmpty())
			Expect(oauth2Client.Status.MapperID).To(BeEmpty())
			Expect(oauth2Client.Status.CredentialsSecretRef).To(BeNil())

			ready := meta.FindStatusCondition(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeReady)
			Expect(ready).NotTo(BeNil())
			Expect(ready.Status).To(Equal(metav1.ConditionTrue))
			Expect(ready.Reason).To(Equal(reconcilersv1.ReasonDisabled))
			Expect(meta.IsStatusConditionFalse(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeClientReady)).To(BeTrue())

			secret := &corev1.Secret{}
			err = k8sClient.Get(ctx, types.NamespacedName{Name: "jupyterhub-oauth2-client", Namespace: "default"}, secret)
			Expect(errors.IsNotFound(err)).To(BeTrue())
		})

		It("should remove the client when the resource is deleted", func() {
			_, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(fetch(key).Finalizers).To(ContainElement(constants.OAuth2ClientFinalizer))

			deleteOAuth2Client(key)

			Expect(server.FindClient("nebari", "jupyterhub-client")).To(BeNil())
			err = k8sClient.Get(ctx, key, &reconcilersv1.OAuth2Client{})
			Expect(errors.IsNotFound(err)).To(BeTrue())
		})

		It("should retire the previous client when the name changes", func() {
			_, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(fetch(key).Status.ProvisionedName).To(Equal("jupyterhub"))

			By("Renaming the client")
			oauth2Client := fetch(key)
			oauth2Client.Spec.Name = "notebooks"
			Expect(k8sClient.Update(ctx, oauth2Client)).To(Succeed())

			_, err = reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())

			Expect(server.FindClient("nebari", "jupyterhub-client")).To(BeNil())
			Expect(server.FindClient("nebari", "notebooks-client")).NotTo(BeNil())
			Expect(server.Mappers("nebari", "notebooks-client")).To(HaveLen(1))

			oauth2Client = fetch(key)
			Expect(oauth2Client.Status.ClientID).To(Equal("notebooks-client"))
			Expect(oauth2Client.Status.ProvisionedRealm).To(Equal("nebari"))
			Expect(oauth2Client.Status.ProvisionedName).To(Equal("notebooks"))
			Expect(meta.IsStatusConditionTrue(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeReady)).To(BeTrue())

			By("Deleting the renamed resource")
			deleteOAuth2Client(key)
			Expect(server.Clients("nebari")).To(BeEmpty())
		})

		It("should retire the previous client when the realm changes", func() {
			server.AddRealm("staging")

			_, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())

			oauth2Client := fetch(key)
			oauth2Client.Spec.Realm = "staging"
			Expect(k8sClient.Update(ctx, oauth2Client)).To(Succeed())

			_, err = reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())

			Expect(server.FindClient("nebari", "jupyterhub-client")).To(BeNil())
			Expect(server.FindClient("staging", "jupyterhub-client")).NotTo(BeNil())
			Expect(fetch(key).Status.ProvisionedRealm).To(Equal("staging"))

			deleteOAuth2Client(key)
			Expect(server.Clients("staging")).To(BeEmpty())
		})

		It("should remove the provisioned client when deleted right after a rename", func() {
			_, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())

			oauth2Client := fetch(key)
			oauth2Client.Spec.Name = "notebooks"
			Expect(k8sClient.Update(ctx, oauth2Client)).To(Succeed())

			deleteOAuth2Client(key)

			Expect(server.Clients("nebari")).To(BeEmpty())
			err = k8sClient.Get(ctx, key, &reconcilersv1.OAuth2Client{})
			Expect(errors.IsNotFound(err)).To(BeTrue())
		})

		It("should report the client as not ready when re-creation fails", func() {
			_, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(fetch(key).Status.ClientUUID).NotTo(BeEmpty())

			By("Removing the client out of band")
			server.Remove("nebari", fetch(key).Status.ClientUUID)
			server.FailNext("CreateClient", keycloaktest.Unavailable("keycloak restarting"))

			_, err = reconcileOnce(key)
			Expect(err).To(HaveOccurred())

			oauth2Client := fetch(key)
			Expect(oauth2Client.Status.ClientUUID).To(BeEmpty())
			clientReady := meta.FindStatusCondition(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeClientReady)
			Expect(clientReady).NotTo(BeNil())
			Expect(clientReady.Status).To(Equal(metav1.ConditionFalse))
			Expect(clientReady.Reason).To(Equal(reconcilersv1.ReasonRemoteApplyFailure))
		})

		It("should requeue and report a retryable failure", func() {
			server.FailNext("CreateClient", keycloaktest.Unavailable("keycloak restarting"))

			_, err := reconcileOnce(key)
			Expect(err).To(HaveOccurred())
			Expect(provisioning.IsRetryable(err)).To(BeTrue())

			oauth2Client := fetch(key)
			Expect(oauth2Client.Status.Phase).To(Equal(string(provisioning.PhaseClientPending)))
			ready := meta.FindStatusCondition(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeReady)
			Expect(ready).NotTo(BeNil())
			Expect(ready.Reason).To(Equal(reconcilersv1.ReasonRemoteApplyFailure))

			By("Recovering on the next reconcile")
			_, err = reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(fetch(key).Status.Phase).To(Equal(string(provisioning.PhaseConverged)))
		})
	})

	Context("When issuer verification is enabled", func() {
		const resourceName = "grafana"
		var key types.NamespacedName

		BeforeEach(func() {
			cfg.Keycloak.VerifyIssuer = true
			cfg.Keycloak.IssuerURL = "https://auth.example.com/auth"
			key = createOAuth2Client(resourceName, "default", nil)
		})

		AfterEach(func() {
			deleteOAuth2Client(key)
		})

		It("should report the issuer as verified", func() {
			_, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())

			Expect(prober.calls).To(ConsistOf(keycloakURL + "/realms/nebari"))
			oauth2Client := fetch(key)
			Expect(oauth2Client.Status.IssuerURL).To(Equal("https://auth.example.com/auth/realms/nebari"))
			issuerReady := meta.FindStatusCondition(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeIssuerReady)
			Expect(issuerReady).NotTo(BeNil())
			Expect(issuerReady.Reason).To(Equal(reconcilersv1.ReasonIssuerVerified))
			Expect(meta.IsStatusConditionTrue(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeReady)).To(BeTrue())
		})

		It("should requeue when discovery fails", func() {
			prober.err = fmt.Errorf("connection refused")

			result, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(issuerRequeue))

			oauth2Client := fetch(key)
			Expect(meta.IsStatusConditionTrue(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeClientReady)).To(BeTrue())
			issuerReady := meta.FindStatusCondition(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeIssuerReady)
			Expect(issuerReady).NotTo(BeNil())
			Expect(issuerReady.Status).To(Equal(metav1.ConditionFalse))
			Expect(issuerReady.Reason).To(Equal(reconcilersv1.ReasonIssuerUnavailable))
			Expect(meta.IsStatusConditionFalse(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeReady)).To(BeTrue())
		})
	})

	Context("When the client id is held by another owner", func() {
		const resourceName = "dask"
		var key types.NamespacedName

		BeforeEach(func() {
			server.Seed("nebari", gocloak.Client{
				ClientID: gocloak.StringP("dask-client"),
				Attributes: &map[string]string{
					provisioning.OwnerAttribute: "provision/dask",
				},
			})
			key = createOAuth2Client(resourceName, "default", nil)
		})

		AfterEach(func() {
			deleteOAuth2Client(key)
		})

		It("should report a conflict and leave the foreign client alone", func() {
			server.ResetMutations()

			result, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(validationRequeue))
			Expect(server.Mutations()).To(BeEmpty())

			oauth2Client := fetch(key)
			ready := meta.FindStatusCondition(oauth2Client.Status.Conditions, reconcilersv1.ConditionTypeReady)
			Expect(ready).NotTo(BeNil())
			Expect(ready.Status).To(Equal(metav1.ConditionFalse))
			Expect(ready.Reason).To(Equal(reconcilersv1.ReasonRemoteConflict))

			By("Deleting the resource without touching the foreign client")
			deleteOAuth2Client(key)
			Expect(server.FindClient("nebari", "dask-client")).NotTo(BeNil())
			Expect(server.Mutations()).To(BeEmpty())
		})
	})

	Context("When the realm does not exist", func() {
		const resourceName = "argo"
		var key types.NamespacedName

		BeforeEach(func() {
			key = createOAuth2Client(resourceName, "default", func(spec *reconcilersv1.OAuth2ClientSpec) {
				spec.Realm = "missing"
			})
		})

		AfterEach(func() {
			deleteOAuth2Client(key)
		})

		It("should report an unresolved dependency", func() {
			result, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(validationRequeue))

			ready := meta.FindStatusCondition(fetch(key).Status.Conditions, reconcilersv1.ConditionTypeReady)
			Expect(ready).NotTo(BeNil())
			Expect(ready.Reason).To(Equal(reconcilersv1.ReasonDependencyUnresolved))
		})
	})

	Context("When the namespace is not opted in", func() {
		const resourceName = "conda-store"
		var key types.NamespacedName

		BeforeEach(func() {
			key = createOAuth2Client(resourceName, "unmanaged", nil)
		})

		AfterEach(func() {
			deleteOAuth2Client(key)
		})

		It("should not call Keycloak", func() {
			result, err := reconcileOnce(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(Equal(validationRequeue))
			Expect(server.Calls()).To(BeEmpty())

			ready := meta.FindStatusCondition(fetch(key).Status.Conditions, reconcilersv1.ConditionTypeReady)
			Expect(ready).NotTo(BeNil())
			Expect(ready.Reason).To(Equal(reconcilersv1.ReasonNamespaceNotOptedIn))
		})
	})

	It("should ignore a resource that no longer exists", func() {
		result, err := reconcileOnce(types.NamespacedName{Name: "gone", Namespace: "default"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(reconcile.Result{}))
	})
})
