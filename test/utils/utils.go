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

package utils

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" // nolint:revive,staticcheck

	"github.com/nebari-dev/oauth2client-operator/internal/issuer"
)

const (
	defaultKeycloakURL   = "http://localhost:8080/auth"
	defaultKeycloakRealm = "master"
)

// KeycloakEnv is the live Keycloak the e2e suite provisions against.
type KeycloakEnv struct {
	URL        string
	Realm      string
	AdminRealm string
	Username   string
	Password   string
}

// LoadKeycloakEnv reads the e2e Keycloak from the environment:
// - KEYCLOAK_URL (default http://localhost:8080/auth)
// - E2E_REALM: realm clients are provisioned in (default master)
// - KEYCLOAK_ADMIN_USERNAME / KEYCLOAK_ADMIN_PASSWORD (required)
// - KEYCLOAK_ADMIN_REALM (default master)
func LoadKeycloakEnv() (KeycloakEnv, error) {
	env := KeycloakEnv{
		URL:        getEnv("KEYCLOAK_URL", defaultKeycloakURL),
		Realm:      getEnv("E2E_REALM", defaultKeycloakRealm),
		AdminRealm: getEnv("KEYCLOAK_ADMIN_REALM", defaultKeycloakRealm),
		Username:   os.Getenv("KEYCLOAK_ADMIN_USERNAME"),
		Password:   os.Getenv("KEYCLOAK_ADMIN_PASSWORD"),
	}
	if env.Username == "" || env.Password == "" {
		return env, fmt.Errorf("KEYCLOAK_ADMIN_USERNAME and KEYCLOAK_ADMIN_PASSWORD must be set")
	}
	return env, nil
}

// WaitForKeycloak polls the discovery document of the realm until Keycloak answers
// or timeout expires.
func WaitForKeycloak(env KeycloakEnv, timeout time.Duration) error {
	discovery := issuer.RealmURL(env.URL, env.Realm) + "/.well-known/openid-configuration"
	client := &http.Client{Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, discovery, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("unexpected status %s", resp.Status)
		}
		_, _ = fmt.Fprintf(GinkgoWriter, "waiting for Keycloak at %s: %v\n", discovery, err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("keycloak not ready at %s: %w", discovery, err)
		case <-time.After(2 * time.Second):
		}
	}
}

// Run executes the provided command within this context
func Run(cmd *exec.Cmd) (string, error) {
	dir, _ := GetProjectDir()
	cmd.Dir = dir

	if err := os.Chdir(cmd.Dir); err != nil {
		_, _ = fmt.Fprintf(GinkgoWriter, "chdir dir: %q\n", err)
	}

	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "GO111MODULE=on")
	command := strings.Join(cmd.Args, " ")
	_, _ = fmt.Fprintf(GinkgoWriter, "running: %q\n", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%q failed with error %q: %w", command, string(output), err)
	}

	return string(output), nil
}

// GetNonEmptyLines converts given command output string into individual objects
// according to line breakers, and ignores the empty elements in it.
func GetNonEmptyLines(output string) []string {
	var res []string
	elements := strings.Split(output, "\n")
	for _, element := range elements {
		if element != "" {
			res = append(res, element)
		}
	}

	return res
}

// GetProjectDir will return the directory where the project is
func GetProjectDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return wd, fmt.Errorf("failed to get current working directory: %w", err)
	}
	wd = strings.ReplaceAll(wd, "/test/e2e", "")
	return wd, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
