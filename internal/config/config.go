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

package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	// DefaultReconcileTimeout bounds the Keycloak calls of a single reconciliation.
	DefaultReconcileTimeout = 30 * time.Second

	// DefaultMaxConcurrentReconciles is how many OAuth2Clients are reconciled in parallel.
	DefaultMaxConcurrentReconciles = 4
)

// Config holds all operator configuration
type Config struct {
	Keycloak KeycloakConfig

	// ReconcileTimeout bounds the remote calls of one reconciliation.
	ReconcileTimeout time.Duration

	// MaxConcurrentReconciles is passed to the controller options.
	MaxConcurrentReconciles int
}

// LoadConfig loads all configuration from environment variables and secrets
func LoadConfig(ctx context.Context, k8sClient client.Client) (*Config, error) {
	keycloakConfig := LoadKeycloakConfig()

	if err := keycloakConfig.LoadKeycloakCredentials(ctx, k8sClient); err != nil {
		return nil, err
	}

	return &Config{
		Keycloak:                keycloakConfig,
		ReconcileTimeout:        getEnvDuration("RECONCILE_TIMEOUT", DefaultReconcileTimeout),
		MaxConcurrentReconciles: getEnvInt("MAX_CONCURRENT_RECONCILES", DefaultMaxConcurrentReconciles),
	}, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable ("45s", "2m") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
