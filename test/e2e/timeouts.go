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

import "time"

// Timeout and polling interval constants for E2E tests.
const (
	// ShortTimeout is for single admin API round trips.
	ShortTimeout = 30 * time.Second

	// MediumTimeout is for a full apply or destroy run.
	MediumTimeout = 2 * time.Minute

	// StartupTimeout bounds waiting for Keycloak to serve discovery.
	StartupTimeout = 5 * time.Minute

	// PollInterval is how frequently to poll during Eventually assertions
	PollInterval = 500 * time.Millisecond
)
