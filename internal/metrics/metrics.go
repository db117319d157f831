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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// ConvergeTotal counts converge steps per resource and outcome.
	// outcome is the operation applied (created, updated, deleted, unchanged)
	// or the error kind that stopped the step.
	ConvergeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth2client_converge_total",
		Help: "Total number of converge steps by resource and outcome",
	}, []string{"resource", "outcome"})

	// MutationsTotal counts state-changing calls made against Keycloak.
	MutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth2client_mutations_total",
		Help: "Total number of Keycloak mutations by resource and operation",
	}, []string{"resource", "operation"})
)

func init() {
	ctrlmetrics.Registry.MustRegister(ConvergeTotal, MutationsTotal)
}

// RecordConverge counts one converge step.
func RecordConverge(resource, outcome string) {
	ConvergeTotal.WithLabelValues(resource, outcome).Inc()
}

// RecordMutation counts one Keycloak mutation.
func RecordMutation(resource, operation string) {
	MutationsTotal.WithLabelValues(resource, operation).Inc()
}
