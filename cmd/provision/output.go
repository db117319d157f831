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

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
	"github.com/nebari-dev/oauth2client-operator/internal/runner"
	"github.com/nebari-dev/oauth2client-operator/internal/state"
)

func printOutcomes(out io.Writer, outcomes []runner.Outcome) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REALM\tCLIENT\tPHASE\tCHANGES\tERROR")
	for _, o := range outcomes {
		errMsg := ""
		if o.Err != nil {
			errMsg = string(provisioning.KindOf(o.Err))
			if errMsg == "" {
				errMsg = o.Err.Error()
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", o.Declaration.Realm, provisioning.ClientID(o.Declaration.Name),
			o.Result.Phase, o.Result.Mutations, errMsg)
	}
	_ = w.Flush()
}

func printRecords(out io.Writer, records []state.Record) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REALM\tCLIENT\tPHASE\tUUID\tMAPPER\tAPPLIED\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", rec.Realm, rec.ClientID, rec.Phase, rec.UUID, rec.MapperID,
			rec.AppliedAt.Format(time.RFC3339), rec.Error)
	}
	_ = w.Flush()
}
