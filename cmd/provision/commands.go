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
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/nebari-dev/oauth2client-operator/internal/controller/utils/naming"
	"github.com/nebari-dev/oauth2client-operator/internal/keycloak"
	"github.com/nebari-dev/oauth2client-operator/internal/manifest"
	"github.com/nebari-dev/oauth2client-operator/internal/provisioning"
	"github.com/nebari-dev/oauth2client-operator/internal/runner"
	"github.com/nebari-dev/oauth2client-operator/internal/state"
)

const stateLockTimeout = 5 * time.Second

type options struct {
	keycloakURL string
	username    string
	password    string
	adminRealm  string

	manifestPath string
	statePath    string
	timeout      time.Duration
	concurrency  int
	verbose      bool
	prune        bool

	// newAPI overrides the Keycloak admin client, used by tests.
	newAPI func(url string) keycloak.API
}

func newRootCommand() *cobra.Command {
	return newCommand(&options{})
}

func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "provision",
		Short:        "Provision Keycloak OIDC clients and their group mappers",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zapcore.InfoLevel
			if opts.verbose {
				level = zapcore.DebugLevel
			}
			ctrl.SetLogger(zap.New(
				zap.WriteTo(cmd.ErrOrStderr()),
				zap.UseDevMode(opts.verbose),
				zap.Level(level),
				zap.Encoder(zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
					MessageKey:  "msg",
					LevelKey:    "level",
					TimeKey:     "ts",
					EncodeLevel: zapcore.CapitalLevelEncoder,
					EncodeTime:  zapcore.ISO8601TimeEncoder,
				})),
			))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.keycloakURL, "keycloak-url", envOr("KEYCLOAK_URL", "http://localhost:8080/auth"), "Base URL of the Keycloak server")
	flags.StringVar(&opts.username, "username", os.Getenv("KEYCLOAK_ADMIN_USERNAME"), "Keycloak admin username")
	flags.StringVar(&opts.password, "password", os.Getenv("KEYCLOAK_ADMIN_PASSWORD"), "Keycloak admin password")
	flags.StringVar(&opts.adminRealm, "admin-realm", envOr("KEYCLOAK_ADMIN_REALM", keycloak.DefaultAdminRealm), "Realm the admin user authenticates against")
	flags.StringVar(&opts.statePath, "state", "provision.db", "Path of the local state file")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Timeout for the whole run")
	flags.IntVar(&opts.concurrency, "concurrency", runner.DefaultConcurrency, "How many clients are converged in parallel")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newApplyCommand(opts), newDestroyCommand(opts), newStatusCommand(opts))
	return cmd
}

func newApplyCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge Keycloak to the clients declared in a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			decls, err := opts.loadDeclarations()
			if err != nil {
				return err
			}
			return opts.run(cmd, decls, false)
		},
	}
	cmd.Flags().StringVarP(&opts.manifestPath, "file", "f", "", "Manifest of client declarations")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().BoolVar(&opts.prune, "prune", true, "Destroy clients in the state file that the manifest no longer declares")
	return cmd
}

func newDestroyCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Remove the clients of a manifest, or every client in the state file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.manifestPath != "" {
				decls, err := opts.loadDeclarations()
				if err != nil {
					return err
				}
				return opts.run(cmd, decls, true)
			}

			ledger, err := state.Open(opts.statePath, stateLockTimeout)
			if err != nil {
				return err
			}
			records, err := ledger.List()
			_ = ledger.Close()
			if err != nil {
				return err
			}
			return opts.run(cmd, runner.Declarations(records, naming.CLIOwner), true)
		},
	}
	cmd.Flags().StringVarP(&opts.manifestPath, "file", "f", "", "Manifest of client declarations (defaults to the state file)")
	return cmd
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the last runs recorded in the state file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := state.Open(opts.statePath, stateLockTimeout)
			if err != nil {
				return err
			}
			defer ledger.Close()

			records, err := ledger.List()
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

func (o *options) loadDeclarations() ([]provisioning.Declaration, error) {
	m, err := manifest.Load(o.manifestPath)
	if err != nil {
		return nil, err
	}
	return m.Declarations(naming.CLIOwner)
}

func (o *options) run(cmd *cobra.Command, decls []provisioning.Declaration, destroy bool) error {
	if o.username == "" || o.password == "" {
		return fmt.Errorf("keycloak admin credentials not configured. Set --username/--password or KEYCLOAK_ADMIN_USERNAME/PASSWORD")
	}

	ledger, err := state.Open(o.statePath, stateLockTimeout)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	ctx = ctrl.LoggerInto(ctx, ctrl.Log.WithName("provision"))

	r := &runner.Runner{
		Provisioner: &provisioning.Provisioner{
			Sessions: &keycloak.Connector{
				URL:        o.keycloakURL,
				Username:   o.username,
				Password:   o.password,
				AdminRealm: o.adminRealm,
				NewAPI:     o.newAPI,
			},
		},
		Ledger:      ledger,
		Concurrency: o.concurrency,
	}

	var outcomes []runner.Outcome
	if destroy {
		outcomes, err = r.Destroy(ctx, decls)
	} else {
		outcomes, err = r.Apply(ctx, decls)
		if o.prune {
			pruned, pruneErr := r.Prune(ctx, decls, naming.CLIOwner)
			outcomes = append(outcomes, pruned...)
			err = errors.Join(err, pruneErr)
		}
	}
	printOutcomes(cmd.OutOrStdout(), outcomes)
	return err
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
