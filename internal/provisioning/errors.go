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

package provisioning

import (
	"errors"
	"fmt"
)

// Kind classifies provisioning failures.
type Kind string

const (
	// KindConfigInvalid means the declaration is malformed. Fatal, not retryable.
	KindConfigInvalid Kind = "ConfigInvalid"

	// KindDependencyUnresolved means a resource was applied before what it references
	// exists. Fatal, not retryable.
	KindDependencyUnresolved Kind = "DependencyUnresolved"

	// KindRemoteConflict means the client id is held by a client of another lineage.
	// Needs an operator; never resolved by overwriting.
	KindRemoteConflict Kind = "RemoteConflict"

	// KindRemoteApplyFailure means Keycloak rejected or failed a call. Retryable by
	// re-applying the same declaration.
	KindRemoteApplyFailure Kind = "RemoteApplyFailure"
)

// Error is a classified provisioning failure.
type Error struct {
	Kind     Kind
	Resource string
	Message  string
	Err      error
}

// Sentinels for errors.Is; matching is by kind.
var (
	ErrConfigInvalid        = &Error{Kind: KindConfigInvalid}
	ErrDependencyUnresolved = &Error{Kind: KindDependencyUnresolved}
	ErrRemoteConflict       = &Error{Kind: KindRemoteConflict}
	ErrRemoteApplyFailure   = &Error{Kind: KindRemoteApplyFailure}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Resource)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether re-applying the same declaration may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindRemoteApplyFailure
}

// KindOf returns the kind of a provisioning error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a provisioning error that a blind re-apply may fix.
// Unclassified errors are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return true
}

func configInvalid(msg string) error {
	return &Error{Kind: KindConfigInvalid, Message: msg}
}

func dependencyUnresolved(resource, msg string, err error) error {
	return &Error{Kind: KindDependencyUnresolved, Resource: resource, Message: msg, Err: err}
}

func remoteConflict(resource, msg string) error {
	return &Error{Kind: KindRemoteConflict, Resource: resource, Message: msg}
}

func remoteFailure(resource, msg string, err error) error {
	return &Error{Kind: KindRemoteApplyFailure, Resource: resource, Message: msg, Err: err}
}
