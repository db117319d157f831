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

package keycloak

import (
	"errors"
	"net/http"

	"github.com/Nerzal/gocloak/v13"
)

// StatusCode returns the HTTP status carried by a gocloak API error, or 0.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *gocloak.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrValue gocloak.APIError
	if errors.As(err, &apiErrValue) {
		return apiErrValue.Code
	}
	return 0
}

// IsNotFound reports whether err is a Keycloak 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsConflict reports whether err is a Keycloak 409, returned when a client id or
// mapper name is already taken.
func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

// IsUnauthorized reports whether err is a Keycloak 401, typically an expired admin token.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
