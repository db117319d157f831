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
	"net/url"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Validate checks the declaration before any remote call is made.
// The identity fields (name, realm) are always required so a disabled declaration
// can still locate what to tear down. Everything else is only checked when enabled.
func (d Declaration) Validate() error {
	errs := d.validateIdentity()

	if d.Enabled {
		errs = append(errs, d.validateRedirect()...)

		switch d.AccessType {
		case "", AccessTypeConfidential:
			if d.Secret == "" {
				errs = append(errs, field.Required(field.NewPath("secret"),
					"client secret is required for CONFIDENTIAL clients"))
			}
		case AccessTypePublic, AccessTypeBearerOnly:
		default:
			errs = append(errs, field.NotSupported(field.NewPath("accessType"), d.AccessType,
				[]AccessType{AccessTypeConfidential, AccessTypePublic, AccessTypeBearerOnly}))
		}
	}

	if len(errs) > 0 {
		return configInvalid(errs.ToAggregate().Error())
	}
	return nil
}

func (d Declaration) validateIdentity() field.ErrorList {
	var errs field.ErrorList

	namePath := field.NewPath("name")
	if d.Name == "" {
		errs = append(errs, field.Required(namePath, "name is required"))
	} else {
		for _, msg := range validation.IsDNS1123Label(d.Name) {
			errs = append(errs, field.Invalid(namePath, d.Name, msg))
		}
	}

	if d.Realm == "" {
		errs = append(errs, field.Required(field.NewPath("realm"), "realm is required"))
	}

	return errs
}

func (d Declaration) validateRedirect() field.ErrorList {
	var errs field.ErrorList

	externalPath := field.NewPath("externalURL")
	switch {
	case d.ExternalURL == "":
		errs = append(errs, field.Required(externalPath, "external URL is required when enabled"))
	case strings.Contains(d.ExternalURL, "://") || strings.ContainsAny(strings.TrimSuffix(d.ExternalURL, "/"), "/?#"):
		errs = append(errs, field.Invalid(externalPath, d.ExternalURL,
			"must be a host with an optional port, without scheme or path"))
	}

	if strings.Trim(d.URLSlug, "/") == "" {
		errs = append(errs, field.Required(field.NewPath("urlSlug"), "url slug is required when enabled"))
	}

	if len(errs) > 0 {
		return errs
	}

	redirect := RedirectURI(d.ExternalURL, d.URLSlug)
	if msg := checkAbsoluteURI(redirect); msg != "" {
		errs = append(errs, field.Invalid(field.NewPath("redirectURIs").Index(0), redirect, msg))
	}
	return errs
}

// checkAbsoluteURI returns a description of what is wrong with uri, or "".
func checkAbsoluteURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return err.Error()
	}
	if !u.IsAbs() || u.Hostname() == "" {
		return "must be an absolute URI with a host"
	}
	if u.Scheme != "https" {
		return "must use https"
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return err.Error()
		}
		if msgs := validation.IsValidPortNum(n); len(msgs) > 0 {
			return msgs[0]
		}
	}
	return ""
}
