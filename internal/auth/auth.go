// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth defines the server's Authenticator collaborator interface.
// Real authentication (TLS client certs, tickets, ACLs) is out of scope;
// this package supplies only a static-token stand-in suitable for tests
// and local runs.
package auth

import (
	"net/http"
	"strings"

	"github.com/dolthub/nbsbackup/errs"
)

// Authenticator resolves an inbound request to the identity that will own
// the backup group it is about to start. Session.Start uses the returned
// ID for the per-group ownership check of §5.
type Authenticator interface {
	Authenticate(r *http.Request) (authID string, err error)
}

// StaticTokens is a trivial Authenticator backed by a fixed token-to-ID
// map, read from an "Authorization: PBS-Token <token>" header. It exists
// for tests and local runs only; it performs no TLS verification and
// holds no expiry.
type StaticTokens map[string]string

// Authenticate looks up the bearer token against the map, failing with an
// Auth-kind error if it is missing or unrecognized.
func (s StaticTokens) Authenticate(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	const prefix = "PBS-Token "
	if !strings.HasPrefix(h, prefix) {
		return "", errs.New(errs.Auth, "missing or malformed Authorization header")
	}
	token := strings.TrimPrefix(h, prefix)
	authID, ok := s[token]
	if !ok {
		return "", errs.New(errs.Auth, "unrecognized token")
	}
	return authID, nil
}
