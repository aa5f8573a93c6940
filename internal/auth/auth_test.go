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

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/nbsbackup/errs"
)

func TestStaticTokensAuthenticate(t *testing.T) {
	tokens := StaticTokens{"secret123": "alice"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "PBS-Token secret123")
	authID, err := tokens.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", authID)
}

func TestStaticTokensRejectsMissingHeader(t *testing.T) {
	tokens := StaticTokens{"secret123": "alice"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := tokens.Authenticate(req)
	require.Error(t, err)
	assert.Equal(t, errs.Auth, errs.KindOf(err))
}

func TestStaticTokensRejectsUnknownToken(t *testing.T) {
	tokens := StaticTokens{"secret123": "alice"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "PBS-Token wrong")

	_, err := tokens.Authenticate(req)
	require.Error(t, err)
	assert.Equal(t, errs.Auth, errs.KindOf(err))
}
