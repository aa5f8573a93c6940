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

// Package wire implements the HTTP/1.1-Upgrade-to-HTTP/2 backup protocol
// (C6): the RPC command set dispatched over one upgraded connection.
//
// Request parameters travel in the URL query string rather than a JSON
// request body, matching the reference client's own H2 request builder
// (every RPC, including the ones carrying a raw chunk body, encodes its
// metadata as query parameters and reserves the body for octet-stream
// payloads or leaves it empty). Array-valued parameters (digest-list,
// offset-list) are JSON-encoded within their single query
// value for simplicity; everything else is a plain scalar.
package wire

import (
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/dolthub/nbsbackup/errs"
)

// Upgrade protocol name negotiated by the HTTP/1.1 Upgrade handshake.
const UpgradeProtocol = "proxmox-backup-protocol-v1"

// RPC paths, relative to the upgraded session.
const (
	PathDynamicIndex        = "dynamic_index"
	PathFixedIndex          = "fixed_index"
	PathDynamicChunk        = "dynamic_chunk"
	PathFixedChunk          = "fixed_chunk"
	PathDynamicClose        = "dynamic_close"
	PathFixedClose          = "fixed_close"
	PathBlob                = "blob"
	PathPrevious            = "previous"
	PathPreviousBackupTime  = "previous_backup_time"
	PathFinish              = "finish"
	PathSpeedtest           = "speedtest"
)

// WIDResponse is returned by the two index-create RPCs.
type WIDResponse struct {
	WID uint64 `json:"wid"`
}

// PreviousBackupTimeResponse is returned by GET previous_backup_time.
type PreviousBackupTimeResponse struct {
	BackupTime *int64 `json:"backup-time"`
}

// ErrorResponse is the short JSON body accompanying any 4xx/5xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

func queryUint64(q url.Values, key string) (uint64, error) {
	s := q.Get(key)
	if s == "" {
		return 0, errs.Newf(errs.Argument, "missing query parameter %q", key)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errs.Wrapf(errs.Argument, err, "parsing query parameter %q", key)
	}
	return v, nil
}

func queryUint64List(q url.Values, key string) ([]uint64, error) {
	s := q.Get(key)
	if s == "" {
		return nil, nil
	}
	var out []uint64
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, errs.Wrapf(errs.Argument, err, "parsing query parameter %q", key)
	}
	return out, nil
}

func queryStringList(q url.Values, key string) ([]string, error) {
	s := q.Get(key)
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, errs.Wrapf(errs.Argument, err, "parsing query parameter %q", key)
	}
	return out, nil
}

func encodeUint64List(vs []uint64) string {
	b, _ := json.Marshal(vs)
	return string(b)
}

func encodeStringList(vs []string) string {
	b, _ := json.Marshal(vs)
	return string(b)
}
