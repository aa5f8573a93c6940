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

package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/server/wire"
	"github.com/dolthub/nbsbackup/store/hash"
)

func drainError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	defer resp.Body.Close()
	var e wire.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&e)
	kind := errs.KindFromHTTPStatus(resp.StatusCode)
	if e.Message != "" {
		return errs.New(kind, e.Message)
	}
	return errs.Newf(kind, "RPC failed with status %s", resp.Status)
}

// CreateDynamicIndex calls POST dynamic_index and returns the writer id.
func (c *Conn) CreateDynamicIndex(ctx context.Context, archiveName string) (uint64, error) {
	q := url.Values{"archive-name": {archiveName}}
	resp, err := c.Do(ctx, http.MethodPost, wire.PathDynamicIndex, q, nil, 0)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := drainError(resp); err != nil {
		return 0, err
	}
	var out wire.WIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errs.Wrap(errs.IO, err)
	}
	return out.WID, nil
}

// CreateFixedIndex calls POST fixed_index, optionally requesting the
// server reuse a previous snapshot's same-named index (§4.7's
// fixed-mode variation).
func (c *Conn) CreateFixedIndex(ctx context.Context, archiveName string, size, chunkSize uint64, reuseCsum *hash.Hash) (uint64, error) {
	q := url.Values{
		"archive-name": {archiveName},
		"size":         {strconv.FormatUint(size, 10)},
		"chunk-size":   {strconv.FormatUint(chunkSize, 10)},
	}
	if reuseCsum != nil {
		q.Set("reuse-csum", reuseCsum.String())
	}
	resp, err := c.Do(ctx, http.MethodPost, wire.PathFixedIndex, q, nil, 0)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := drainError(resp); err != nil {
		return 0, err
	}
	var out wire.WIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errs.Wrap(errs.IO, err)
	}
	return out.WID, nil
}

// UploadChunk calls POST dynamic_chunk/fixed_chunk with the chunk's
// encoded blob bytes as the request body.
func (c *Conn) UploadChunk(ctx context.Context, dynamic bool, digest hash.Hash, blob []byte) error {
	path := wire.PathFixedChunk
	if dynamic {
		path = wire.PathDynamicChunk
	}
	q := url.Values{
		"digest":       {digest.String()},
		"encoded-size": {strconv.Itoa(len(blob))},
	}
	resp, err := c.Do(ctx, http.MethodPost, path, q, bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return drainError(resp)
}

// AppendDynamic calls PUT dynamic_index with a batch of (end-offset,
// digest) entries, preserving the caller's ordering.
func (c *Conn) AppendDynamic(ctx context.Context, wid uint64, endOffsets []uint64, digests []hash.Hash) error {
	digestStrs := make([]string, len(digests))
	for i, d := range digests {
		digestStrs[i] = d.String()
	}
	q := url.Values{
		"wid":         {strconv.FormatUint(wid, 10)},
		"offset-list": {encodeUint64List(endOffsets)},
		"digest-list": {encodeStringList(digestStrs)},
	}
	resp, err := c.Do(ctx, http.MethodPut, wire.PathDynamicIndex, q, nil, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return drainError(resp)
}

// AppendFixed calls PUT fixed_index with a batch of (position, digest)
// entries.
func (c *Conn) AppendFixed(ctx context.Context, wid uint64, positions []uint64, digests []hash.Hash) error {
	digestStrs := make([]string, len(digests))
	for i, d := range digests {
		digestStrs[i] = d.String()
	}
	q := url.Values{
		"wid":         {strconv.FormatUint(wid, 10)},
		"offset-list": {encodeUint64List(positions)},
		"digest-list": {encodeStringList(digestStrs)},
	}
	resp, err := c.Do(ctx, http.MethodPut, wire.PathFixedIndex, q, nil, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return drainError(resp)
}

// CloseDynamic calls POST dynamic_close with the client's own accumulated
// chunk-count/size/csum, which the server cross-checks against its own
// accumulators (§4.5).
func (c *Conn) CloseDynamic(ctx context.Context, wid, chunkCount, size uint64, csum hash.Hash) error {
	q := url.Values{
		"wid":         {strconv.FormatUint(wid, 10)},
		"chunk-count": {strconv.FormatUint(chunkCount, 10)},
		"size":        {strconv.FormatUint(size, 10)},
		"csum":        {csum.String()},
	}
	resp, err := c.Do(ctx, http.MethodPost, wire.PathDynamicClose, q, nil, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return drainError(resp)
}

// CloseFixed calls POST fixed_close.
func (c *Conn) CloseFixed(ctx context.Context, wid, chunkCount, size uint64, csum hash.Hash) error {
	q := url.Values{
		"wid":         {strconv.FormatUint(wid, 10)},
		"chunk-count": {strconv.FormatUint(chunkCount, 10)},
		"size":        {strconv.FormatUint(size, 10)},
		"csum":        {csum.String()},
	}
	resp, err := c.Do(ctx, http.MethodPost, wire.PathFixedClose, q, nil, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return drainError(resp)
}

// UploadBlob calls POST blob, for small whole files (the manifest among
// them) rather than chunked archives.
func (c *Conn) UploadBlob(ctx context.Context, fileName string, blob []byte) error {
	q := url.Values{
		"file-name":    {fileName},
		"encoded-size": {strconv.Itoa(len(blob))},
	}
	resp, err := c.Do(ctx, http.MethodPost, wire.PathBlob, q, bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return drainError(resp)
}

// PreviousBackupTime calls GET previous_backup_time.
func (c *Conn) PreviousBackupTime(ctx context.Context) (int64, bool, error) {
	resp, err := c.Do(ctx, http.MethodGet, wire.PathPreviousBackupTime, nil, nil, 0)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	if err := drainError(resp); err != nil {
		return 0, false, err
	}
	var out wire.PreviousBackupTimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, false, errs.Wrap(errs.IO, err)
	}
	if out.BackupTime == nil {
		return 0, false, nil
	}
	return *out.BackupTime, true, nil
}

// Previous calls GET previous, downloading a named index file from the
// snapshot being used as this session's delta base.
func (c *Conn) Previous(ctx context.Context, archiveName string) ([]byte, error) {
	q := url.Values{"archive-name": {archiveName}}
	resp, err := c.Do(ctx, http.MethodGet, wire.PathPrevious, q, nil, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := drainError(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// Finish calls POST finish, sealing the session's snapshot.
func (c *Conn) Finish(ctx context.Context, manifestName string) error {
	q := url.Values{"manifest-name": {manifestName}}
	resp, err := c.Do(ctx, http.MethodPost, wire.PathFinish, q, nil, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return drainError(resp)
}

func encodeUint64List(vs []uint64) string {
	b, _ := json.Marshal(vs)
	return string(b)
}

func encodeStringList(vs []string) string {
	b, _ := json.Marshal(vs)
	return string(b)
}
