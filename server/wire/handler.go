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

package wire

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/server/session"
	"github.com/dolthub/nbsbackup/store/chunk"
	"github.com/dolthub/nbsbackup/store/hash"
	"github.com/dolthub/nbsbackup/store/index"
)

// Handler serves the RPCs of one backup session. Its GenericBlobLimit
// bounds the "blob" endpoint's body size; set from
// internal/config.Config.GenericBlobLimitBytes by the server wiring this
// handler.
type Handler struct {
	Session           *session.Session
	Log               *zap.SugaredLogger
	GenericBlobLimit  int64
}

// ServeHTTP dispatches by path to the command set of §4.6. Every command is
// relative to the session's upgraded connection, so the router is flat: one
// handler per well-known path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	q := r.URL.Query()

	var err error
	switch {
	case path == PathDynamicIndex && r.Method == http.MethodPost:
		err = h.createDynamicIndex(w, q)
	case path == PathFixedIndex && r.Method == http.MethodPost:
		err = h.createFixedIndex(w, q)
	case path == PathDynamicIndex && r.Method == http.MethodPut:
		err = h.appendDynamic(w, q)
	case path == PathFixedIndex && r.Method == http.MethodPut:
		err = h.appendFixed(w, q)
	case path == PathDynamicChunk && r.Method == http.MethodPost:
		err = h.uploadChunk(w, r, q, true)
	case path == PathFixedChunk && r.Method == http.MethodPost:
		err = h.uploadChunk(w, r, q, false)
	case path == PathDynamicClose && r.Method == http.MethodPost:
		err = h.closeDynamic(w, q)
	case path == PathFixedClose && r.Method == http.MethodPost:
		err = h.closeFixed(w, q)
	case path == PathBlob && r.Method == http.MethodPost:
		err = h.uploadBlob(w, r, q)
	case path == PathPrevious && r.Method == http.MethodGet:
		err = h.previous(w, q)
	case path == PathPreviousBackupTime && r.Method == http.MethodGet:
		err = h.previousBackupTime(w)
	case path == PathFinish && r.Method == http.MethodPost:
		err = h.finish(w, q)
	case path == PathSpeedtest && r.Method == http.MethodPost:
		err = h.speedtest(w, r)
	default:
		err = errs.Newf(errs.NotFound, "no such RPC %s %s", r.Method, path)
	}

	if err != nil {
		h.writeError(w, err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		h.writeError(w, errs.Wrap(errs.IO, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	if h.Log != nil {
		h.Log.Warnw("rpc failed", "kind", kind.String(), "error", err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	b, _ := json.Marshal(ErrorResponse{Message: err.Error()})
	w.Write(b)
}

func (h *Handler) createDynamicIndex(w http.ResponseWriter, q map[string][]string) error {
	name := firstOr(q, "archive-name", "")
	if name == "" {
		return errs.New(errs.Argument, "missing archive-name")
	}
	wid, err := h.Session.CreateDynamicIndex(name)
	if err != nil {
		return err
	}
	h.writeJSON(w, WIDResponse{WID: wid})
	return nil
}

func (h *Handler) createFixedIndex(w http.ResponseWriter, q map[string][]string) error {
	name := firstOr(q, "archive-name", "")
	if name == "" {
		return errs.New(errs.Argument, "missing archive-name")
	}
	size, err := queryUint64(q, "size")
	if err != nil {
		return err
	}
	chunkSize, err := queryUint64(q, "chunk-size")
	if err != nil {
		return err
	}
	var reuseCsum *hash.Hash
	if s := firstOr(q, "reuse-csum", ""); s != "" {
		d, ok := hash.MaybeParse(s)
		if !ok {
			return errs.New(errs.Argument, "malformed reuse-csum")
		}
		reuseCsum = &d
	}
	wid, err := h.Session.CreateFixedIndex(name, size, chunkSize, reuseCsum)
	if err != nil {
		return err
	}
	h.writeJSON(w, WIDResponse{WID: wid})
	return nil
}

func (h *Handler) appendDynamic(w http.ResponseWriter, q map[string][]string) error {
	wid, err := queryUint64(q, "wid")
	if err != nil {
		return err
	}
	digests, err := queryStringList(q, "digest-list")
	if err != nil {
		return err
	}
	offsets, err := queryUint64List(q, "offset-list")
	if err != nil {
		return err
	}
	if len(digests) != len(offsets) {
		return errs.New(errs.Argument, "digest-list and offset-list length mismatch")
	}
	entries := make([]index.DynamicEntry, len(digests))
	for i := range digests {
		d, ok := hash.MaybeParse(digests[i])
		if !ok {
			return errs.Newf(errs.Argument, "malformed digest %q", digests[i])
		}
		entries[i] = index.DynamicEntry{EndOffset: offsets[i], Digest: d}
	}
	if err := h.Session.DynamicAppend(wid, entries); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) appendFixed(w http.ResponseWriter, q map[string][]string) error {
	wid, err := queryUint64(q, "wid")
	if err != nil {
		return err
	}
	digests, err := queryStringList(q, "digest-list")
	if err != nil {
		return err
	}
	positions, err := queryUint64List(q, "offset-list")
	if err != nil {
		return err
	}
	if len(digests) != len(positions) {
		return errs.New(errs.Argument, "digest-list and offset-list length mismatch")
	}
	entries := make([]index.FixedEntry, len(digests))
	for i := range digests {
		d, ok := hash.MaybeParse(digests[i])
		if !ok {
			return errs.Newf(errs.Argument, "malformed digest %q", digests[i])
		}
		entries[i] = index.FixedEntry{Position: positions[i], Digest: d}
	}
	if err := h.Session.FixedAppend(wid, entries); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) uploadChunk(w http.ResponseWriter, r *http.Request, q map[string][]string, dynamic bool) error {
	_ = dynamic // both chunk kinds are stored identically; kept for route clarity
	digestStr := firstOr(q, "digest", "")
	d, ok := hash.MaybeParse(digestStr)
	if !ok {
		return errs.Newf(errs.Argument, "malformed digest %q", digestStr)
	}
	encodedSize, err := queryUint64(q, "encoded-size")
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(encodedSize)+1))
	if err != nil {
		return errs.Wrap(errs.IO, err)
	}
	if uint64(len(body)) != encodedSize {
		return errs.Newf(errs.ConsistencyFailure, "chunk body length %d does not match declared encoded-size %d", len(body), encodedSize)
	}

	blob := chunk.FromBytes(body)
	if err := blob.VerifyCRC(); err != nil {
		return errs.Wrap(errs.ConsistencyFailure, err)
	}
	if encrypted, err := chunk.IsEncrypted(blob); err == nil && !encrypted {
		addr, err := chunk.AddressDigest(blob, nil)
		if err != nil {
			return err
		}
		if addr != d {
			return errs.Newf(errs.ConsistencyFailure, "uploaded chunk digest %s does not match declared digest %s", addr, d)
		}
	}

	if _, err := h.Session.Store().Insert(d, body); err != nil {
		return err
	}
	h.Session.RegisterChunk(d, int64(len(body)))
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) closeDynamic(w http.ResponseWriter, q map[string][]string) error {
	wid, err := queryUint64(q, "wid")
	if err != nil {
		return err
	}
	count, err := queryUint64(q, "chunk-count")
	if err != nil {
		return err
	}
	size, err := queryUint64(q, "size")
	if err != nil {
		return err
	}
	csum, ok := hash.MaybeParse(firstOr(q, "csum", ""))
	if !ok {
		return errs.New(errs.Argument, "malformed csum")
	}
	if err := h.Session.CloseDynamic(wid, count, size, csum); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) closeFixed(w http.ResponseWriter, q map[string][]string) error {
	wid, err := queryUint64(q, "wid")
	if err != nil {
		return err
	}
	count, err := queryUint64(q, "chunk-count")
	if err != nil {
		return err
	}
	size, err := queryUint64(q, "size")
	if err != nil {
		return err
	}
	csum, ok := hash.MaybeParse(firstOr(q, "csum", ""))
	if !ok {
		return errs.New(errs.Argument, "malformed csum")
	}
	if err := h.Session.CloseFixed(wid, count, size, csum); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) uploadBlob(w http.ResponseWriter, r *http.Request, q map[string][]string) error {
	name := firstOr(q, "file-name", "")
	if name == "" {
		return errs.New(errs.Argument, "missing file-name")
	}
	encodedSize, err := queryUint64(q, "encoded-size")
	if err != nil {
		return err
	}
	if int64(encodedSize) > h.GenericBlobLimit {
		return errs.Newf(errs.Argument, "blob %s exceeds size limit (%d > %d)", name, encodedSize, h.GenericBlobLimit)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(encodedSize)+1))
	if err != nil {
		return errs.Wrap(errs.IO, err)
	}
	if uint64(len(body)) != encodedSize {
		return errs.Newf(errs.ConsistencyFailure, "blob body length %d does not match declared encoded-size %d", len(body), encodedSize)
	}
	blob := chunk.FromBytes(body)
	if err := blob.VerifyCRC(); err != nil {
		return errs.Wrap(errs.ConsistencyFailure, err)
	}
	if err := writeFileAtomic(h.Session.SnapshotDir(), name, body); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) previous(w http.ResponseWriter, q map[string][]string) error {
	name := firstOr(q, "archive-name", "")
	if name == "" {
		return errs.New(errs.Argument, "missing archive-name")
	}
	b, err := h.Session.ServePrevious(name)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(b)
	return nil
}

func (h *Handler) previousBackupTime(w http.ResponseWriter) error {
	t, ok := h.Session.PreviousBackupTime()
	resp := PreviousBackupTimeResponse{}
	if ok {
		resp.BackupTime = &t
	}
	h.writeJSON(w, resp)
	return nil
}

func (h *Handler) finish(w http.ResponseWriter, q map[string][]string) error {
	manifestName := firstOr(q, "manifest-name", "index.json")
	if err := h.Session.Finish(manifestName); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) speedtest(w http.ResponseWriter, r *http.Request) error {
	if _, err := io.Copy(io.Discard, r.Body); err != nil {
		return errs.Wrap(errs.IO, err)
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func firstOr(q map[string][]string, key, def string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return def
}

// writeFileAtomic writes data to dir/name via a sibling temp file plus
// rename, the same crash-safe sequence chunkstore.Store.Insert uses for
// chunk bodies (create-excl, write, fsync, close, rename).
func writeFileAtomic(dir, name string, data []byte) error {
	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, fmt.Sprintf(".tmp.%s.%d", name, os.Getpid()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrapf(errs.IO, err, "creating temp file for %s", name)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrapf(errs.IO, err, "writing temp file for %s", name)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrapf(errs.IO, err, "fsync temp file for %s", name)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrapf(errs.IO, err, "closing temp file for %s", name)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return errs.Wrapf(errs.IO, err, "renaming temp file into place for %s", name)
	}
	return nil
}
