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
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"
	"go.uber.org/zap"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/internal/auth"
	"github.com/dolthub/nbsbackup/server/session"
	"github.com/dolthub/nbsbackup/store/chunkstore"
)

// Datastore is the store/layout pair a backup session runs against, keyed
// by its configured name (the "store" query parameter of the Upgrade
// request).
type Datastore struct {
	Store  *chunkstore.Store
	Layout session.Layout
}

// UpgradeHandler implements the HTTP/1.1 entry point of §4.6: a GET request
// asking to switch to the UpgradeProtocol token, carrying the session's
// parameters in its query string. On success the connection is hijacked
// and handed to an HTTP/2 server instance scoped to the one session.
//
// This does not use golang.org/x/net/http2/h2c: h2c negotiates the
// standard "h2c" token for plaintext HTTP/2, but this protocol uses its
// own Upgrade token to bind the connection to a single backup session
// rather than a stateless handler, so the 101 response and the
// http2.Server.ServeConn call are driven directly.
type UpgradeHandler struct {
	Datastores map[string]Datastore
	Authn      auth.Authenticator
	MaxWriters uint64
	Log        *zap.SugaredLogger

	GenericBlobLimit int64

	// RPCTimeout bounds how long the multiplexed connection may sit with
	// no stream activity (§5's per-RPC timeout); zero means no limit.
	RPCTimeout time.Duration
}

func (u *UpgradeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") != UpgradeProtocol {
		http.Error(w, "expected Upgrade: "+UpgradeProtocol, http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	storeName := q.Get("store")
	ds, ok := u.Datastores[storeName]
	if !ok {
		http.Error(w, fmt.Sprintf("no such datastore %q", storeName), http.StatusNotFound)
		return
	}

	authID, err := u.Authn.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), errs.KindOf(err).HTTPStatus())
		return
	}

	backupTime, err := strconv.ParseInt(q.Get("backup-time"), 10, 64)
	if err != nil {
		http.Error(w, "malformed backup-time", http.StatusBadRequest)
		return
	}

	group := session.Group{
		Namespace: q.Get("ns"),
		Type:      q.Get("backup-type"),
		ID:        q.Get("backup-id"),
	}

	sess, err := session.Start(ds.Layout, group, authID, backupTime, u.MaxWriters, ds.Store)
	if err != nil {
		http.Error(w, err.Error(), errs.KindOf(err).HTTPStatus())
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection does not support hijacking", http.StatusInternalServerError)
		sess.RemoveBackup()
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		sess.RemoveBackup()
		return
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: " + UpgradeProtocol + "\r\n\r\n"
	if _, err := buf.WriteString(resp); err != nil {
		conn.Close()
		sess.RemoveBackup()
		return
	}
	if err := buf.Flush(); err != nil {
		conn.Close()
		sess.RemoveBackup()
		return
	}

	log := u.Log
	if log != nil {
		log = log.With("store", storeName, "ns", group.Namespace, "backup-type", group.Type, "backup-id", group.ID, "backup-time", backupTime)
	}

	handler := &Handler{Session: sess, Log: log, GenericBlobLimit: u.GenericBlobLimit}
	h2s := &http2.Server{IdleTimeout: u.RPCTimeout}
	h2s.ServeConn(conn, &http2.ServeConnOpts{Handler: handler})

	// ServeConn blocks until the connection closes; by then the client has
	// either called finish (Finished() == true) or dropped without one.
	if !sess.Finished() {
		sess.RemoveBackup()
	}
}
