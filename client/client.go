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

// Package client implements the client side of the backup protocol's
// HTTP/1.1-Upgrade-to-HTTP/2 handshake (§6), then hands the upgraded
// connection to golang.org/x/net/http2's client connection type for the
// RPC traffic of a single backup session.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/net/http2"

	"github.com/dolthub/nbsbackup/errs"
	"github.com/dolthub/nbsbackup/server/wire"
)

// DialOptions names the backup group this connection starts a session
// for, mirroring the Upgrade URL's query parameters (§6).
type DialOptions struct {
	Addr       string // host:port
	TLSConfig  *tls.Config // nil for plaintext (tests, local runs)
	Store      string
	Namespace  string
	BackupType string
	BackupID   string
	BackupTime int64
	AuthToken  string
	Debug      bool
}

// Conn is one upgraded connection: an open backup session multiplexed
// over HTTP/2 via golang.org/x/net/http2.ClientConn.
type Conn struct {
	cc *http2.ClientConn
}

// Dial performs the raw TCP/TLS connect, the HTTP/1.1 Upgrade handshake,
// and wraps the resulting connection as an HTTP/2 client connection. The
// Upgrade request/response exchange is done by hand (not net/http's
// client) because the 101 response here switches to a private protocol
// token, not to TLS or to the standard "h2c" token net/http understands.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	var d net.Dialer
	rawConn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, errs.Wrapf(errs.IO, err, "dialing %s", opts.Addr)
	}

	var conn net.Conn = rawConn
	if opts.TLSConfig != nil {
		tlsConn := tls.Client(rawConn, opts.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, errs.Wrapf(errs.IO, err, "TLS handshake with %s", opts.Addr)
		}
		conn = tlsConn
	}

	q := url.Values{}
	q.Set("store", opts.Store)
	q.Set("ns", opts.Namespace)
	q.Set("backup-type", opts.BackupType)
	q.Set("backup-id", opts.BackupID)
	q.Set("backup-time", strconv.FormatInt(opts.BackupTime, 10))
	q.Set("debug", strconv.FormatBool(opts.Debug))

	reqLine := fmt.Sprintf("GET /api2/json/backup?%s HTTP/1.1\r\n", q.Encode())
	headers := fmt.Sprintf(
		"Host: %s\r\nConnection: Upgrade\r\nUpgrade: %s\r\n",
		opts.Addr, wire.UpgradeProtocol,
	)
	if opts.AuthToken != "" {
		headers += fmt.Sprintf("Authorization: PBS-Token %s\r\n", opts.AuthToken)
	}

	if _, err := io.WriteString(conn, reqLine+headers+"\r\n"); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.IO, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		conn.Close()
		return nil, errs.Wrapf(errs.IO, err, "reading upgrade response")
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return nil, errs.Newf(errs.Conflict, "upgrade rejected: %s", resp.Status)
	}
	if resp.Header.Get("Upgrade") != wire.UpgradeProtocol {
		conn.Close()
		return nil, errs.New(errs.Conflict, "server did not switch to the expected protocol")
	}
	if br.Buffered() > 0 {
		// Any HTTP/2 frames the server raced ahead with must still reach the
		// framer; nothing can be buffered here on a well-behaved server, so
		// this is a defensive check rather than an expected path.
		conn.Close()
		return nil, errs.New(errs.ConsistencyFailure, "unexpected data buffered after upgrade response")
	}

	t := &http2.Transport{AllowHTTP: true}
	cc, err := t.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.IO, err)
	}
	return &Conn{cc: cc}, nil
}

// Do issues one RPC of the session: path is one of the wire.Path*
// constants, query carries its parameters, and body (if non-nil) is the
// raw octet-stream payload (a chunk or generic-blob upload).
func (c *Conn) Do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentLength int64) (*http.Response, error) {
	u := "http://backup/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errs.Wrap(errs.Argument, err)
	}
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}
	resp, err := c.cc.RoundTrip(req)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err)
	}
	return resp, nil
}

// Close tears down the underlying HTTP/2 connection.
func (c *Conn) Close() error {
	return c.cc.Close()
}
