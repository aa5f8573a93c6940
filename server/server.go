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

// Package server wires internal/config, internal/logging, one
// chunkstore.Store/session.Layout pair per configured datastore, and the
// server/wire Upgrade endpoint into a runnable http.Server.
package server

import (
	"context"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/dolthub/nbsbackup/internal/auth"
	"github.com/dolthub/nbsbackup/internal/config"
	"github.com/dolthub/nbsbackup/server/session"
	"github.com/dolthub/nbsbackup/server/wire"
	"github.com/dolthub/nbsbackup/store/chunkstore"
)

// Server owns the listening socket and every configured datastore's
// chunk store.
type Server struct {
	cfg  config.Config
	log  *zap.SugaredLogger
	http *http.Server
}

// New opens every datastore named in cfg and builds the Upgrade endpoint
// handler. authn is typically an auth.StaticTokens for tests/local runs;
// real authentication (TLS client certs, tickets, ACLs) is out of scope.
func New(cfg config.Config, log *zap.SugaredLogger, authn auth.Authenticator) (*Server, error) {
	datastores := make(map[string]wire.Datastore, len(cfg.Datastores))
	for _, d := range cfg.Datastores {
		store, err := chunkstore.Open(d.Root)
		if err != nil {
			return nil, err
		}
		if _, err := store.RecoverTemp(); err != nil {
			return nil, err
		}
		datastores[d.Name] = wire.Datastore{
			Store:  store,
			Layout: session.Layout{Root: d.Root},
		}
	}

	upgrade := &wire.UpgradeHandler{
		Datastores:       datastores,
		Authn:            authn,
		MaxWriters:       cfg.MaxWritersPerSession,
		Log:              log,
		GenericBlobLimit: cfg.GenericBlobLimitBytes,
		RPCTimeout:       cfg.RPCTimeout(),
	}

	mux := http.NewServeMux()
	mux.Handle("/api2/json/backup", upgrade)

	return &Server{
		cfg: cfg,
		log: log,
		http: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: mux,
		},
	}, nil
}

// ListenAndServe blocks serving the Upgrade endpoint until the server is
// shut down or a fatal listener error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Infow("listening", "addr", s.cfg.ListenAddr)
	return s.http.ListenAndServe()
}

// Serve is ListenAndServe with the listener supplied by the caller,
// letting tests bind an ephemeral port instead of cfg.ListenAddr.
func (s *Server) Serve(l net.Listener) error {
	return s.http.Serve(l)
}

// Shutdown gracefully stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
