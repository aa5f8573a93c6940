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

// Command backupd runs the backup server: it loads a TOML config naming
// one or more datastores, recovers any abandoned temp files left behind by
// a prior crash, and serves the Upgrade-to-HTTP/2 backup protocol.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/juju/gnuflag"

	"github.com/dolthub/nbsbackup/internal/auth"
	"github.com/dolthub/nbsbackup/internal/config"
	"github.com/dolthub/nbsbackup/internal/logging"
	"github.com/dolthub/nbsbackup/server"
)

func main() {
	fs := gnuflag.NewFlagSet("backupd", gnuflag.ExitOnError)
	configPath := fs.String("config", "/etc/nbsbackup/backupd.toml", "path to the server's TOML config")
	token := fs.String("dev-token", "", "if set, register this bearer token as a static identity named \"dev\" (testing only)")
	fs.Parse(true, os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "backupd:", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Debug)
	defer log.Sync()

	tokens := auth.StaticTokens{}
	if *token != "" {
		tokens[*token] = "dev"
	}

	srv, err := server.New(cfg, log, tokens)
	if err != nil {
		log.Fatalw("failed to start", "error", err)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalw("server exited", "error", err)
	}
}
