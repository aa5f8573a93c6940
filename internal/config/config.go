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

// Package config is the server's typed configuration, loaded from TOML.
// Parsing the file itself is out of the core's scope; this package is the
// struct the core receives from whatever collaborator does that parsing.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"

	"github.com/dolthub/nbsbackup/errs"
)

// Datastore names one chunk-store/group-tree root the server exposes.
type Datastore struct {
	Name string `toml:"name"`
	Root string `toml:"root"`
}

// Config is the server's full configuration.
type Config struct {
	// ListenAddr is the plain-HTTP listen address for the upgrade endpoint
	// (§6); the server does not terminate TLS itself.
	ListenAddr string `toml:"listen_addr" default:":8007"`

	// RPCTimeoutSeconds is the idle timeout of an upgraded HTTP/2
	// connection: a connection with no activity for this long is closed.
	// The duration of an individual RPC is not bounded.
	RPCTimeoutSeconds int `toml:"rpc_timeout_seconds" default:"60"`

	// GenericBlobLimitBytes bounds the "blob" endpoint's body size (§4.6);
	// the open question in §9 is resolved here as a configurable default of
	// 16 MiB, matching the manifest-sized use the reference makes of it.
	GenericBlobLimitBytes int64 `toml:"generic_blob_limit_bytes" default:"16777216"`

	// MaxWritersPerSession bounds writer-id allocation (§4.5) so wid stays
	// safe to pass unauthenticated over the multiplexed stream.
	MaxWritersPerSession uint64 `toml:"max_writers_per_session" default:"256"`

	// ChunkTargetSize is an average chunk target size (bytes). The chunker
	// is client-side; the server reads this setting but does not use or
	// publish it.
	ChunkTargetSize int `toml:"chunk_target_size" default:"1048576"`

	Datastores []Datastore `toml:"datastore"`

	Debug bool `toml:"debug" default:"false"`
}

// RPCTimeout returns the configured per-RPC timeout as a time.Duration.
func (c Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSeconds) * time.Second
}

// Load fills Config's defaults via creasty/defaults and then overlays path's
// TOML contents.
func Load(path string) (Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return c, errs.Wrap(errs.IO, err)
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, errs.Wrapf(errs.IO, err, "loading config %s", path)
	}
	return c, nil
}
