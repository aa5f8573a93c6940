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

// Command backup-client is a minimal backup-only driver: it uploads one
// local file as a single dynamic archive named "data.didx" plus a small
// manifest, exercising the full client/upload pipeline end to end. It does
// not restore, list, or prune; those are out of scope (§1 Non-goals).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/juju/gnuflag"

	"github.com/dolthub/nbsbackup/client"
	"github.com/dolthub/nbsbackup/client/upload"
	"github.com/dolthub/nbsbackup/internal/logging"
	"github.com/dolthub/nbsbackup/store/chunk"
	"github.com/dolthub/nbsbackup/store/hash"
	"github.com/dolthub/nbsbackup/store/index"
)

type manifest struct {
	Files []string `json:"files"`
}

func main() {
	fs := gnuflag.NewFlagSet("backup-client", gnuflag.ExitOnError)
	addr := fs.String("server", "127.0.0.1:8007", "backupd host:port")
	store := fs.String("store", "", "datastore name")
	ns := fs.String("namespace", "", "group namespace")
	backupType := fs.String("type", "host", "group type (vm, ct, host)")
	backupID := fs.String("id", "", "group id")
	token := fs.String("token", "", "bearer token for Authorization: PBS-Token")
	sourcePath := fs.String("file", "", "local file to back up")
	targetSize := fs.Int("chunk-size", 1<<20, "average chunk size target (power of two)")
	fs.Parse(true, os.Args[1:])

	log := logging.New(false)
	defer log.Sync()

	if *store == "" || *backupID == "" || *sourcePath == "" {
		fmt.Fprintln(os.Stderr, "backup-client: -store, -id, and -file are required")
		os.Exit(2)
	}

	ctx := context.Background()
	backupTime := time.Now().Unix()

	conn, err := client.Dial(ctx, client.DialOptions{
		Addr:       *addr,
		Store:      *store,
		Namespace:  *ns,
		BackupType: *backupType,
		BackupID:   *backupID,
		BackupTime: backupTime,
		AuthToken:  *token,
	})
	if err != nil {
		log.Fatalw("dial failed", "error", err)
	}
	defer conn.Close()

	known := upload.DigestSet{}
	if prevTime, ok, err := conn.PreviousBackupTime(ctx); err != nil {
		log.Fatalw("previous_backup_time failed", "error", err)
	} else if ok {
		if prev, err := conn.Previous(ctx, "data.didx"); err == nil {
			idx, err := index.DecodeDynamicBytes(prev)
			if err != nil {
				log.Fatalw("decoding downloaded previous index", "error", err)
			}
			log.Infow("seeding known chunks from previous snapshot", "previous_backup_time", prevTime, "entries", len(idx.Entries))
			for _, e := range idx.Entries {
				known.Add(e.Digest)
			}
		}
	}

	f, err := os.Open(*sourcePath)
	if err != nil {
		log.Fatalw("opening source file", "error", err)
	}
	defer f.Close()

	chunkCount, size, csum, err := upload.UploadDynamic(ctx, conn, f, known, upload.Options{
		ArchiveName: "data.didx",
		TargetSize:  *targetSize,
	})
	if err != nil {
		log.Fatalw("upload failed", "error", err)
	}
	log.Infow("archive uploaded", "chunks", chunkCount, "size", size, "csum", hashString(csum))

	m, err := json.Marshal(manifest{Files: []string{"data.didx"}})
	if err != nil {
		log.Fatalw("marshaling manifest", "error", err)
	}
	// The manifest travels as a framed DataBlob like any other "blob"
	// upload (§4.2/§6); Session.Finish decodes it the same way before
	// parsing the JSON it carries.
	manifestBlob, err := chunk.Encode(chunk.NewChunk(m), nil, false)
	if err != nil {
		log.Fatalw("framing manifest", "error", err)
	}
	if err := conn.UploadBlob(ctx, "index.json", manifestBlob.Bytes()); err != nil {
		log.Fatalw("uploading manifest", "error", err)
	}

	if err := conn.Finish(ctx, "index.json"); err != nil {
		log.Fatalw("finish failed", "error", err)
	}
	log.Infow("backup finished", "backup_time", backupTime)
}

func hashString(h hash.Hash) string { return h.String() }
