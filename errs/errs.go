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

// Package errs defines the error taxonomy shared by every component of the
// core (§7) and the HTTP status codes each kind maps to (§6).
package errs

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind is one of the error taxonomy entries from §7.
type Kind int

const (
	// Argument is a malformed request: bad digest length, missing field.
	Argument Kind = iota
	// NotFound is a missing chunk, archive or snapshot.
	NotFound
	// Conflict is a non-monotonic backup_time, ownership mismatch, or
	// duplicate snapshot.
	Conflict
	// ConsistencyFailure is a server/client accumulator disagreement at
	// close, a digest mismatch on upload, or a blob CRC failure during a
	// backup session. A failure at index close aborts the session; a
	// rejected append leaves the writer usable.
	ConsistencyFailure
	// Corruption is an on-disk blob failing CRC or AEAD outside of an
	// active backup session (background GC or read).
	Corruption
	// IO is a filesystem error (disk full, EIO).
	IO
	// Auth is an authentication failure.
	Auth
	// Forbidden is a permission-check failure.
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case Argument:
		return "Argument"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case ConsistencyFailure:
		return "ConsistencyFailure"
	case Corruption:
		return "Corruption"
	case IO:
		return "IO"
	case Auth:
		return "Auth"
	case Forbidden:
		return "Forbidden"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps k to the status code §6 assigns it.
func (k Kind) HTTPStatus() int {
	switch k {
	case Argument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case ConsistencyFailure:
		return http.StatusBadRequest
	case Corruption:
		return http.StatusInternalServerError
	case IO:
		return http.StatusInternalServerError
	case Auth:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// KindFromHTTPStatus is HTTPStatus's inverse, used by the client to
// reconstruct a Kind-tagged error from a response it cannot decode any
// other way. The mapping is lossy (several kinds share a status code), so
// this is a best-effort classification, not a guarantee of round-tripping
// the server's original Kind.
func KindFromHTTPStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return ConsistencyFailure
	case http.StatusNotFound:
		return NotFound
	case http.StatusConflict:
		return Conflict
	case http.StatusUnauthorized:
		return Auth
	case http.StatusForbidden:
		return Forbidden
	default:
		return IO
	}
}

// koError is a Kind-tagged, stack-capturing error.
type koError struct {
	kind  Kind
	cause error
}

func (e *koError) Error() string { return e.kind.String() + ": " + e.cause.Error() }
func (e *koError) Unwrap() error { return e.cause }

// New wraps a plain message as a Kind-tagged error with a captured stack,
// via github.com/pkg/errors.
func New(k Kind, msg string) error {
	return &koError{kind: k, cause: errors.New(msg)}
}

// Newf is New with fmt-style formatting.
func Newf(k Kind, format string, args ...interface{}) error {
	return &koError{kind: k, cause: errors.Errorf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(k Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &koError{kind: k, cause: cause}
}

// Wrapf is Wrap with an added message, via github.com/pkg/errors.Wrapf.
func Wrapf(k Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &koError{kind: k, cause: errors.Wrapf(cause, format, args...)}
}

// KindOf extracts the Kind tagged onto err by New/Wrap, defaulting to IO
// (an unclassified failure is treated as an internal error) if err was
// never tagged.
func KindOf(err error) Kind {
	var ko *koError
	if errors.As(err, &ko) {
		return ko.kind
	}
	return IO
}

// Is reports whether err (or any error it wraps) was tagged with k.
func Is(err error, k Kind) bool {
	var ko *koError
	if errors.As(err, &ko) {
		return ko.kind == k
	}
	return false
}
