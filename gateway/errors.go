/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gateway

import (
	"github.com/pkg/errors"

	"github.com/CovenantSQL/docsync/auth"
	"github.com/CovenantSQL/docsync/delta"
	"github.com/CovenantSQL/docsync/docdb"
	"github.com/CovenantSQL/docsync/revtree"
	"github.com/CovenantSQL/docsync/rpc"
	"github.com/CovenantSQL/docsync/types"
)

var (
	// ErrDatabaseNotFound indicates an unknown database name.
	ErrDatabaseNotFound = errors.New("database not found")
	// ErrDatabaseExists indicates a database name already in use.
	ErrDatabaseExists = errors.New("database already exists")
	// ErrInvalidDatabaseName indicates a malformed database name.
	ErrInvalidDatabaseName = errors.New("invalid database name")
	// ErrOffline indicates the database is taken offline.
	ErrOffline = errors.New("database is offline")
	// ErrForbidden indicates the principal may not access a document.
	ErrForbidden = errors.New("access forbidden")
	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = errors.New("bad request")
)

// statusCode maps an error to its wire status code.
func statusCode(err error) int {
	if code := rpc.Code(err); code != 0 {
		return code
	}
	switch errors.Cause(err) {
	case ErrDatabaseNotFound, docdb.ErrNotFound, revtree.ErrNotFound, revtree.ErrBodyMissing,
		auth.ErrUserNotFound, auth.ErrRoleNotFound:
		return rpc.CodeNotFound
	case ErrDatabaseExists, docdb.ErrConflict, docdb.ErrExists:
		return rpc.CodeConflict
	case ErrOffline, docdb.ErrClosed:
		return rpc.CodeUnavailable
	case ErrForbidden:
		return rpc.CodeForbidden
	case auth.ErrUnauthorized:
		return rpc.CodeUnauthorized
	case ErrBadRequest, ErrInvalidDatabaseName, docdb.ErrInvalidDocID, revtree.ErrInvalidRevision,
		types.ErrInvalidRevID, auth.ErrInvalidName:
		return rpc.CodeBadRequest
	case delta.ErrBaseMismatch, delta.ErrInvalidDelta:
		return rpc.CodeUnprocessable
	}
	return rpc.CodeInternal
}

// wireError converts err to an rpc error keeping its message.
func wireError(err error) error {
	if err == nil {
		return nil
	}
	if rpc.Code(err) != 0 {
		return err
	}
	return rpc.NewError(statusCode(err), err.Error())
}
