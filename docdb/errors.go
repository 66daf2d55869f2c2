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

package docdb

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotFound indicates the document is missing or deleted.
	ErrNotFound = errors.New("document not found")
	// ErrConflict indicates an update against a revision that is not a tip.
	ErrConflict = errors.New("document update conflict")
	// ErrExists indicates creation of a live document that already exists.
	ErrExists = errors.New("document already exists")
	// ErrClosed indicates the database has been closed.
	ErrClosed = errors.New("database closed")
	// ErrInvalidDocID indicates an unusable document id.
	ErrInvalidDocID = errors.New("invalid document id")
)
