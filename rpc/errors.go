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

package rpc

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Status codes carried by wire errors.
const (
	CodeBadRequest    = http.StatusBadRequest
	CodeUnauthorized  = http.StatusUnauthorized
	CodeForbidden     = http.StatusForbidden
	CodeNotFound      = http.StatusNotFound
	CodeConflict      = http.StatusConflict
	CodeUnprocessable = http.StatusUnprocessableEntity
	CodeInternal      = http.StatusInternalServerError
	CodeUnavailable   = http.StatusServiceUnavailable
)

var (
	// ErrConnClosed indicates the connection was closed or severed.
	ErrConnClosed = errors.New("connection closed")
	// ErrConnRefused indicates the peer could not be reached.
	ErrConnRefused = errors.New("connection refused")
	// ErrInvalidURL indicates a malformed target url.
	ErrInvalidURL = errors.New("invalid target url")
)

// Error is an error reported by the peer, formatted as "<code> <message>".
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewError returns a wire error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf returns a wire error with a formatted message.
func Errorf(code int, format string, a ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// Code returns the status code of a wire error, 0 for any other error.
func Code(err error) int {
	if e, ok := errors.Cause(err).(*Error); ok && e != nil {
		return e.Code
	}
	return 0
}

// AsError converts err to a wire error, unknown errors become internal errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := errors.Cause(err).(*Error); ok && e != nil {
		return e
	}
	return NewError(CodeInternal, err.Error())
}

// IsTransient reports whether a failed call may succeed on a new connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch Code(err) {
	case 0, CodeUnavailable, CodeInternal:
		return true
	}
	return false
}
