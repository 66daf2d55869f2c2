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

package auth

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnauthorized indicates the credentials do not identify a principal.
	ErrUnauthorized = errors.New("401 unauthorized")
	// ErrUserNotFound indicates an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoleNotFound indicates an unknown role.
	ErrRoleNotFound = errors.New("role not found")
	// ErrInvalidName indicates an empty or reserved principal name.
	ErrInvalidName = errors.New("invalid principal name")
)
