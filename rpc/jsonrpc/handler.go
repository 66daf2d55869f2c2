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

package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/docsync/rpc"
)

// handler bridges JSON-RPC requests of one websocket connection to a sync handler.
type handler struct {
	backend rpc.Handler
}

func newHandler(backend rpc.Handler) jsonrpc2.Handler {
	return jsonrpc2.AsyncHandler(&handler{backend: backend})
}

// Handle implements jsonrpc2.Handler.
func (h *handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	jsonrpc2.HandlerWithError(h.handle).Handle(ctx, conn, req)
}

// handle is a function to be used by jsonrpc2.Handler.
func (h *handler) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	defer func() {
		if p := recover(); p != nil {
			switch p := p.(type) {
			case error:
				err = toWire(p)
			default:
				err = toWire(fmt.Errorf("%v", p))
			}
		}
	}()

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	if result, err = h.backend.Handle(ctx, req.Method, params); err != nil {
		return nil, toWire(err)
	}
	return
}

func toWire(err error) *jsonrpc2.Error {
	e := rpc.AsError(err)
	return &jsonrpc2.Error{Code: int64(e.Code), Message: e.Message}
}

func fromWire(err error) error {
	switch e := err.(type) {
	case nil:
		return nil
	case *jsonrpc2.Error:
		return rpc.NewError(int(e.Code), e.Message)
	}
	if err == jsonrpc2.ErrClosed {
		return rpc.ErrConnClosed
	}
	return err
}
