// Copyright 2015 Google Inc. All rights reserved.
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

// Package dispatch is the JSON-RPC core the BSP server is built on: a
// Content-Length-framed transport (transport.go), a typed handler registry
// keyed by method name, a single-writer lock around the output stream, a
// bounded worker pool that still preserves per-method call order, and a
// cancellation registry driven by $/cancelRequest. Grounded on
// cmd/soong_ui/main.go's flag/command-table idiom (a registry of
// method-name-keyed entries looked up by name rather than a type switch)
// and bazel/cquery/request_type.go's package-level interface-value idiom.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bsplog"
)

const jsonrpcVersion = "2.0"

// CodedError is satisfied by any error a handler returns that wants to
// control the JSON-RPC error code in the reply; anything else is reported
// as CodeInternalError (-32603) by the caller. Named RPCCode rather than
// Code so implementers can still expose their own Code field/accessor
// without a name collision.
type CodedError interface {
	error
	RPCCode() int
}

// RequestHandler answers a request identified by id, returning either a
// JSON-marshalable result or an error.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler handles a fire-and-forget message with no reply.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// message is the wire envelope for both directions; exactly one of
// Result/Error is set on an outgoing response, and ID is omitted (nil) for
// a notification.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Dispatcher owns the method registry, the single writer lock, the bounded
// worker pool and the cancellation registry for one BSP connection.
type Dispatcher struct {
	log bsplog.Logger

	writeMu sync.Mutex
	out     io.Writer

	regMu         sync.Mutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
	methodLocks   map[string]*sync.Mutex

	sem chan struct{}

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New returns a Dispatcher writing responses/notifications to out and
// running at most maxConcurrent request handlers at a time (notifications
// run inline, synchronously, per spec.md §4.7 — only requests are farmed
// out to the worker pool).
func New(out io.Writer, log bsplog.Logger, maxConcurrent int) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		log:           log,
		out:           out,
		requests:      map[string]RequestHandler{},
		notifications: map[string]NotificationHandler{},
		methodLocks:   map[string]*sync.Mutex{},
		sem:           make(chan struct{}, maxConcurrent),
		cancels:       map[string]context.CancelFunc{},
	}
}

// RegisterRequest binds method to h. Calling this after Serve has started
// is not safe; all methods must be registered up front.
func (d *Dispatcher) RegisterRequest(method string, h RequestHandler) {
	d.requests[method] = h
}

// RegisterNotification binds method to h.
func (d *Dispatcher) RegisterNotification(method string, h NotificationHandler) {
	d.notifications[method] = h
}

// Wait blocks until every in-flight request handler spawned by Dispatch has
// returned, used by build/shutdown to implement waitForBuildSystemUpdates
// semantics before replying.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch parses and routes one incoming frame. Requests are handed to
// the worker pool (bounded by sem, ordered per-method by methodLocks);
// notifications run synchronously on the caller's goroutine, except
// $/cancelRequest which is handled directly by the cancellation registry.
func (d *Dispatcher) Dispatch(ctx context.Context, frame []byte) {
	var msg message
	if err := json.Unmarshal(frame, &msg); err != nil {
		d.log.Errorf("dispatch: malformed frame: %v", err)
		return
	}

	if msg.Method == "$/cancelRequest" {
		d.handleCancel(msg.Params)
		return
	}

	if len(msg.ID) == 0 {
		// Notification.
		h, ok := d.notifications[msg.Method]
		if !ok {
			d.log.Warnf("dispatch: no handler for notification %q", msg.Method)
			return
		}
		h(ctx, msg.Params)
		return
	}

	h, ok := d.requests[msg.Method]
	if !ok {
		d.reply(msg.ID, nil, &wireError{Code: -32601, Message: fmt.Sprintf("method not found: %s", msg.Method)})
		return
	}

	d.wg.Add(1)
	go d.runRequest(ctx, msg.Method, msg.ID, msg.Params, h)
}

func (d *Dispatcher) runRequest(ctx context.Context, method string, id json.RawMessage, params json.RawMessage, h RequestHandler) {
	defer d.wg.Done()

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	lock := d.methodLock(method)
	lock.Lock()
	defer lock.Unlock()

	reqCtx, cancel := context.WithCancel(ctx)
	idKey := string(id)
	d.cancelMu.Lock()
	d.cancels[idKey] = cancel
	d.cancelMu.Unlock()
	defer func() {
		d.cancelMu.Lock()
		delete(d.cancels, idKey)
		d.cancelMu.Unlock()
		cancel()
	}()

	result, err := h(reqCtx, params)
	if err != nil {
		d.reply(id, nil, toWireError(err))
		return
	}
	d.reply(id, result, nil)
}

func (d *Dispatcher) methodLock(method string) *sync.Mutex {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	l, ok := d.methodLocks[method]
	if !ok {
		l = &sync.Mutex{}
		d.methodLocks[method] = l
	}
	return l
}

func (d *Dispatcher) handleCancel(params json.RawMessage) {
	var p struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		d.log.Warnf("dispatch: malformed $/cancelRequest: %v", err)
		return
	}
	d.cancelMu.Lock()
	cancel, ok := d.cancels[string(p.ID)]
	d.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

func toWireError(err error) *wireError {
	if ce, ok := err.(CodedError); ok {
		return &wireError{Code: ce.RPCCode(), Message: ce.Error()}
	}
	return &wireError{Code: -32603, Message: err.Error()}
}

func (d *Dispatcher) reply(id json.RawMessage, result interface{}, werr *wireError) {
	d.write(message{JSONRPC: jsonrpcVersion, ID: id, Result: result, Error: werr})
}

// Notify sends a server-initiated notification (task progress, build
// target change events, etc). Safe to call concurrently with request
// handling; serialized against every other write by writeMu.
func (d *Dispatcher) Notify(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("dispatch: failed to marshal notification %q: %w", method, err)
	}
	return d.write(message{JSONRPC: jsonrpcVersion, Method: method, Params: raw})
}

func (d *Dispatcher) write(msg message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dispatch: failed to marshal message: %w", err)
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return writeFrame(d.out, raw)
}
