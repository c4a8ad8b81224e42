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

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Chunked(string, string) {}

type testError struct {
	code int
	msg  string
}

func (e *testError) Error() string { return e.msg }
func (e *testError) RPCCode() int  { return e.code }

func TestDispatchRequestRepliesWithResult(t *testing.T) {
	var out bytes.Buffer
	d := New(&out, nopLogger{}, 4)
	d.RegisterRequest("ping", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return map[string]string{"pong": "ok"}, nil
	})

	d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":"1","method":"ping"}`))
	d.Wait()

	var reply message
	if err := json.Unmarshal(frameBody(t, out.Bytes()), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Error != nil {
		t.Fatalf("unexpected error reply: %+v", reply.Error)
	}
	result, ok := reply.Result.(map[string]interface{})
	if !ok || result["pong"] != "ok" {
		t.Errorf("reply.Result = %#v, want pong:ok", reply.Result)
	}
}

func TestDispatchMethodNotFound(t *testing.T) {
	var out bytes.Buffer
	d := New(&out, nopLogger{}, 4)

	d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":"1","method":"nope"}`))

	var reply message
	if err := json.Unmarshal(frameBody(t, out.Bytes()), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Error == nil || reply.Error.Code != -32601 {
		t.Errorf("reply.Error = %+v, want code -32601", reply.Error)
	}
}

func TestDispatchCodedErrorPropagatesCode(t *testing.T) {
	var out bytes.Buffer
	d := New(&out, nopLogger{}, 4)
	d.RegisterRequest("fail", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, &testError{code: -32800, msg: "cancelled"}
	})

	d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":"1","method":"fail"}`))
	d.Wait()

	var reply message
	if err := json.Unmarshal(frameBody(t, out.Bytes()), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Error == nil || reply.Error.Code != -32800 {
		t.Errorf("reply.Error = %+v, want code -32800", reply.Error)
	}
}

func TestDispatchNotificationRunsSynchronously(t *testing.T) {
	var out bytes.Buffer
	d := New(&out, nopLogger{}, 4)

	called := make(chan struct{}, 1)
	d.RegisterNotification("build/initialized", func(ctx context.Context, params json.RawMessage) {
		called <- struct{}{}
	})

	d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"build/initialized"}`))

	select {
	case <-called:
	default:
		t.Fatal("notification handler was not invoked synchronously")
	}
}

func TestDispatchCancelRequestCancelsContext(t *testing.T) {
	var out bytes.Buffer
	d := New(&out, nopLogger{}, 4)

	started := make(chan struct{})
	d.RegisterRequest("slow", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, &testError{code: -32800, msg: "cancelled"}
	})

	d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":"7","method":"slow"}`))
	<-started
	d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"$/cancelRequest","params":{"id":"7"}}`))

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not unblock the in-flight handler")
	}

	var reply message
	if err := json.Unmarshal(frameBody(t, out.Bytes()), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Error == nil || reply.Error.Code != -32800 {
		t.Errorf("reply.Error = %+v, want code -32800", reply.Error)
	}
}

// frameBody strips the Content-Length header a write() call produced,
// returning just the JSON body, for a buffer known to hold exactly one frame.
func frameBody(t *testing.T, framed []byte) []byte {
	t.Helper()
	idx := bytes.Index(framed, []byte("\r\n\r\n"))
	if idx < 0 {
		t.Fatalf("frame missing header separator: %q", framed)
	}
	return framed[idx+4:]
}
