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
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteFrameThenReadFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	br := bufio.NewReader(&buf)
	got, err := readFrame(br)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(got) != `{"hello":"world"}` {
		t.Errorf("readFrame = %q, want %q", got, `{"hello":"world"}`)
	}
}

func TestReadFrameMissingContentLength(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("X-Custom: 1\r\n\r\n{}"))
	if _, err := readFrame(br); err == nil {
		t.Fatal("readFrame: expected error for missing Content-Length, got nil")
	}
}

func TestReadFrameCaseInsensitiveHeader(t *testing.T) {
	raw := "content-length: 2\r\n\r\n{}"
	br := bufio.NewReader(strings.NewReader(raw))
	got, err := readFrame(br)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("readFrame = %q, want %q", got, "{}")
	}
}

func TestReadFrameTwoInSequence(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, []byte(`{"a":1}`))
	writeFrame(&buf, []byte(`{"b":2}`))

	br := bufio.NewReader(&buf)
	first, err := readFrame(br)
	if err != nil {
		t.Fatalf("readFrame #1: %v", err)
	}
	second, err := readFrame(br)
	if err != nil {
		t.Fatalf("readFrame #2: %v", err)
	}
	if string(first) != `{"a":1}` || string(second) != `{"b":2}` {
		t.Errorf("readFrame sequence = %q, %q", first, second)
	}
}
