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

package watch

import (
	"testing"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/targetstore"
)

func TestSupportedExtension(t *testing.T) {
	cases := []struct {
		uri  string
		want bool
	}{
		{"file:///a/b/Foo.swift", true},
		{"file:///a/b/Foo.h", true},
		{"file:///a/b/Foo.m", true},
		{"file:///a/b/Foo.mm", false},
		{"file:///a/b/BUILD.bazel", false},
		{"file:///a/b/Readme.md", false},
	}
	for _, c := range cases {
		if got := supportedExtension(c.uri); got != c.want {
			t.Errorf("supportedExtension(%q) = %v, want %v", c.uri, got, c.want)
		}
	}
}

func TestToChangeKind(t *testing.T) {
	cases := []struct {
		kind string
		want targetstore.ChangeKind
	}{
		{"create", targetstore.ChangeCreated},
		{"delete", targetstore.ChangeDeleted},
		{"change", targetstore.ChangeChanged},
		{"", targetstore.ChangeChanged},
	}
	for _, c := range cases {
		if got := toChangeKind(c.kind); got != c.want {
			t.Errorf("toChangeKind(%q) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestObserveIgnoresUnsupportedExtensions(t *testing.T) {
	d := &Debouncer{}
	d.Observe([]RawChange{{URI: "file:///a/b/Foo.mm", Kind: "change"}})

	if len(d.pending) != 0 {
		t.Errorf("pending = %v, want empty after an unsupported-extension change", d.pending)
	}
	if d.timer != nil {
		t.Error("timer armed despite no supported-extension change observed")
	}
}

func TestObserveQueuesSupportedExtension(t *testing.T) {
	d := &Debouncer{}
	d.Observe([]RawChange{{URI: "file:///a/b/Foo.swift", Kind: "create"}})

	if len(d.pending) != 1 {
		t.Fatalf("pending = %v, want 1 entry", d.pending)
	}
	if d.pending[0].Kind != targetstore.ChangeCreated {
		t.Errorf("pending[0].Kind = %v, want ChangeCreated", d.pending[0].Kind)
	}
	if d.timer == nil {
		t.Error("timer not armed after a supported-extension change")
	}
	d.Stop()
}

func TestStopPreventsFurtherObserve(t *testing.T) {
	d := &Debouncer{}
	d.Stop()
	d.Observe([]RawChange{{URI: "file:///a/b/Foo.swift", Kind: "create"}})

	if len(d.pending) != 0 {
		t.Errorf("pending = %v, want empty once stopped", d.pending)
	}
}
