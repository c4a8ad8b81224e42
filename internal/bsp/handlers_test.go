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

package bsp

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/targetstore"
)

func TestClassifySource(t *testing.T) {
	cases := []struct {
		uri  string
		want SourceKind
	}{
		{"file:///a/Foo.swift", SourceKindSwift},
		{"file:///a/Foo.h", SourceKindHeader},
		{"file:///a/Foo.hpp", SourceKindHeader},
		{"file:///a/Foo.m", SourceKindObjC},
		{"file:///a/Foo.mm", SourceKindObjC},
		{"file:///a/Foo.txt", SourceKindUnknown},
	}
	for _, c := range cases {
		if got := classifySource(c.uri); got != c.want {
			t.Errorf("classifySource(%q) = %v, want %v", c.uri, got, c.want)
		}
	}
}

func TestFilePathFromURI(t *testing.T) {
	if got, want := filePathFromURI("file:///a/b/Foo.swift"), "/a/b/Foo.swift"; got != want {
		t.Errorf("filePathFromURI = %q, want %q", got, want)
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"//a:a", "//b:b", "//a:a", "//c:c", "//b:b"})
	want := []string{"//a:a", "//b:b", "//c:c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dedupe mismatch (-want +got):\n%s", diff)
	}
}

func TestDedupeEmpty(t *testing.T) {
	if got := dedupe(nil); got != nil {
		t.Errorf("dedupe(nil) = %v, want nil", got)
	}
}

func TestLanguageID(t *testing.T) {
	cases := []struct {
		lang string
		want string
	}{
		{"objc", "objective-c"},
		{"swift", "swift"},
		{"", ""},
	}
	for _, c := range cases {
		if got := languageID(c.lang); got != c.want {
			t.Errorf("languageID(%q) = %q, want %q", c.lang, got, c.want)
		}
	}
}

func TestToWireTargets(t *testing.T) {
	appType, err := bspconfig.LookupTopLevelRuleType("ios_application")
	if err != nil {
		t.Fatalf("LookupTopLevelRuleType: %v", err)
	}

	in := []*targetstore.BuildTarget{
		{
			ID:       "bazel://App:App",
			Label:    "//App:App",
			RuleKind: "ios_application",
			ParentInfo: targetstore.BazelTargetPlatformInfo{
				PlatformBuildLabel: "//App:App",
				ParentLabel:        "//App:App",
				ParentRuleType:     appType,
			},
		},
		{
			ID:       "bazel://App:AppLib",
			Label:    "//App:AppLib",
			RuleKind: "swift_library",
			ParentInfo: targetstore.BazelTargetPlatformInfo{
				PlatformBuildLabel: "//App:AppLib",
				ParentLabel:        "//App:App",
				ParentRuleType:     appType,
			},
		},
		{
			ID:       "bazel://App:AppTests",
			Label:    "//App:AppTests",
			RuleKind: "ios_unit_test",
			ParentInfo: targetstore.BazelTargetPlatformInfo{
				PlatformBuildLabel: "//App:AppTests",
				ParentLabel:        "//App:App",
				ParentRuleType:     appType,
			},
		},
	}

	got := toWireTargets(in)
	if len(got) != 3 {
		t.Fatalf("toWireTargets returned %d targets, want 3", len(got))
	}

	if got[0].ID.URI != "bazel://App:App" {
		t.Errorf("got[0].ID.URI = %q, want bazel://App:App", got[0].ID.URI)
	}
	if len(got[0].Tags) != 0 {
		t.Errorf("got[0].Tags = %v, want empty (ios_application isn't a test bundle)", got[0].Tags)
	}

	if diff := cmp.Diff([]string{"swift"}, got[1].LanguageIds); diff != "" {
		t.Errorf("got[1].LanguageIds mismatch (-want +got):\n%s", diff)
	}

	if !contains(got[2].Tags, "test") {
		t.Errorf("got[2].Tags = %v, want to contain \"test\" (ios_unit_test is a test bundle rule)", got[2].Tags)
	}
	wantDep := []BuildTargetIdentifier{{URI: "bazel://" + "//App:App"}}
	if diff := cmp.Diff(wantDep, got[2].Dependencies); diff != "" {
		t.Errorf("got[2].Dependencies mismatch (-want +got):\n%s", diff)
	}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
