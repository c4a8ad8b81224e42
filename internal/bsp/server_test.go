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
	"sort"
	"testing"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
)

func TestSDKNamesForDedupesSharedSDKs(t *testing.T) {
	ios, err := bspconfig.LookupTopLevelRuleType("ios_application")
	if err != nil {
		t.Fatalf("LookupTopLevelRuleType(ios_application): %v", err)
	}
	iosTest, err := bspconfig.LookupTopLevelRuleType("ios_unit_test")
	if err != nil {
		t.Fatalf("LookupTopLevelRuleType(ios_unit_test): %v", err)
	}
	macos, err := bspconfig.LookupTopLevelRuleType("macos_application")
	if err != nil {
		t.Fatalf("LookupTopLevelRuleType(macos_application): %v", err)
	}

	base := &bspconfig.BaseServerConfig{
		AllowedTopLevelRuleTypes: []bspconfig.TopLevelRuleType{ios, iosTest, macos},
	}

	got := sdkNamesFor(base)
	sort.Strings(got)
	want := []string{"iphonesimulator", "macosx"}
	if len(got) != len(want) {
		t.Fatalf("sdkNamesFor = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sdkNamesFor = %v, want %v", got, want)
		}
	}
}

func TestSDKNamesForEmpty(t *testing.T) {
	if got := sdkNamesFor(&bspconfig.BaseServerConfig{}); len(got) != 0 {
		t.Errorf("sdkNamesFor(empty) = %v, want empty", got)
	}
}
