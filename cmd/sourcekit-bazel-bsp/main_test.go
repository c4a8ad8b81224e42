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

package main

import (
	"testing"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
)

func TestStringListSet(t *testing.T) {
	var s stringList
	if err := s.Set("a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("b"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(s) != 2 || s[0] != "a" || s[1] != "b" {
		t.Errorf("stringList = %v, want [a b]", s)
	}
}

func TestApplyRuleTypeFiltersDefaultsUnchangedWhenEmpty(t *testing.T) {
	base := &bspconfig.BaseServerConfig{}
	if err := applyRuleTypeFilters(base, nil, nil); err != nil {
		t.Fatalf("applyRuleTypeFilters: %v", err)
	}
	if base.AllowedTopLevelRuleTypes != nil || base.AllowedDependencyRuleTypes != nil {
		t.Errorf("applyRuleTypeFilters with no kinds mutated the defaults: %+v", base)
	}
}

func TestApplyRuleTypeFiltersRestrictsToNamedKinds(t *testing.T) {
	base := &bspconfig.BaseServerConfig{}
	if err := applyRuleTypeFilters(base, []string{"ios_application"}, []string{"swift_library"}); err != nil {
		t.Fatalf("applyRuleTypeFilters: %v", err)
	}
	if len(base.AllowedTopLevelRuleTypes) != 1 || base.AllowedTopLevelRuleTypes[0].Kind() != "ios_application" {
		t.Errorf("AllowedTopLevelRuleTypes = %+v, want [ios_application]", base.AllowedTopLevelRuleTypes)
	}
	if len(base.AllowedDependencyRuleTypes) != 1 || base.AllowedDependencyRuleTypes[0].Kind() != "swift_library" {
		t.Errorf("AllowedDependencyRuleTypes = %+v, want [swift_library]", base.AllowedDependencyRuleTypes)
	}
}

func TestApplyRuleTypeFiltersRejectsUnknownKind(t *testing.T) {
	base := &bspconfig.BaseServerConfig{}
	if err := applyRuleTypeFilters(base, []string{"not_a_real_rule"}, nil); err == nil {
		t.Fatal("applyRuleTypeFilters: expected an error for an unknown top-level rule kind")
	}
}
