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

package bspconfig

import "fmt"

// Platform is the rules_apple platform name a top-level rule builds for.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformMacOS   Platform = "macos"
	PlatformWatchOS Platform = "watchos"
	PlatformTVOS    Platform = "tvos"
)

// TopLevelRuleType describes one of the Bazel rule kinds that can anchor a
// build graph (an application or test bundle), carrying the platform
// metadata needed to replicate rules_apple's implicit transition when
// building a dependency directly (see BazelTargetPlatformInfo and
// buildTarget/prepare in the handlers package).
type TopLevelRuleType struct {
	kind            string
	platform        Platform
	cpuPrefix       string
	cpu             string
	cpuFlagName     string
	minOSFlagName   string
	minOS           string
	sdkName         string
	testBundleRule  string // empty if this rule kind has no associated test bundle
}

// Kind returns the Bazel rule kind this type describes, e.g. "ios_application".
func (t TopLevelRuleType) Kind() string { return t.kind }

// Platform returns the rules_apple platform name, e.g. "ios".
func (t TopLevelRuleType) Platform() Platform { return t.platform }

// CPUPrefix returns the legacy --cpu prefix, e.g. "sim" for simulator builds.
func (t TopLevelRuleType) CPUPrefix() string { return t.cpuPrefix }

// CPU returns the target CPU, e.g. "arm64" or "x86_64".
func (t TopLevelRuleType) CPU() string { return t.cpu }

// CPUFlagName returns the platform-specific CPU flag name used in a
// transition, e.g. "ios_multi_cpus".
func (t TopLevelRuleType) CPUFlagName() string { return t.cpuFlagName }

// MinOSFlagName returns the platform-specific minimum-OS flag name, e.g.
// "ios_minimum_os".
func (t TopLevelRuleType) MinOSFlagName() string { return t.minOSFlagName }

// SDKName returns the Xcode SDK name to resolve via xcrun, e.g. "iphonesimulator".
func (t TopLevelRuleType) SDKName() string { return t.sdkName }

// MinOS returns the platform's configured minimum OS version, e.g. "15.0".
func (t TopLevelRuleType) MinOS() string { return t.minOS }

// TestBundleRule returns the associated *_unit_test rule kind this top-level
// rule can anchor, or "" if it has none.
func (t TopLevelRuleType) TestBundleRule() string { return t.testBundleRule }

// TransitionFlags returns the rules_apple platform-transition flags
// buildTarget/prepare must pass when building a single dependency target
// directly (compile_top_level disabled), replicating the implicit
// transition a top-level rule would otherwise apply, per §4.6.
func (t TopLevelRuleType) TransitionFlags(appleSupportRepo string) []string {
	platform := string(t.platform)
	cpu := t.cpu
	cpuValue := cpu
	if t.cpuPrefix != "" {
		cpuValue = t.cpuPrefix + "_" + cpu
	}
	return []string{
		fmt.Sprintf("--platforms=@%s//platforms:%s_%s", appleSupportRepo, platform, cpu),
		fmt.Sprintf("--%s=%s", t.cpuFlagName, cpu),
		fmt.Sprintf("--apple_platform_type=%s", platform),
		fmt.Sprintf("--apple_split_cpu=%s", cpu),
		fmt.Sprintf("--%s=%q", t.minOSFlagName, t.minOS),
		fmt.Sprintf("--cpu=%s", cpuValue),
		fmt.Sprintf("--minimum_os_version=%q", t.minOS),
	}
}

// DependencyRuleType describes one of the Bazel rule kinds that can appear
// as a dependency of a top-level target (a library, a test bundle it owns,
// or a bare alias/source file entry discovered by the cquery expression).
type DependencyRuleType struct {
	kind     string
	language string // "swift" or "objc", or "" for non-compiled kinds (alias, source file, test bundles)
}

// Kind returns the Bazel rule kind this type describes, e.g. "swift_library".
func (d DependencyRuleType) Kind() string { return d.kind }

// Language returns the source language this rule kind compiles, or "" if
// the kind isn't a compiled rule (e.g. "alias").
func (d DependencyRuleType) Language() string { return d.language }

var topLevelRuleTypes = map[string]TopLevelRuleType{
	"ios_application": {
		kind: "ios_application", platform: PlatformIOS, cpuPrefix: "sim",
		cpu: "arm64", cpuFlagName: "ios_multi_cpus", minOSFlagName: "ios_minimum_os", minOS: "15.0",
		sdkName: "iphonesimulator", testBundleRule: "ios_unit_test",
	},
	"ios_unit_test": {
		kind: "ios_unit_test", platform: PlatformIOS, cpuPrefix: "sim",
		cpu: "arm64", cpuFlagName: "ios_multi_cpus", minOSFlagName: "ios_minimum_os", minOS: "15.0",
		sdkName: "iphonesimulator",
	},
	"macos_application": {
		kind: "macos_application", platform: PlatformMacOS, cpuPrefix: "",
		cpu: "arm64", cpuFlagName: "macos_cpus", minOSFlagName: "macos_minimum_os", minOS: "12.0",
		sdkName: "macosx", testBundleRule: "macos_unit_test",
	},
	"macos_unit_test": {
		kind: "macos_unit_test", platform: PlatformMacOS, cpuPrefix: "",
		cpu: "arm64", cpuFlagName: "macos_cpus", minOSFlagName: "macos_minimum_os", minOS: "12.0",
		sdkName: "macosx",
	},
	"watchos_application": {
		kind: "watchos_application", platform: PlatformWatchOS, cpuPrefix: "sim",
		cpu: "arm64", cpuFlagName: "watchos_cpus", minOSFlagName: "watchos_minimum_os", minOS: "8.0",
		sdkName: "watchsimulator",
	},
	"tvos_application": {
		kind: "tvos_application", platform: PlatformTVOS, cpuPrefix: "sim",
		cpu: "arm64", cpuFlagName: "tvos_cpus", minOSFlagName: "tvos_minimum_os", minOS: "15.0",
		sdkName: "appletvsimulator", testBundleRule: "tvos_unit_test",
	},
	"tvos_unit_test": {
		kind: "tvos_unit_test", platform: PlatformTVOS, cpuPrefix: "sim",
		cpu: "arm64", cpuFlagName: "tvos_cpus", minOSFlagName: "tvos_minimum_os", minOS: "15.0",
		sdkName: "appletvsimulator",
	},
}

var dependencyRuleTypes = map[string]DependencyRuleType{
	"swift_library":  {kind: "swift_library", language: "swift"},
	"objc_library":   {kind: "objc_library", language: "objc"},
	"alias":          {kind: "alias", language: ""},
	"source file":    {kind: "source file", language: ""},
	"ios_unit_test":  {kind: "ios_unit_test", language: ""},
	"macos_unit_test": {kind: "macos_unit_test", language: ""},
	"tvos_unit_test":  {kind: "tvos_unit_test", language: ""},
}

// LookupTopLevelRuleType returns the metadata for a top-level Bazel rule
// kind, or an error if kind isn't one of the known top-level kinds.
func LookupTopLevelRuleType(kind string) (TopLevelRuleType, error) {
	t, ok := topLevelRuleTypes[kind]
	if !ok {
		return TopLevelRuleType{}, fmt.Errorf("unknown top-level rule type %q", kind)
	}
	return t, nil
}

// LookupDependencyRuleType returns the metadata for a dependency Bazel rule
// kind, or an error if kind isn't one of the known dependency kinds.
func LookupDependencyRuleType(kind string) (DependencyRuleType, error) {
	t, ok := dependencyRuleTypes[kind]
	if !ok {
		return DependencyRuleType{}, fmt.Errorf("unknown dependency rule type %q", kind)
	}
	return t, nil
}

// IsTestBundleRule reports whether kind is any top-level rule type's
// associated test bundle rule (used to decide whether a dependency-kind
// target discovered by the cquery expression should be followed to its
// test-suite parent).
func IsTestBundleRule(kind string) bool {
	for _, t := range topLevelRuleTypes {
		if t.testBundleRule == kind {
			return true
		}
	}
	return false
}
