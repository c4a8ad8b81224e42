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

// Package targetstore is the stateful heart of the adapter: it runs
// Bazel's cquery/aquery, decodes the resulting protobuf action graph, and
// answers queries about build targets, their sources, and their platform
// build labels. Grounded on bazel/aquery.go's depset/artifact/action-graph
// bookkeeping, replayed over analysispb's hand-rolled decoders instead of
// the generated analysis_v2 package.
package targetstore

import (
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
)

// ChangeKind is the kind of filesystem event OnWatchedFilesDidChange
// reports for a single URI.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeChanged
	ChangeDeleted
)

// FileChange is one entry of an OnWatchedFilesDidChange notification.
type FileChange struct {
	URI  string
	Kind ChangeKind
}

// BuildTarget is a stable, BSP-addressable build unit: a Bazel label plus
// the source files it owns and a reference back to the top-level target
// (application or test bundle) it is reachable from.
type BuildTarget struct {
	ID         string // BSP URI, derived 1:1 from Label
	Label      string
	RuleKind   string
	Sources    []string // source URIs
	ParentInfo BazelTargetPlatformInfo
}

// BazelTargetPlatformInfo carries the information needed to build a
// specific BuildTarget under the right rules_apple platform transition:
// the effective label to build, and the top-level parent's label, rule
// type and configuration.
type BazelTargetPlatformInfo struct {
	// PlatformBuildLabel is the label to pass to `bazel build`: normally
	// the target's own label, except when CompileTopLevel folds every
	// dependency's build into its top-level parent's build.
	PlatformBuildLabel string

	ParentLabel    string
	ParentRuleType bspconfig.TopLevelRuleType
	// ConfigurationChecksum is the checksum of the cquery configuration the
	// target itself was resolved under (the one duplicateTargetWarning kept
	// when its label appeared under two different configurations).
	ConfigurationChecksum string
}

// TargetProto is one aquery target: its label and the target id its
// actions are recorded under. indexAqueryResult fills only Label and
// TargetId; RuleClass, ConfigurationChecksum, Srcs and Deps stay empty.
type TargetProto struct {
	Label                 string
	TargetId              uint32
	RuleClass             string
	ConfigurationChecksum string
	Srcs                  []string
	Deps                  []string
}

// ActionProto is the subset of an aquery Action the extractor needs: the
// raw argv and the configuration it was analyzed under, so that a target
// built under two platform configurations can be disambiguated.
type ActionProto struct {
	Mnemonic        string
	ConfigurationId uint32
	Arguments       []string
	PrimaryInput    string // last input artifact with a source extension, else the last argv token with one; used to match ObjcCompile actions to a requested file
}

// AqueryResult is the two maps §3 describes: labels to their TargetProto,
// and target ids to every action recorded against that target (a target
// may appear more than once across platform configurations).
type AqueryResult struct {
	Targets map[string]*TargetProto
	Actions map[uint32][]*ActionProto
}
