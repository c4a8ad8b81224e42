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

// Package bspconfig holds the two configuration structs the adapter carries
// for its whole lifetime: a BaseServerConfig built once from CLI flags, and
// an InitializedServerConfig derived once from the client's `initialize`
// request and never replaced afterwards.
package bspconfig

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/blueprint/proptools"
)

// BaseServerConfig is supplied by CLI flags at process start and is
// immutable for the lifetime of the server.
type BaseServerConfig struct {
	// BazelWrapper is the command used to invoke Bazel, e.g. "bazel" or a
	// path to a wrapper script that sets up a workspace-specific env first.
	BazelWrapper string

	// TargetPatterns are the top-level Bazel target patterns this server
	// treats as the roots of the build graph (e.g. "//App/...").
	TargetPatterns []string

	// ExtraIndexFlags are appended to every indexing build (BazelCommand's
	// Build and PrepareBuild), after the server's own required flags; the
	// cquery/aquery invocations don't carry them.
	ExtraIndexFlags []string

	// FileWatchGlobs optionally restricts which paths the client is asked
	// to watch; a nil slice means the server advertises its default
	// **/*.swift, **/*.h and **/*.m watchers.
	FileWatchGlobs []string

	// CompileTopLevel, if set, folds each dependency's buildTarget/prepare
	// build into its top-level parent: the parent label is built instead,
	// with no platform-transition flags.
	CompileTopLevel *bool

	// AllowedTopLevelRuleTypes and AllowedDependencyRuleTypes restrict which
	// rule kinds the target store will traverse, defaulting to every kind
	// known to LookupTopLevelRuleType / LookupDependencyRuleType when unset.
	AllowedTopLevelRuleTypes  []TopLevelRuleType
	AllowedDependencyRuleTypes []DependencyRuleType

	// ExcludePatterns are target patterns subtracted from TargetPatterns
	// (with `except`) before any query runs, e.g. "//App/ThirdParty/...".
	ExcludePatterns []string

	// AppleSupportRepo is the repository name rules_apple's toolchain
	// resolution is anchored on (e.g. "build_bazel_apple_support"), used as
	// the repository of the --platforms label in buildTarget/prepare's
	// transition flags.
	AppleSupportRepo string
}

// CompilesTopLevel reports whether top-level targets should be compiled,
// defaulting to false when unset, the same optional-bool idiom
// bazel/properties.go uses for Bazel rule attributes.
func (c *BaseServerConfig) CompilesTopLevel() bool {
	return proptools.BoolDefault(c.CompileTopLevel, false)
}

// NewBaseServerConfig validates and constructs a BaseServerConfig from CLI
// flag values. An empty AllowedTopLevelRuleTypes/AllowedDependencyRuleTypes
// is filled with every known rule type.
func NewBaseServerConfig(bazelWrapper string, targetPatterns, extraIndexFlags, fileWatchGlobs, excludePatterns []string, compileTopLevel bool, appleSupportRepo string) (*BaseServerConfig, error) {
	if bazelWrapper == "" {
		return nil, fmt.Errorf("bspconfig: bazel wrapper command must not be empty")
	}
	if len(targetPatterns) == 0 {
		return nil, fmt.Errorf("bspconfig: at least one target pattern is required")
	}
	if appleSupportRepo == "" {
		appleSupportRepo = "build_bazel_apple_support"
	}

	cfg := &BaseServerConfig{
		BazelWrapper:     bazelWrapper,
		TargetPatterns:   targetPatterns,
		ExtraIndexFlags:  extraIndexFlags,
		FileWatchGlobs:   fileWatchGlobs,
		CompileTopLevel:  proptools.BoolPtr(compileTopLevel),
		ExcludePatterns:  excludePatterns,
		AppleSupportRepo: appleSupportRepo,
	}
	for kind := range topLevelRuleTypes {
		t, _ := LookupTopLevelRuleType(kind)
		cfg.AllowedTopLevelRuleTypes = append(cfg.AllowedTopLevelRuleTypes, t)
	}
	for kind := range dependencyRuleTypes {
		d, _ := LookupDependencyRuleType(kind)
		cfg.AllowedDependencyRuleTypes = append(cfg.AllowedDependencyRuleTypes, d)
	}
	return cfg, nil
}

// TargetsAndExclusions joins TargetPatterns and ExcludePatterns into the
// single Bazel query expression the target store issues, e.g.
// "//App/... except //App/ThirdParty/...", returned as a one-element slice.
func (c *BaseServerConfig) TargetsAndExclusions() []string {
	expr := strings.Join(c.TargetPatterns, " + ")
	for _, ex := range c.ExcludePatterns {
		expr += " except " + ex
	}
	return []string{expr}
}

// InitializedServerConfig is derived exactly once, inside the `initialize`
// handler, from the client's rootUri and the base config, and held for the
// rest of the process's lifetime.
type InitializedServerConfig struct {
	Base *BaseServerConfig

	// RootURI is the workspace root the client reported at initialize.
	RootURI string
	// RootPath is RootURI with the file:// scheme stripped.
	RootPath string
	// WorkspaceName is the last path component of RootPath.
	WorkspaceName string

	// OutputBase is a dedicated Bazel output_base this server uses for all
	// of its own queries and builds, kept separate from the user's own
	// interactive `bazel build` output_base to avoid lock contention.
	OutputBase string
	// OutputPath is the `bazel-out`-equivalent path under OutputBase.
	OutputPath string
	// ExecutionRoot is Bazel's execution_root under OutputBase.
	ExecutionRoot string

	// XcodeDeveloperDir is the resolved `xcode-select -p` developer
	// directory used to substitute __BAZEL_XCODE_DEVELOPER_DIR__.
	XcodeDeveloperDir string
	// ToolchainPath is the resolved Swift/Clang toolchain directory,
	// derived from `xcrun --find swift`.
	ToolchainPath string
	// SDKPaths maps an SDK name (e.g. "iphonesimulator") to its resolved
	// SDK root path, used to substitute __BAZEL_XCODE_SDKROOT__.
	SDKPaths map[string]string

	// IndexStorePath and IndexDatabasePath are derived once from
	// OutputPath and reported in the initialize reply; IndexStorePath is
	// also written into every rewritten compiler argv.
	IndexStorePath    string
	IndexDatabasePath string
}

// IndexingOutputBaseSuffix is appended to the user's own `bazel info
// output_base` to derive this server's dedicated indexing output_base,
// per §4.6/§8 Scenario 1 ("/tmp/ob" -> "/tmp/ob-sourcekit-bazel-bsp").
const IndexingOutputBaseSuffix = "-sourcekit-bazel-bsp"

// NewInitializedServerConfig derives an InitializedServerConfig from the
// client-reported rootURI and the already-validated base config.
// outputBase, outputPath and executionRoot are the real values Bazel
// itself reported (via `bazel info output_base`, then `bazel
// --output_base=<outputBase> info output_path|execution_root`);
// xcodeDeveloperDir, toolchainPath and sdkPaths are likewise resolved by
// the caller, typically by shelling out to bazel/xcode-select/xcrun, and
// passed in rather than resolved here, keeping this constructor free of
// subprocess side effects.
func NewInitializedServerConfig(base *BaseServerConfig, rootURI, outputBase, outputPath, executionRoot, xcodeDeveloperDir, toolchainPath string, sdkPaths map[string]string) (*InitializedServerConfig, error) {
	rootPath, err := filePathFromURI(rootURI)
	if err != nil {
		return nil, err
	}

	workspaceName := filepath.Base(rootPath)

	return &InitializedServerConfig{
		Base:              base,
		RootURI:           rootURI,
		RootPath:          rootPath,
		WorkspaceName:     workspaceName,
		OutputBase:        outputBase,
		OutputPath:        outputPath,
		ExecutionRoot:     executionRoot,
		XcodeDeveloperDir: xcodeDeveloperDir,
		ToolchainPath:     toolchainPath,
		SDKPaths:          sdkPaths,
		IndexStorePath:    filepath.Join(outputPath, "_global_index_store"),
		IndexDatabasePath: filepath.Join(outputPath, "_global_index_db"),
	}, nil
}

// SDKPath returns the resolved SDK root path for the given SDK name, or ""
// if it wasn't resolved at initialize time.
func (c *InitializedServerConfig) SDKPath(sdkName string) string {
	return c.SDKPaths[sdkName]
}

func filePathFromURI(uri string) (string, error) {
	const scheme = "file://"
	if len(uri) < len(scheme) || uri[:len(scheme)] != scheme {
		return "", fmt.Errorf("bspconfig: rootUri %q is not a file:// URI", uri)
	}
	return uri[len(scheme):], nil
}
