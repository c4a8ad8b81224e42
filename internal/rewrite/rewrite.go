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

// Package rewrite turns the raw argv of a Bazel SwiftCompile or ObjcCompile
// action into a standalone argv an indexer can run outside the Bazel
// sandbox: wrapper tokens dropped, placeholders substituted, bazel-out/
// and external/ prefixes rewritten to absolute paths, and an
// -index-store-path pointed at the server's own global index store.
//
// Grounded on chriscraws/generate_compile_commands.go's per-argument
// rewrite loop, generalized from that program's Objective-C-only, CLI-tool
// rewrite to the full Swift+Objective-C contract a persistent BSP server
// needs.
package rewrite

import (
	"strings"

	"github.com/google/blueprint/pathtools"
)

// Language is the document language a compile action belongs to.
type Language int

const (
	LanguageObjC Language = iota
	LanguageSwift
)

// Config carries the resolved paths a rewrite substitutes into argv.
type Config struct {
	RootURI        string
	SDKRoot        string
	DeveloperDir   string
	OutputPath     string // replaces bazel-out/ prefixes
	OutputBase     string // replaces external/ prefixes, as <OutputBase>/external/
	ExecutionRoot  string
	IndexStorePath string
}

// Result is a rewritten argv plus any non-fatal warnings discovered along
// the way (see Warnings).
type Result struct {
	Argv     []string
	Warnings []string
}

const (
	flagEmitConstValuesPath = "-emit-const-values-path"
)

// Rewrite transforms the raw argv of a single compile action, previously
// selected from an aquery's action list, for lang (LanguageSwift or
// LanguageObjC) against the primary input inputPath (used only to decide
// whether an Objective-C input is a .m file; callers already matched the
// action to this file).
func Rewrite(argv []string, lang Language, inputPath string, cfg Config) Result {
	argv = dropWrapperTokens(argv, lang)

	var out []string
	var warnings []string
	isObjCM := lang == LanguageObjC && strings.HasSuffix(inputPath, ".m")

	for i := 0; i < len(argv); i++ {
		arg := argv[i]

		switch {
		case strings.HasPrefix(arg, "-Xwrapped-swift"):
			continue
		case arg == "-enable-batch-mode":
			continue
		case arg == flagEmitConstValuesPath:
			i++ // also drop the path token that follows
			continue
		case isObjCM && arg == "-c":
			continue
		}

		rewritten, warn := rewriteArg(arg, cfg)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		out = append(out, rewritten)
	}

	if isObjCM {
		out = append([]string{"-x", "objective-c"}, out...)
	}

	if lang == LanguageObjC {
		out = append(out, "-index-store-path", cfg.IndexStorePath, "-working-directory", cfg.RootURI)
	} else {
		out = redirectSwiftIndexStorePath(out, cfg.IndexStorePath)
	}

	return Result{Argv: out, Warnings: warnings}
}

// dropWrapperTokens removes the leading binary-invocation tokens Bazel
// prepends to the action's argv: worker + swiftc for Swift, clang alone
// for Objective-C.
func dropWrapperTokens(argv []string, lang Language) []string {
	n := 1
	if lang == LanguageSwift {
		n = 2
	}
	if len(argv) < n {
		return nil
	}
	return argv[n:]
}

func rewriteArg(arg string, cfg Config) (string, string) {
	var warning string

	if strings.Contains(arg, "__BAZEL_EXECUTION_ROOT__") {
		arg = strings.ReplaceAll(arg, "__BAZEL_EXECUTION_ROOT__", cfg.RootURI)
	}
	if strings.Contains(arg, "__BAZEL_XCODE_SDKROOT__") {
		arg = strings.ReplaceAll(arg, "__BAZEL_XCODE_SDKROOT__", cfg.SDKRoot)
	}
	if strings.Contains(arg, "__BAZEL_XCODE_DEVELOPER_DIR__") {
		arg = strings.ReplaceAll(arg, "__BAZEL_XCODE_DEVELOPER_DIR__", cfg.DeveloperDir)
	}

	if hasPathPrefix(arg, "bazel-out/") || strings.Contains(arg, "/bazel-out/") {
		if before := warnIfAlreadyRewritten(arg, "bazel-out/"); before {
			warning = "argument already contained a literal bazel-out/ path segment before rewriting"
		}
		arg = rewritePrefixedPath(arg, "bazel-out/", cfg.OutputPath+"/")
	}
	if hasPathPrefix(arg, "external/") || strings.Contains(arg, "/external/") {
		if before := warnIfAlreadyRewritten(arg, "external/"); before {
			warning = "argument already contained a literal external/ path segment before rewriting"
		}
		arg = rewritePrefixedPath(arg, "external/", cfg.OutputBase+"/external/")
	}

	if strings.HasSuffix(arg, ".swift") && !strings.HasPrefix(arg, "/") && !strings.HasPrefix(arg, "-") {
		arg = pathtools.PrefixPaths([]string{arg}, cfg.RootURI)[0]
	}

	if strings.HasPrefix(arg, "-fmodule-map-file=") {
		rel := strings.TrimPrefix(arg, "-fmodule-map-file=")
		if !strings.HasPrefix(rel, "/") {
			arg = "-fmodule-map-file=" + pathtools.PrefixPaths([]string{rel}, cfg.RootURI)[0]
		}
	}

	return arg, warning
}

// hasPathPrefix reports whether arg's value (ignoring any leading flag
// like "-I") begins with prefix.
func hasPathPrefix(arg, prefix string) bool {
	return strings.HasPrefix(arg, prefix) || strings.HasPrefix(stripFlagPrefix(arg), prefix)
}

// stripFlagPrefix strips a leading short-flag letter sequence (e.g. "-I",
// "-F") so a prefix check can look at just the path portion.
func stripFlagPrefix(arg string) string {
	if len(arg) > 2 && arg[0] == '-' && (arg[1] == 'I' || arg[1] == 'F') {
		return arg[2:]
	}
	return arg
}

// rewritePrefixedPath replaces the first occurrence of prefix, wherever it
// appears (at the start of the argument or after a flag letter), with
// replacement.
func rewritePrefixedPath(arg, prefix, replacement string) string {
	idx := strings.Index(arg, prefix)
	if idx < 0 {
		return arg
	}
	return arg[:idx] + replacement + arg[idx+len(prefix):]
}

// warnIfAlreadyRewritten reports whether arg's path portion, before the
// prefix we're about to rewrite, already looks like an absolute path
// segment containing the same marker a second time — a sign the argument
// can't be disambiguated (spec.md §9 Q2).
func warnIfAlreadyRewritten(arg, marker string) bool {
	return strings.Count(arg, marker) > 1
}

// redirectSwiftIndexStorePath edits an existing -index-store-path value in
// place, per §4.3: Swift actions already carry this flag pointing at the
// sandboxed index store, so it's overwritten rather than appended.
func redirectSwiftIndexStorePath(argv []string, indexStorePath string) []string {
	for i, arg := range argv {
		if arg == "-index-store-path" && i+1 < len(argv) {
			argv[i+1] = indexStorePath
		}
	}
	return argv
}
