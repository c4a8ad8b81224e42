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

// Package extractor resolves a document's standalone compiler invocation:
// given an AqueryResult and a target's platform info, find the one
// recorded action that compiles the requested file and hand its argv to
// the rewriter. Grounded on bazel/aquery.go's target-id/action indexing,
// narrowed to the single-action lookup this spec calls for rather than
// the full build-statement reconstruction the teacher does.
package extractor

import (
	"strings"
	"sync"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/rewrite"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/targetstore"
)

// Request identifies the single compiler invocation to extract.
type Request struct {
	TargetLabel  string
	FilePath     string // "" for Swift, where the whole module is one request
	Language     rewrite.Language
	PlatformInfo targetstore.BazelTargetPlatformInfo
}

func (r Request) cacheKey() string {
	return r.TargetLabel + "\x00" + r.FilePath
}

// Extractor resolves and caches rewritten argv by (target label, file path).
type Extractor struct {
	cfg      rewrite.Config
	sdkPaths map[string]string

	mu    sync.Mutex
	cache map[string]*rewrite.Result
}

// New returns an Extractor that substitutes paths from cfg into every
// rewritten argv it produces, resolving cfg.SDKRoot per request from
// sdkPaths keyed by the requested target's platform SDK name (each
// top-level rule type names a different SDK — iphonesimulator, macosx,
// etc — so one fixed SDKRoot in cfg would be wrong for a multi-platform
// workspace).
func New(cfg rewrite.Config, sdkPaths map[string]string) *Extractor {
	return &Extractor{cfg: cfg, sdkPaths: sdkPaths, cache: map[string]*rewrite.Result{}}
}

// ClearCache discards every cached extraction, called by the file-watch
// debouncer after a batch that creates or deletes a file.
func (e *Extractor) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = map[string]*rewrite.Result{}
}

// Extract resolves req against aq, returning the rewritten argv, or nil if
// no matching action exists (e.g. a header request, or a file the aquery
// never recorded a compile action for).
func (e *Extractor) Extract(aq *targetstore.AqueryResult, req Request) (*rewrite.Result, error) {
	if req.Language != rewrite.LanguageSwift && strings.HasSuffix(req.FilePath, ".h") {
		// Header requests never have a compile action of their own.
		return nil, nil
	}

	e.mu.Lock()
	if cached, ok := e.cache[req.cacheKey()]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	target, ok := aq.Targets[req.TargetLabel]
	if !ok {
		return nil, nil
	}

	action := selectAction(aq, target, req)
	if action == nil {
		return nil, nil
	}

	cfg := e.cfg
	cfg.SDKRoot = e.sdkPaths[req.PlatformInfo.ParentRuleType.SDKName()]
	result := rewrite.Rewrite(action.Arguments, req.Language, req.FilePath, cfg)

	e.mu.Lock()
	e.cache[req.cacheKey()] = &result
	e.mu.Unlock()

	return &result, nil
}

// selectAction finds, among the actions recorded for target's target id,
// the one matching req's language and (for Objective-C) primary input
// file, per §4.5's "selects the one matching the platform configuration"
// contract.
func selectAction(aq *targetstore.AqueryResult, target *targetstore.TargetProto, req Request) *targetstore.ActionProto {
	want := mnemonicFor(req.Language)
	for _, a := range aq.Actions[target.TargetId] {
		if a.Mnemonic != want {
			continue
		}
		if req.Language == rewrite.LanguageSwift || a.PrimaryInput == req.FilePath {
			return a
		}
	}
	return nil
}

func mnemonicFor(lang rewrite.Language) string {
	if lang == rewrite.LanguageSwift {
		return "SwiftCompile"
	}
	return "ObjcCompile"
}

// ConfigFromServer builds a rewrite.Config template from the adapter's
// initialized configuration, matching §4.3's input contract. SDKRoot is
// left zero-valued; Extract resolves it per request (see New).
func ConfigFromServer(cfg *bspconfig.InitializedServerConfig) rewrite.Config {
	return rewrite.Config{
		RootURI:        cfg.RootPath,
		DeveloperDir:   cfg.XcodeDeveloperDir,
		OutputPath:     cfg.OutputPath,
		OutputBase:     cfg.OutputBase,
		ExecutionRoot:  cfg.ExecutionRoot,
		IndexStorePath: cfg.IndexStorePath,
	}
}
