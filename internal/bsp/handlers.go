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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bazelproc"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/extractor"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/rewrite"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/targetstore"
)

func (s *Server) handleWorkspaceBuildTargets(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	store, _, err := s.requireInitialized()
	if err != nil {
		return nil, err
	}
	targets, fetchErr := store.FetchTargets(ctx)
	if fetchErr != nil {
		return nil, NewInternalError(fetchErr)
	}
	return WorkspaceBuildTargetsResult{Targets: toWireTargets(targets)}, nil
}

func (s *Server) handleBuildTargetSources(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	store, _, err := s.requireInitialized()
	if err != nil {
		return nil, err
	}
	var params SourcesParams
	if jsonErr := json.Unmarshal(raw, &params); jsonErr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: jsonErr.Error()}
	}

	var items []SourcesItem
	for _, id := range params.Targets {
		srcs, srcErr := store.SourcesFor(ctx, id.URI)
		if srcErr != nil {
			return nil, NewInternalError(srcErr)
		}
		var sourceItems []SourceItem
		for _, uri := range srcs {
			sourceItems = append(sourceItems, SourceItem{URI: uri, Kind: classifySource(uri)})
		}
		items = append(items, SourcesItem{Target: id, Sources: sourceItems})
	}
	return SourcesResult{Items: items}, nil
}

func (s *Server) handleSourceKitOptions(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	store, ext, err := s.requireInitialized()
	if err != nil {
		return nil, err
	}
	var params SourceKitOptionsParams
	if jsonErr := json.Unmarshal(raw, &params); jsonErr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: jsonErr.Error()}
	}

	info, infoErr := store.PlatformInfoFor(ctx, params.Target.URI)
	if infoErr != nil {
		return nil, NewInternalError(infoErr)
	}
	aq, aqErr := store.AqueryForArgsExtraction(ctx)
	if aqErr != nil {
		return nil, NewInternalError(aqErr)
	}

	filePath := filePathFromURI(params.TextDocument.URI)
	lang := rewrite.LanguageObjC
	if params.Language == "swift" {
		lang = rewrite.LanguageSwift
		filePath = "" // a Swift module is extracted as a whole, not per file
	}

	result, extractErr := ext.Extract(aq, extractor.Request{
		TargetLabel:  info.PlatformBuildLabel,
		FilePath:     filePath,
		Language:     lang,
		PlatformInfo: info,
	})
	if extractErr != nil {
		return nil, NewInternalError(extractErr)
	}
	if result == nil {
		return nil, nil
	}
	s.mu.Lock()
	workingDir := s.cfg.RootPath
	s.mu.Unlock()
	return SourceKitOptionsResult{CompilerArguments: result.Argv, WorkingDirectory: workingDir}, nil
}

// handlePrepare runs buildTarget/prepare: a real `bazel build` of the
// requested targets, with task-progress notifications wrapping the whole
// invocation and cancellation honored via ctx (cancelled by a
// $/cancelRequest the dispatch core already wired to reqCtx).
func (s *Server) handlePrepare(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	store, _, err := s.requireInitialized()
	if err != nil {
		return nil, err
	}
	var params PrepareParams
	if jsonErr := json.Unmarshal(raw, &params); jsonErr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: jsonErr.Error()}
	}
	if len(params.Targets) == 0 {
		return struct{}{}, nil
	}

	s.mu.Lock()
	bazelCmd := s.bazelCmd
	base := s.cfg.Base
	events := s.events
	s.mu.Unlock()

	var labels, transitionFlags []string
	if base.CompilesTopLevel() {
		for _, id := range params.Targets {
			info, infoErr := store.PlatformInfoFor(ctx, id.URI)
			if infoErr != nil {
				return nil, NewInternalError(infoErr)
			}
			labels = append(labels, info.PlatformBuildLabel)
		}
		labels = dedupe(labels)
	} else {
		// batchSize=1 is advertised at initialize; a single target's
		// platform transition is what lets Bazel build it directly
		// without folding into its top-level parent.
		if len(params.Targets) != 1 {
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("buildTarget/prepare: batch size must be 1 when compile_top_level is disabled, got %d targets", len(params.Targets))}
		}
		info, infoErr := store.PlatformInfoFor(ctx, params.Targets[0].URI)
		if infoErr != nil {
			return nil, NewInternalError(infoErr)
		}
		labels = []string{info.PlatformBuildLabel}
		transitionFlags = info.ParentRuleType.TransitionFlags(base.AppleSupportRepo)
	}

	taskID := fmt.Sprintf("prepare-%d", atomic.AddUint64(&s.taskSeq, 1))
	s.disp.Notify("build/taskStart", TaskStartParams{TaskID: taskID, Message: fmt.Sprintf("Building %d target(s)", len(labels))})

	req := bazelCmd.PrepareBuild(labels, transitionFlags, base.ExtraIndexFlags)
	req.Dir = s.cfgRootPath()

	var proc *bazelproc.Process
	var runErr error
	events.Do("bsp.prepare", func() {
		proc, runErr = bazelproc.Run(ctx, req)
	})

	if proc != nil && proc.ExitCode() == bazelproc.BazelExitCancelled {
		s.disp.Notify("build/taskFinish", TaskFinishParams{TaskID: taskID, Status: "error", Message: "cancelled"})
		return nil, Cancelled
	}
	if ctx.Err() != nil {
		s.disp.Notify("build/taskFinish", TaskFinishParams{TaskID: taskID, Status: "error", Message: "cancelled"})
		return nil, Cancelled
	}
	if runErr != nil {
		s.disp.Notify("build/taskFinish", TaskFinishParams{TaskID: taskID, Status: "error", Message: runErr.Error()})
		if proc != nil {
			s.log.Chunked("buildTarget/prepare failed", string(proc.Stderr()))
		}
		return nil, NewInternalError(runErr)
	}

	s.disp.Notify("build/taskFinish", TaskFinishParams{TaskID: taskID, Status: "ok"})
	return struct{}{}, nil
}

func (s *Server) cfgRootPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.RootPath
}

func (s *Server) requireInitialized() (*targetstore.Store, *extractor.Extractor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return nil, nil, &Error{Code: CodeInternalError, Message: "build/initialize has not completed"}
	}
	return s.store, s.extractor, nil
}

func classifySource(uri string) SourceKind {
	switch {
	case strings.HasSuffix(uri, ".swift"):
		return SourceKindSwift
	case strings.HasSuffix(uri, ".h"), strings.HasSuffix(uri, ".hpp"):
		return SourceKindHeader
	case strings.HasSuffix(uri, ".m"), strings.HasSuffix(uri, ".mm"):
		return SourceKindObjC
	default:
		return SourceKindUnknown
	}
}

func filePathFromURI(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func toWireTargets(targets []*targetstore.BuildTarget) []BuildTarget {
	out := make([]BuildTarget, 0, len(targets))
	for _, t := range targets {
		var tags []string
		if bspconfig.IsTestBundleRule(t.RuleKind) {
			tags = append(tags, "test")
		}
		var langs []string
		if dep, err := bspconfig.LookupDependencyRuleType(t.RuleKind); err == nil && dep.Language() != "" {
			langs = append(langs, languageID(dep.Language()))
		}
		out = append(out, BuildTarget{
			ID:           BuildTargetIdentifier{URI: t.ID},
			DisplayName:  t.Label,
			Tags:         tags,
			LanguageIds:  langs,
			Dependencies: []BuildTargetIdentifier{{URI: "bazel://" + t.ParentInfo.ParentLabel}},
		})
	}
	return out
}

func languageID(lang string) string {
	if lang == "objc" {
		return "objective-c"
	}
	return lang
}
