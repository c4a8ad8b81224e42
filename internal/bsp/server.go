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
	"sync"

	"github.com/google/blueprint/metrics"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bazelproc"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bsplog"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/dispatch"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/extractor"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/targetstore"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/watch"
)

// bspVersion and displayName are reported verbatim in the initialize reply.
const (
	bspVersion  = "2.2.0"
	displayName = "sourcekit-bazel-bsp"
)

// Server wires the dispatch core to the target store, extractor and
// process runner, holding the one piece of state every handler needs:
// the config derived at initialize time. Grounded on cmd/soong_build's
// single-struct server bootstrap (one Context/Config object built once and
// threaded through every ninja/bazel action), adapted to BSP's
// initialize-then-serve lifecycle.
type Server struct {
	base *bspconfig.BaseServerConfig
	log  bsplog.Logger
	disp *dispatch.Dispatcher

	mu        sync.Mutex
	cfg       *bspconfig.InitializedServerConfig
	store     *targetstore.Store
	extractor *extractor.Extractor
	bazelCmd  *bazelproc.BazelCommand
	watcher   *watch.Debouncer
	events    *metrics.EventHandler

	taskSeq uint64
	exitCh  chan struct{}
}

// NewServer returns a Server bound to base and disp; call RegisterHandlers
// before disp.Serve starts reading frames.
func NewServer(base *bspconfig.BaseServerConfig, log bsplog.Logger, disp *dispatch.Dispatcher) *Server {
	return &Server{base: base, log: log, disp: disp, exitCh: make(chan struct{})}
}

// RegisterHandlers binds every BSP method this server answers to s.disp.
func (s *Server) RegisterHandlers() {
	s.disp.RegisterRequest("build/initialize", s.handleInitialize)
	s.disp.RegisterRequest("workspace/buildTargets", s.handleWorkspaceBuildTargets)
	s.disp.RegisterRequest("buildTarget/sources", s.handleBuildTargetSources)
	s.disp.RegisterRequest("textDocument/sourceKitOptions", s.handleSourceKitOptions)
	s.disp.RegisterRequest("buildTarget/prepare", s.handlePrepare)
	s.disp.RegisterRequest("build/shutdown", s.handleShutdown)
	s.disp.RegisterRequest("workspace/waitForBuildSystemUpdates", s.handleWaitForBuildSystemUpdates)

	s.disp.RegisterNotification("build/initialized", s.handleInitialized)
	s.disp.RegisterNotification("build/exit", s.handleExit)
	s.disp.RegisterNotification("workspace/didChangeWatchedFiles", s.handleDidChangeWatchedFiles)
}

// Done is closed once build/exit has been received.
func (s *Server) Done() <-chan struct{} { return s.exitCh }

func (s *Server) handleInitialize(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params InitializeBuildParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	developerDir, err := resolveXcodeDeveloperDir(ctx)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("failed to resolve Xcode developer dir: %v", err)}
	}
	toolchainPath, err := resolveToolchainPath(ctx)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("failed to resolve Swift toolchain path: %v", err)}
	}

	sdkNames := sdkNamesFor(s.base)
	sdkPaths := resolveSDKPaths(ctx, sdkNames, s.log)

	userOutputBase, err := bazelInfo(ctx, s.base.BazelWrapper, "", "output_base")
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("failed to resolve bazel output_base: %v", err)}
	}
	indexingOutputBase := userOutputBase + bspconfig.IndexingOutputBaseSuffix
	outputPath, err := bazelInfo(ctx, s.base.BazelWrapper, indexingOutputBase, "output_path")
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("failed to resolve bazel output_path: %v", err)}
	}
	executionRoot, err := bazelInfo(ctx, s.base.BazelWrapper, indexingOutputBase, "execution_root")
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("failed to resolve bazel execution_root: %v", err)}
	}

	cfg, err := bspconfig.NewInitializedServerConfig(s.base, params.RootURI, indexingOutputBase, outputPath, executionRoot, developerDir, toolchainPath, sdkPaths)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	bazelCmd := bazelproc.NewBazelCommand(s.base.BazelWrapper, cfg.OutputBase)
	events := &metrics.EventHandler{}
	store := targetstore.New(cfg, bazelCmd, s.log, events)
	ext := extractor.New(extractor.ConfigFromServer(cfg), sdkPaths)

	s.mu.Lock()
	s.cfg = cfg
	s.bazelCmd = bazelCmd
	s.store = store
	s.extractor = ext
	s.events = events
	s.watcher = watch.New(store, ext, s.log, func(changed map[string]struct{}) {
		s.notifyBuildTargetsChanged(changed)
	})
	s.mu.Unlock()

	watchers := []FileWatcher{{GlobPattern: "**/*.swift", Kind: []string{"create", "change", "delete"}}}
	if len(s.base.FileWatchGlobs) > 0 {
		watchers = nil
		for _, g := range s.base.FileWatchGlobs {
			watchers = append(watchers, FileWatcher{GlobPattern: g, Kind: []string{"create", "change", "delete"}})
		}
	} else {
		watchers = append(watchers,
			FileWatcher{GlobPattern: "**/*.h", Kind: []string{"create", "change", "delete"}},
			FileWatcher{GlobPattern: "**/*.m", Kind: []string{"create", "change", "delete"}},
		)
	}
	for i := range watchers {
		watchers[i].GlobPattern = cfg.RootPath + "/" + watchers[i].GlobPattern
	}

	swiftLangs := []string{"swift"}
	objcLangs := []string{"objective-c"}
	return InitializeBuildResult{
		DisplayName: displayName,
		Version:     "1.0.0",
		BSPVersion:  bspVersion,
		Capabilities: BuildServerCapabilities{
			CompileProvider:            &CompileProvider{LanguageIds: append(append([]string{}, swiftLangs...), objcLangs...)},
			InverseSourcesProvider:     true,
			DependencySourcesProvider:  false,
			ResourcesProvider:          false,
			BuildTargetChangedProvider: true,
			CanReload:                  false,
		},
		SourceKitData: SourceKitExtension{
			IndexStorePath:           cfg.IndexStorePath,
			IndexDatabasePath:        cfg.IndexDatabasePath,
			Watchers:                 watchers,
			PrepareProvider:          true,
			SourceKitOptionsProvider: true,
			BatchSize:                1,
		},
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, raw json.RawMessage) {
	// Warm the target graph in the background so the first real request
	// doesn't pay the full cquery/aquery cost synchronously.
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return
	}
	go func() {
		if _, err := store.FetchTargets(context.Background()); err != nil {
			s.log.Warnf("build/initialized: warm-up fetch failed: %v", err)
		}
	}()
}

func (s *Server) handleShutdown(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	s.disp.Wait()
	return struct{}{}, nil
}

func (s *Server) handleExit(ctx context.Context, raw json.RawMessage) {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	close(s.exitCh)
}

func (s *Server) handleWaitForBuildSystemUpdates(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return nil, &Error{Code: CodeInternalError, Message: "server not initialized"}
	}
	// Store.FetchTargets/Process already serialize on the store's own lock,
	// so blocking here until the next FetchTargets returns is sufficient to
	// observe any invalidation a concurrent OnWatchedFilesDidChange started.
	targets, err := store.FetchTargets(ctx)
	if err != nil {
		return nil, NewInternalError(err)
	}
	return WorkspaceBuildTargetsResult{Targets: toWireTargets(targets)}, nil
}

func (s *Server) notifyBuildTargetsChanged(changed map[string]struct{}) {
	if len(changed) == 0 {
		return
	}
	var events []BuildTargetEvent
	for id := range changed {
		events = append(events, BuildTargetEvent{Target: BuildTargetIdentifier{URI: id}, Kind: "changed"})
	}
	if err := s.disp.Notify("buildTarget/didChange", DidChangeBuildTarget{Changes: events}); err != nil {
		s.log.Warnf("failed to send buildTarget/didChange: %v", err)
	}
}

func (s *Server) handleDidChangeWatchedFiles(ctx context.Context, raw json.RawMessage) {
	var params OnWatchedFilesDidChangeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		s.log.Warnf("workspace/didChangeWatchedFiles: malformed params: %v", err)
		return
	}
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w == nil {
		return
	}
	changes := make([]watch.RawChange, 0, len(params.Changes))
	for _, c := range params.Changes {
		changes = append(changes, watch.RawChange{URI: c.URI, Kind: string(c.Kind)})
	}
	w.Observe(changes)
}

func resolveXcodeDeveloperDir(ctx context.Context) (string, error) {
	proc, err := bazelproc.Run(ctx, bazelproc.Request{Argv: []string{"xcode-select", "--print-path"}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(proc.Stdout())), nil
}

// resolveToolchainPath derives the Swift/Clang toolchain path from `xcrun
// --find swift` by stripping its "usr/bin/swift" suffix, per §4.6.
func resolveToolchainPath(ctx context.Context) (string, error) {
	proc, err := bazelproc.Run(ctx, bazelproc.Request{Argv: []string{"xcrun", "--find", "swift"}})
	if err != nil {
		return "", err
	}
	swiftPath := strings.TrimSpace(string(proc.Stdout()))
	const suffix = "usr/bin/swift"
	if !strings.HasSuffix(swiftPath, suffix) {
		return "", fmt.Errorf("unexpected `xcrun --find swift` output: %q", swiftPath)
	}
	return strings.TrimSuffix(swiftPath, suffix), nil
}

// resolveSDKPaths resolves the SDK root for each name in sdkNames,
// tolerating absence per §4.6: a missing SDK is logged and skipped rather
// than failing the whole build/initialize request.
func resolveSDKPaths(ctx context.Context, sdkNames []string, log bsplog.Logger) map[string]string {
	paths := map[string]string{}
	for _, name := range sdkNames {
		proc, err := bazelproc.Run(ctx, bazelproc.Request{Argv: []string{"xcrun", "--sdk", name, "--show-sdk-path"}})
		if err != nil {
			log.Warnf("build/initialize: sdk %q not found, skipping: %v", name, err)
			continue
		}
		paths[name] = strings.TrimSpace(string(proc.Stdout()))
	}
	return paths
}

// bazelInfo runs `<wrapper> [--output_base=<outputBase>] info <key>`,
// omitting the --output_base flag when outputBase is empty (the cold
// query against the user's own regular output_base, per §4.6/§8
// Scenario 1's first step).
func bazelInfo(ctx context.Context, wrapper, outputBase, key string) (string, error) {
	argv := []string{wrapper}
	if outputBase != "" {
		argv = append(argv, fmt.Sprintf("--output_base=%s", outputBase))
	}
	argv = append(argv, "info", key)
	proc, err := bazelproc.Run(ctx, bazelproc.Request{Argv: argv})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(proc.Stdout())), nil
}

func sdkNamesFor(base *bspconfig.BaseServerConfig) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range base.AllowedTopLevelRuleTypes {
		if !seen[t.SDKName()] {
			seen[t.SDKName()] = true
			out = append(out, t.SDKName())
		}
	}
	return out
}
