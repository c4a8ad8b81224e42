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

package targetstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/blueprint/metrics"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/analysispb"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bazelproc"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bsplog"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
)

// Store is the stateful target/aquery resolver described in spec.md §4.4.
// All exported methods take the single state lock; nothing below this
// boundary is safe for concurrent use on its own.
type Store struct {
	cfg   *bspconfig.InitializedServerConfig
	bazel *bazelproc.BazelCommand
	log   bsplog.Logger
	events *metrics.EventHandler

	mu sync.Mutex

	targets      []*BuildTarget
	targetsByID  map[string]*BuildTarget
	sourceOwners map[string][]string // source URI -> owning BuildTarget IDs
	aquery       *AqueryResult
	fetched      bool
}

// New constructs a Store bound to cfg and a Bazel command builder. events
// may be nil, in which case spans are recorded but never reported.
func New(cfg *bspconfig.InitializedServerConfig, bazel *bazelproc.BazelCommand, log bsplog.Logger, events *metrics.EventHandler) *Store {
	if events == nil {
		events = &metrics.EventHandler{}
	}
	return &Store{cfg: cfg, bazel: bazel, log: log, events: events}
}

// FetchTargets returns the cached target list, computing it on first call.
func (s *Store) FetchTargets(ctx context.Context) ([]*BuildTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchTargetsLocked(ctx)
}

func (s *Store) fetchTargetsLocked(ctx context.Context) ([]*BuildTarget, error) {
	if s.fetched {
		return s.targets, nil
	}
	var err error
	s.events.Do("targetstore.fetch", func() {
		err = s.recomputeLocked(ctx)
	})
	if err != nil {
		return nil, err
	}
	s.fetched = true
	return s.targets, nil
}

// SourcesFor returns the source URIs attached to the target identified by
// bspURI.
func (s *Store) SourcesFor(ctx context.Context, bspURI string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fetchTargetsLocked(ctx); err != nil {
		return nil, err
	}
	t, ok := s.targetsByID[bspURI]
	if !ok {
		return nil, fmt.Errorf("targetstore: unknown target %q", bspURI)
	}
	return t.Sources, nil
}

// PlatformInfoFor returns the BazelTargetPlatformInfo for the target
// identified by bspURI.
func (s *Store) PlatformInfoFor(ctx context.Context, bspURI string) (BazelTargetPlatformInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fetchTargetsLocked(ctx); err != nil {
		return BazelTargetPlatformInfo{}, err
	}
	t, ok := s.targetsByID[bspURI]
	if !ok {
		return BazelTargetPlatformInfo{}, fmt.Errorf("targetstore: unknown target %q", bspURI)
	}
	return t.ParentInfo, nil
}

// BSPURIsContaining returns every BuildTarget id that owns src.
func (s *Store) BSPURIsContaining(ctx context.Context, src string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fetchTargetsLocked(ctx); err != nil {
		return nil, err
	}
	return s.sourceOwners[src], nil
}

// AqueryForArgsExtraction returns the cached AqueryResult, computing it (by
// way of FetchTargets, which populates both graphs in one pass) if needed.
func (s *Store) AqueryForArgsExtraction(ctx context.Context) (*AqueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fetchTargetsLocked(ctx); err != nil {
		return nil, err
	}
	return s.aquery, nil
}

// Process applies a batch of file-change events to the cached graph and
// returns the set of invalidated BuildTarget ids. Deletions are resolved
// against the old index; any creation forces a full clear-and-refetch
// since a new file may introduce targets the old graph never saw.
func (s *Store) Process(ctx context.Context, changes []FileChange) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invalidated := map[string]struct{}{}
	needsRefetch := false

	for _, c := range changes {
		switch c.Kind {
		case ChangeDeleted:
			for _, id := range s.sourceOwners[c.URI] {
				invalidated[id] = struct{}{}
			}
		case ChangeCreated:
			needsRefetch = true
		case ChangeChanged:
			for _, id := range s.sourceOwners[c.URI] {
				invalidated[id] = struct{}{}
			}
		}
	}

	if needsRefetch {
		s.clearCacheLocked()
		if _, err := s.fetchTargetsLocked(ctx); err != nil {
			return nil, err
		}
		for _, t := range s.targets {
			invalidated[t.ID] = struct{}{}
		}
	}

	return invalidated, nil
}

// ClearCache discards every cached graph, forcing the next FetchTargets
// call to recompute from scratch.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCacheLocked()
}

func (s *Store) clearCacheLocked() {
	s.targets = nil
	s.targetsByID = nil
	s.sourceOwners = nil
	s.aquery = nil
	s.fetched = false
}

// recomputeLocked runs the single cquery described in §4.4, reconstructs
// the target graph, then runs the compile-action aquery and indexes its
// results. Caller holds s.mu.
func (s *Store) recomputeLocked(ctx context.Context) error {
	cquery, err := s.runCquery(ctx)
	if err != nil {
		return fmt.Errorf("targetstore: cquery failed: %w", err)
	}

	targets, byID, owners, err := s.buildGraph(cquery)
	if err != nil {
		return fmt.Errorf("targetstore: failed to build target graph: %w", err)
	}

	aquery, err := s.runAquery(ctx)
	if err != nil {
		return fmt.Errorf("targetstore: aquery failed: %w", err)
	}

	s.targets = targets
	s.targetsByID = byID
	s.sourceOwners = owners
	s.aquery = aquery
	return nil
}

// cqueryExpression builds the §4.4 Starlark-ish let expression selecting
// top-level targets and their transitive dependency closure.
func (s *Store) cqueryExpression() string {
	base := s.cfg.Base
	topKinds := ruleKindAlternation(topLevelKinds(base.AllowedTopLevelRuleTypes))
	depKinds := ruleKindAlternation(dependencyKinds(base.AllowedDependencyRuleTypes))
	userTargets := strings.Join(base.TargetsAndExclusions(), " + ")

	return fmt.Sprintf(
		`let topLevelTargets = kind("%s", deps(%s)) in `+
			`$topLevelTargets union (kind("%s|alias|source file", deps($topLevelTargets)))`,
		topKinds, userTargets, depKinds,
	)
}

func (s *Store) runCquery(ctx context.Context) (*analysispb.CqueryResult, error) {
	req := s.bazel.Query("cquery", s.cqueryExpression(),
		"--noinclude_aspects", "--notool_deps", "--noimplicit_deps", "--output", "proto")
	req.Dir = s.cfg.RootPath

	var result *analysispb.CqueryResult
	var err error
	s.events.Do("targetstore.cquery", func() {
		var proc *bazelproc.Process
		proc, err = bazelproc.Run(ctx, req)
		if err != nil {
			return
		}
		result, err = analysispb.DecodeCqueryResult(proc.Stdout())
	})
	return result, err
}

func (s *Store) runAquery(ctx context.Context) (*AqueryResult, error) {
	base := s.cfg.Base
	userTargets := strings.Join(base.TargetsAndExclusions(), " + ")
	expr := fmt.Sprintf(`mnemonic('SwiftCompile|ObjcCompile', deps(%s))`, userTargets)
	req := s.bazel.Query("aquery", expr, "--noinclude_artifacts", "--noinclude_aspects", "--output", "proto")
	req.Dir = s.cfg.RootPath

	var out *AqueryResult
	var err error
	s.events.Do("targetstore.aquery", func() {
		var proc *bazelproc.Process
		proc, err = bazelproc.Run(ctx, req)
		if err != nil {
			return
		}
		var container *analysispb.ActionGraphContainer
		container, err = analysispb.DecodeActionGraphContainer(proc.Stdout())
		if err != nil {
			return
		}
		out = indexAqueryResult(container)
	})
	return out, err
}

// indexAqueryResult reconstructs the label→targetId and targetId→actions
// maps and resolves each action's primary input by flattening its input
// depsets to artifact paths, mirroring bazel/aquery.go's artifactIdToPath
// handling; when that finds no source file it falls back to scanning the
// argv (see primaryInput).
func indexAqueryResult(c *analysispb.ActionGraphContainer) *AqueryResult {
	pathFragments := make(map[uint32]*analysispb.PathFragment, len(c.PathFragments))
	for _, pf := range c.PathFragments {
		pathFragments[pf.Id] = pf
	}
	artifactPaths := make(map[uint32]string, len(c.Artifacts))
	for _, a := range c.Artifacts {
		artifactPaths[a.Id] = expandPathFragment(a.PathFragmentId, pathFragments)
	}
	depSets := make(map[uint32]*analysispb.DepSetOfFiles, len(c.DepSetOfFiles))
	for _, ds := range c.DepSetOfFiles {
		depSets[ds.Id] = ds
	}
	targetLabels := make(map[uint32]string, len(c.Targets))
	for _, t := range c.Targets {
		targetLabels[t.Id] = t.Label
	}

	out := &AqueryResult{
		Targets: map[string]*TargetProto{},
		Actions: map[uint32][]*ActionProto{},
	}
	for _, a := range c.Actions {
		ap := &ActionProto{
			Mnemonic:        a.Mnemonic,
			ConfigurationId: a.ConfigurationId,
			Arguments:       a.Arguments,
			PrimaryInput:    primaryInputFromDepSets(a.InputDepSetIds, depSets, artifactPaths),
		}
		if ap.PrimaryInput == "" {
			ap.PrimaryInput = primaryInput(a.Arguments)
		}
		out.Actions[a.TargetId] = append(out.Actions[a.TargetId], ap)
		if label, ok := targetLabels[a.TargetId]; ok {
			if _, exists := out.Targets[label]; !exists {
				out.Targets[label] = &TargetProto{Label: label, TargetId: a.TargetId}
			}
		}
	}
	return out
}

// primaryInput guesses the source file an action compiles by scanning its
// argv for the last token ending in a recognized source extension — good
// enough to disambiguate ObjcCompile actions by file, per §4.5.
func primaryInput(args []string) string {
	var last string
	for _, a := range args {
		for _, ext := range []string{".m", ".mm", ".swift", ".c", ".cc", ".cpp"} {
			if strings.HasSuffix(a, ext) {
				last = a
			}
		}
	}
	return last
}

// primaryInputFromDepSets resolves an action's compiled source file by
// flattening its input depsets down to artifact paths and picking the one
// recognized source-file extension among them, mirroring bazel/aquery.go's
// artifactIdToPath traversal rather than pattern-matching the raw argv (a
// flag value can end in ".swift" too, e.g. a module-name derived from a
// file path passed through -emit-module-path).
func primaryInputFromDepSets(depSetIDs []uint32, depSets map[uint32]*analysispb.DepSetOfFiles, artifactPaths map[uint32]string) string {
	seen := map[uint32]bool{}
	var artifactIDs []uint32
	var walk func(id uint32)
	walk = func(id uint32) {
		if seen[id] {
			return
		}
		seen[id] = true
		ds, ok := depSets[id]
		if !ok {
			return
		}
		artifactIDs = append(artifactIDs, ds.DirectArtifactIds...)
		for _, t := range ds.TransitiveDepSetIds {
			walk(t)
		}
	}
	for _, id := range depSetIDs {
		walk(id)
	}

	var found string
	for _, id := range artifactIDs {
		p, ok := artifactPaths[id]
		if !ok {
			continue
		}
		for _, ext := range []string{".swift", ".m", ".mm", ".c", ".cc", ".cpp"} {
			if strings.HasSuffix(p, ext) {
				found = p
			}
		}
	}
	return found
}

// expandPathFragment walks the parent chain of a path fragment id to its
// root, same recursion bazel/aquery.go's expandPathFragment performs.
func expandPathFragment(id uint32, fragments map[uint32]*analysispb.PathFragment) string {
	var labels []string
	for id != 0 {
		f, ok := fragments[id]
		if !ok {
			return ""
		}
		labels = append([]string{f.Label}, labels...)
		if f.ParentId == id {
			return ""
		}
		id = f.ParentId
	}
	return strings.Join(labels, "/")
}

// buildGraph reconstructs BuildTargets, the source-ownership index, and
// each dependency target's BazelTargetPlatformInfo from the decoded cquery
// result. Test-bundle rules are top-level kinds and are their own parent.
// A dependency gets a parent only when its label is listed directly in a
// top-level target's "deps" or "srcs"; targets reached only transitively
// get no parent and are left out. Aliases are not followed.
func (s *Store) buildGraph(cq *analysispb.CqueryResult) ([]*BuildTarget, map[string]*BuildTarget, map[string][]string, error) {
	byLabelConfigs := make(map[string][]*analysispb.ConfiguredTarget, len(cq.Results))
	for _, ct := range cq.Results {
		if ct.Rule != nil {
			byLabelConfigs[ct.Rule.Name] = append(byLabelConfigs[ct.Rule.Name], ct)
		}
	}
	byLabel := make(map[string]*analysispb.ConfiguredTarget, len(byLabelConfigs))
	for label, cts := range byLabelConfigs {
		byLabel[label] = s.duplicateTargetWarning(label, cts)
	}

	topLevel := map[string]bspconfig.TopLevelRuleType{}
	for label, ct := range byLabel {
		if t, err := bspconfig.LookupTopLevelRuleType(ct.Rule.RuleClass); err == nil {
			topLevel[label] = t
		}
	}

	var targets []*BuildTarget
	byID := map[string]*BuildTarget{}
	owners := map[string][]string{}

	// Parent assignment: labels listed directly in a top-level target's
	// "deps"/"srcs" get that target as parent; a label listed by several
	// top-level targets keeps the lexicographically smallest parent label
	// (spec.md §4.4 invariant).
	parentOf := map[string]string{}
	var parentLabels []string
	for label := range topLevel {
		parentLabels = append(parentLabels, label)
	}
	sort.Strings(parentLabels)

	for _, parentLabel := range parentLabels {
		ct := byLabel[parentLabel]
		for _, dep := range depsOf(ct.Rule) {
			if existing, ok := parentOf[dep]; ok && existing != parentLabel {
				s.log.Warnf("targetstore: %q is reachable from multiple top-level targets (%q, %q); keeping %q",
					dep, existing, parentLabel, minLabel(existing, parentLabel))
				parentOf[dep] = minLabel(existing, parentLabel)
				continue
			}
			parentOf[dep] = parentLabel
		}
	}

	for label, ct := range byLabel {
		parentLabel, hasParent := parentOf[label]
		isTopLevel := false
		if _, ok := topLevel[label]; ok {
			parentLabel = label
			isTopLevel = true
			hasParent = true
		}
		if !hasParent {
			continue
		}
		parentType := topLevel[parentLabel]

		uri := "bazel://" + label
		srcs := srcURIsOf(ct.Rule, s.cfg.RootPath)

		bt := &BuildTarget{
			ID:       uri,
			Label:    label,
			RuleKind: ct.Rule.RuleClass,
			Sources:  srcs,
			ParentInfo: BazelTargetPlatformInfo{
				PlatformBuildLabel:    platformBuildLabel(label, parentLabel, s.cfg.Base.CompilesTopLevel(), isTopLevel),
				ParentLabel:           parentLabel,
				ParentRuleType:        parentType,
				ConfigurationChecksum: ct.ConfigurationChecksum,
			},
		}
		targets = append(targets, bt)
		byID[uri] = bt
		for _, src := range srcs {
			owners[src] = append(owners[src], uri)
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Label < targets[j].Label })
	return targets, byID, owners, nil
}

func platformBuildLabel(label, parentLabel string, compileTopLevel, isTopLevel bool) string {
	if compileTopLevel && !isTopLevel {
		return parentLabel
	}
	return label
}

func minLabel(a, b string) string {
	if a < b {
		return a
	}
	return b
}

// duplicateTargetWarning resolves the same Bazel label appearing twice in a
// single cquery result under two different configurations (e.g. a dependency
// built once for the simulator and once for device because two top-level
// targets transition it differently). Per spec.md §4.4's invariant and §9
// Q1, this is never a hard failure: it logs every colliding configuration
// checksum and deterministically keeps the one with the lexicographically
// smallest checksum, so repeated runs over the same graph always resolve the
// same way.
func (s *Store) duplicateTargetWarning(label string, cts []*analysispb.ConfiguredTarget) *analysispb.ConfiguredTarget {
	if len(cts) == 1 {
		return cts[0]
	}
	kept := cts[0]
	var checksums []string
	for _, ct := range cts {
		checksums = append(checksums, ct.ConfigurationChecksum)
		if ct.ConfigurationChecksum < kept.ConfigurationChecksum {
			kept = ct
		}
	}
	sort.Strings(checksums)
	s.log.Warnf("targetstore: %q was configured %d times (configurations: %s); keeping configuration %q",
		label, len(cts), strings.Join(checksums, ", "), kept.ConfigurationChecksum)
	return kept
}

func depsOf(r *analysispb.Rule) []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, name := range []string{"deps", "srcs"} {
		if a := r.Attr(name); a != nil {
			out = append(out, a.StringListValue...)
		}
	}
	return out
}

func srcURIsOf(r *analysispb.Rule, rootPath string) []string {
	if r == nil {
		return nil
	}
	a := r.Attr("srcs")
	if a == nil {
		return nil
	}
	var out []string
	for _, s := range a.StringListValue {
		out = append(out, "file://"+rootPath+"/"+strings.TrimPrefix(s, "//"))
	}
	return out
}

func topLevelKinds(types []bspconfig.TopLevelRuleType) []string {
	var out []string
	for _, t := range types {
		out = append(out, t.Kind())
	}
	return out
}

func dependencyKinds(types []bspconfig.DependencyRuleType) []string {
	var out []string
	for _, t := range types {
		out = append(out, t.Kind())
	}
	return out
}

func ruleKindAlternation(kinds []string) string {
	return strings.Join(kinds, "|")
}
