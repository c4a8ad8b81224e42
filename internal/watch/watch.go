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

// Package watch debounces the client's workspace/didChangeWatchedFiles
// notifications into batched target-store invalidations, so a save-storm
// across many files (a git checkout, a formatter pass) triggers one
// recompute instead of one per file. Grounded on lucidsoftware/bazel-watcher's
// ibazel debounce state machine (DEBOUNCE_QUERY/QUERY/WAIT), collapsed here
// into a single timer-reset loop since this server debounces one fixed
// window rather than alternating query/build phases.
package watch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bsplog"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/extractor"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/targetstore"
)

// debounceWindow is how long the watcher waits after the last observed
// change before recomputing, per spec.md §4.6/§9.
const debounceWindow = time.Second

// RawChange is one filesystem event as reported by the client, before it's
// been filtered to a supported extension or mapped to a targetstore.ChangeKind.
type RawChange struct {
	URI  string
	Kind string // "create", "change", or "delete"
}

// Debouncer batches Observe calls and, after debounceWindow of quiescence,
// applies them to the target store in one Process call, clears the
// extractor's cache if the batch created or deleted a file, and reports the
// set of invalidated targets.
type Debouncer struct {
	store     *targetstore.Store
	ext       *extractor.Extractor
	log       bsplog.Logger
	onChanged func(map[string]struct{})

	mu      sync.Mutex
	pending []targetstore.FileChange
	timer   *time.Timer
	stopped bool
}

// New returns a Debouncer that applies batched changes to store and ext,
// reporting invalidated target ids to onChanged.
func New(store *targetstore.Store, ext *extractor.Extractor, log bsplog.Logger, onChanged func(map[string]struct{})) *Debouncer {
	return &Debouncer{store: store, ext: ext, log: log, onChanged: onChanged}
}

// Observe records changes, filtering out any extension this adapter
// doesn't index, and (re)arms the debounce timer.
func (d *Debouncer) Observe(changes []RawChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	for _, c := range changes {
		if !supportedExtension(c.URI) {
			continue
		}
		d.pending = append(d.pending, targetstore.FileChange{URI: c.URI, Kind: toChangeKind(c.Kind)})
	}
	if len(d.pending) == 0 {
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(debounceWindow, d.flush)
}

// Stop cancels any pending debounce timer; further Observe calls are
// ignored. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	changes := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(changes) == 0 {
		return
	}

	invalidated, err := d.store.Process(context.Background(), changes)
	if err != nil {
		d.log.Warnf("watch: failed to process %d file change(s): %v", len(changes), err)
		return
	}
	if structuralChange(changes) {
		d.ext.ClearCache()
	}
	d.onChanged(invalidated)
}

// structuralChange reports whether changes contains at least one create or
// delete: a pure edit batch changes file contents but not which BuildTargets
// own which sources, so the extractor's cached compiler arguments are still
// valid and don't need to be dropped.
func structuralChange(changes []targetstore.FileChange) bool {
	for _, c := range changes {
		if c.Kind != targetstore.ChangeChanged {
			return true
		}
	}
	return false
}

func supportedExtension(uri string) bool {
	for _, ext := range []string{".swift", ".h", ".m"} {
		if strings.HasSuffix(uri, ext) {
			return true
		}
	}
	return false
}

func toChangeKind(kind string) targetstore.ChangeKind {
	switch kind {
	case "create":
		return targetstore.ChangeCreated
	case "delete":
		return targetstore.ChangeDeleted
	default:
		return targetstore.ChangeChanged
	}
}
