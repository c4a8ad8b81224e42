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

// Package bsp implements the Build Server Protocol surface this adapter
// speaks: the request/notification payload types (§3, §6), the BSP error
// code taxonomy (§7), and the request handlers wired to the target store,
// extractor and process runner. The JSON-RPC framing and dispatch loop
// itself lives in internal/dispatch; this package only registers handlers
// against it and translates between dispatch's untyped params and these
// wire structs.
package bsp

import "fmt"

// ErrorCode mirrors the BSP/JSON-RPC error code taxonomy a handler may
// reply with (§7).
type ErrorCode int

const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603
	CodeCancelled      ErrorCode = -32800
)

// Error is the value every handler boundary converts internal errors into.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("bsp error %d: %s", e.Code, e.Message) }

// RPCCode satisfies dispatch.CodedError, letting the dispatch core report
// this error's actual JSON-RPC code instead of defaulting to InternalError.
func (e *Error) RPCCode() int { return int(e.Code) }

// NewInternalError wraps err as an InternalError, the default bucket for
// anything not already a *Error (§7's "all others to internalError").
func NewInternalError(err error) *Error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*Error); ok {
		return be
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// Cancelled is the fixed reply for a prepare task that was cancelled.
var Cancelled = &Error{Code: CodeCancelled, Message: "cancelled"}

// BuildTargetIdentifier is the BSP wire type identifying a target by its
// stable BSP URI.
type BuildTargetIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentIdentifier identifies a source file by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// InitializeBuildParams is the build/initialize request payload.
type InitializeBuildParams struct {
	RootURI      string `json:"rootUri"`
	BSPVersion   string `json:"bspVersion"`
	Capabilities struct {
		LanguageIds []string `json:"languageIds"`
	} `json:"capabilities"`
}

// InitializeBuildResult is the build/initialize reply.
type InitializeBuildResult struct {
	DisplayName      string               `json:"displayName"`
	Version          string                `json:"version"`
	BSPVersion       string               `json:"bspVersion"`
	Capabilities     BuildServerCapabilities `json:"capabilities"`
	SourceKitData    SourceKitExtension   `json:"data"`
}

// BuildServerCapabilities advertises which BSP request kinds this server
// supports, per §4.6's initialize reply contract.
type BuildServerCapabilities struct {
	CompileProvider          *CompileProvider `json:"compileProvider,omitempty"`
	TestProvider             *CompileProvider `json:"testProvider,omitempty"`
	RunProvider              *CompileProvider `json:"runProvider,omitempty"`
	DebugProvider            *CompileProvider `json:"debugProvider,omitempty"`
	InverseSourcesProvider   bool             `json:"inverseSourcesProvider"`
	DependencySourcesProvider bool            `json:"dependencySourcesProvider"`
	ResourcesProvider        bool             `json:"resourcesProvider"`
	BuildTargetChangedProvider bool           `json:"buildTargetChangedProvider"`
	CanReload                bool             `json:"canReload"`
}

// CompileProvider lists the languages a compile/test/run/debug capability
// applies to.
type CompileProvider struct {
	LanguageIds []string `json:"languageIds"`
}

// SourceKitExtension is the sourcekit-lsp-specific `data` payload returned
// from initialize: index paths, the file watcher list, and the
// prepare/sourceKitOptions advertisement §4.6 requires.
type SourceKitExtension struct {
	IndexStorePath        string         `json:"indexStorePath"`
	IndexDatabasePath     string         `json:"indexDatabasePath"`
	Watchers              []FileWatcher  `json:"watchers"`
	PrepareProvider       bool           `json:"prepareProvider"`
	SourceKitOptionsProvider bool        `json:"sourceKitOptionsProvider"`
	BatchSize             int            `json:"batchSize"`
}

// FileWatcher is one entry of the watchers list: a glob joined with the
// workspace root path, and the event kinds the client should report for it.
type FileWatcher struct {
	GlobPattern string   `json:"globPattern"`
	Kind        []string `json:"kind"`
}

// WorkspaceBuildTargetsResult is the workspace/buildTargets reply.
type WorkspaceBuildTargetsResult struct {
	Targets []BuildTarget `json:"targets"`
}

// BuildTarget is the BSP wire representation of a target store BuildTarget.
type BuildTarget struct {
	ID          BuildTargetIdentifier `json:"id"`
	DisplayName string                `json:"displayName"`
	BaseDirectory string              `json:"baseDirectory"`
	Tags        []string              `json:"tags"`
	LanguageIds []string              `json:"languageIds"`
	Dependencies []BuildTargetIdentifier `json:"dependencies"`
}

// SourcesParams is the buildTarget/sources request payload.
type SourcesParams struct {
	Targets []BuildTargetIdentifier `json:"targets"`
}

// SourcesResult is the buildTarget/sources reply.
type SourcesResult struct {
	Items []SourcesItem `json:"items"`
}

// SourcesItem lists one target's classified sources.
type SourcesItem struct {
	Target  BuildTargetIdentifier `json:"target"`
	Sources []SourceItem          `json:"sources"`
}

// SourceKind classifies a single source URI, per §4.6.
type SourceKind int

const (
	SourceKindUnknown SourceKind = iota
	SourceKindHeader
	SourceKindSwift
	SourceKindObjC
)

// SourceItem is one classified source file.
type SourceItem struct {
	URI     string     `json:"uri"`
	Kind    SourceKind `json:"kind"`
	Generated bool     `json:"generated"`
}

// SourceKitOptionsParams is the textDocument/sourceKitOptions request.
type SourceKitOptionsParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Target       BuildTargetIdentifier  `json:"target"`
	Language     string                 `json:"language"`
}

// SourceKitOptionsResult is the textDocument/sourceKitOptions reply, or
// nil if no matching action was found.
type SourceKitOptionsResult struct {
	CompilerArguments []string `json:"compilerArguments"`
	WorkingDirectory  string   `json:"workingDirectory"`
}

// PrepareParams is the buildTarget/prepare request payload.
type PrepareParams struct {
	Targets []BuildTargetIdentifier `json:"targets"`
}

// CancelParams is the $/cancelRequest notification payload.
type CancelParams struct {
	ID string `json:"id"`
}

// DidChangeBuildTarget is the OnBuildTargetDidChange notification payload.
type DidChangeBuildTarget struct {
	Changes []BuildTargetEvent `json:"changes"`
}

// BuildTargetEvent describes one target's change kind.
type BuildTargetEvent struct {
	Target BuildTargetIdentifier `json:"target"`
	Kind   string                `json:"kind"` // "created", "changed", "deleted"
}

// TaskStartParams/TaskFinishParams are the task-progress notification
// payloads §4.6/§6 require around buildTarget/prepare.
type TaskStartParams struct {
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

type TaskFinishParams struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"` // "ok" or "error"
	Message string `json:"message"`
}

// WatchedFilesChangeKind mirrors the client's file-watch event kinds.
type WatchedFilesChangeKind string

const (
	WatchCreated WatchedFilesChangeKind = "create"
	WatchChanged WatchedFilesChangeKind = "change"
	WatchDeleted WatchedFilesChangeKind = "delete"
)

// OnWatchedFilesDidChangeParams is the OnWatchedFilesDidChange notification
// payload.
type OnWatchedFilesDidChangeParams struct {
	Changes []WatchedFileEvent `json:"changes"`
}

// WatchedFileEvent is one raw filesystem event as reported by the client.
type WatchedFileEvent struct {
	URI  string                  `json:"uri"`
	Kind WatchedFilesChangeKind `json:"type"`
}
