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

package bazelproc

import "fmt"

// remoteDownloadRegex matches every file extension the indexer may need out
// of a remote build without materializing the rest of the output tree:
// index-store contents, sources, headers, modulemaps, and swiftmodules.
const remoteDownloadRegex = `.*\.(swiftmodule|swiftdoc|swiftsourceinfo|h|hmap|modulemap|pcm|index-store|m|mm|swift|c|cc|cpp)$`

// BazelCommand builds a Bazel invocation under a dedicated output_base,
// prepending startup flags before the subcommand and appending
// extraIndexFlags after the target patterns, mirroring the teacher's
// bazel.ExecBazel request-building convention.
type BazelCommand struct {
	Wrapper      string
	OutputBase   string
	StartupFlags []string
}

// NewBazelCommand returns a command builder bound to wrapper and
// outputBase, used for every Bazel invocation this server issues.
func NewBazelCommand(wrapper, outputBase string) *BazelCommand {
	return &BazelCommand{Wrapper: wrapper, OutputBase: outputBase}
}

// Query builds a plain `query`/`cquery` invocation with no indexing flags,
// used by the target store to resolve the build graph itself.
func (b *BazelCommand) Query(subcommand string, args ...string) Request {
	argv := []string{b.Wrapper, fmt.Sprintf("--output_base=%s", b.OutputBase)}
	argv = append(argv, b.StartupFlags...)
	argv = append(argv, subcommand)
	argv = append(argv, args...)
	return Request{Argv: argv}
}

// Build builds an indexing build invocation: startup flags, "build", the
// target patterns, then extraIndexFlags, per §4.2's convenience-wrapper
// convention.
func (b *BazelCommand) Build(targets []string, extraIndexFlags []string) Request {
	argv := []string{b.Wrapper, fmt.Sprintf("--output_base=%s", b.OutputBase)}
	argv = append(argv, b.StartupFlags...)
	argv = append(argv, "build")
	argv = append(argv, targets...)
	argv = append(argv, extraIndexFlags...)
	return Request{Argv: argv}
}

// PrepareBuild builds the cancelable `buildTarget/prepare` invocation:
// --preemptible so SIGTERM can unblock an in-flight analysis/build phase,
// transitionFlags replicating rules_apple's implicit platform transition
// when building a dependency directly (empty when compile_top_level folds
// the build into its top-level parent instead), plus the fixed
// remote-download regex so remote cache hits still land the
// index-relevant bytes locally. Accepts exit 0 (success) and
// BazelExitCancelled (terminated mid-build) as non-error outcomes.
func (b *BazelCommand) PrepareBuild(targets, transitionFlags, extraIndexFlags []string) Request {
	argv := []string{b.Wrapper, fmt.Sprintf("--output_base=%s", b.OutputBase), "--preemptible"}
	argv = append(argv, b.StartupFlags...)
	argv = append(argv, "build")
	argv = append(argv, targets...)
	argv = append(argv, transitionFlags...)
	argv = append(argv, fmt.Sprintf("--remote_download_regex=%s", remoteDownloadRegex))
	argv = append(argv, extraIndexFlags...)
	return Request{Argv: argv, AcceptExitCodes: []int{0, BazelExitCancelled}}
}
