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

// Command sourcekit-bazel-bsp is the CLI entrypoint: it parses the serve
// subcommand's flags, builds a BaseServerConfig, and runs the dispatch
// core against stdin/stdout until the client sends build/exit or stdin
// closes. Grounded on cmd/soong_ui/main.go's flag-table bootstrap (a
// single `serve` entry rather than soong_ui's multi-command table, since
// this binary does exactly one thing).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bsp"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bsplog"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/bspconfig"
	"github.com/spotify/sourcekit-bazel-bsp-sub001/internal/dispatch"
)

// stringList accumulates repeated -flag occurrences into a slice, the
// stdlib flag package's idiomatic way of supporting repeatable flags.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := bsplog.New()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	bazelWrapper := fs.String("bazel-wrapper", "bazel", "command used to invoke Bazel")
	var targets stringList
	fs.Var(&targets, "target", "top-level Bazel target pattern to build (repeatable)")
	var indexFlags stringList
	fs.Var(&indexFlags, "index-flag", "extra flag appended to every indexing build (repeatable)")
	var watchGlobs stringList
	fs.Var(&watchGlobs, "files-to-watch", "glob pattern the client should watch (repeatable; defaults apply if omitted)")
	var topLevelRules stringList
	fs.Var(&topLevelRules, "top-level-rule-to-discover", "top-level Bazel rule kind to discover (repeatable; defaults to every known kind)")
	var depRules stringList
	fs.Var(&depRules, "dependency-rule-to-discover", "dependency Bazel rule kind to discover (repeatable; defaults to every known kind)")
	compileTopLevel := fs.Bool("compile-top-level", false, "fold dependency builds into their top-level target's build")
	var excludes stringList
	fs.Var(&excludes, "exclude", "target pattern to exclude from the build graph (repeatable)")
	appleSupportRepo := fs.String("apple-support-repo", "", "repository name rules_apple's toolchain is anchored on")

	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	base, err := bspconfig.NewBaseServerConfig(*bazelWrapper, targets, indexFlags, watchGlobs, excludes, *compileTopLevel, *appleSupportRepo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sourcekit-bazel-bsp: %v\n", err)
		return 1
	}
	if err := applyRuleTypeFilters(base, topLevelRules, depRules); err != nil {
		fmt.Fprintf(os.Stderr, "sourcekit-bazel-bsp: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	disp := dispatch.New(os.Stdout, log, 8)
	server := bsp.NewServer(base, log, disp)
	server.RegisterHandlers()

	serveErr := make(chan error, 1)
	go func() { serveErr <- disp.Serve(ctx, os.Stdin) }()

	select {
	case <-server.Done():
	case err := <-serveErr:
		if err != nil {
			log.Errorf("transport closed: %v", err)
			return 1
		}
	case <-ctx.Done():
	}
	return 0
}

func applyRuleTypeFilters(base *bspconfig.BaseServerConfig, topLevelKinds, depKinds []string) error {
	if len(topLevelKinds) > 0 {
		base.AllowedTopLevelRuleTypes = nil
		for _, kind := range topLevelKinds {
			t, err := bspconfig.LookupTopLevelRuleType(kind)
			if err != nil {
				return err
			}
			base.AllowedTopLevelRuleTypes = append(base.AllowedTopLevelRuleTypes, t)
		}
	}
	if len(depKinds) > 0 {
		base.AllowedDependencyRuleTypes = nil
		for _, kind := range depKinds {
			d, err := bspconfig.LookupDependencyRuleType(kind)
			if err != nil {
				return err
			}
			base.AllowedDependencyRuleTypes = append(base.AllowedDependencyRuleTypes, d)
		}
	}
	return nil
}
