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

// Package bsplog is the adapter's logging surface: a small interface wide
// enough for the dispatch core, target store and process runner to log
// through, plus a stdlib log.Logger-backed implementation. Since the BSP
// server's stdout is the JSON-RPC channel, every log line goes to stderr.
package bsplog

import (
	"log"
	"os"
)

// Logger is the logging surface every component is handed at construction,
// rather than reaching for a package-level global.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	// Chunked splits a long blob of text (typically a failed Bazel
	// invocation's stderr) into bounded-length lines and logs each at
	// warning level, so a single runaway line doesn't overwhelm whatever
	// is consuming the adapter's own stderr.
	Chunked(prefix, text string)
}

const chunkSize = 4096

// stdLogger is the default Logger, backed by the standard library's
// log.Logger writing to stderr — the teacher's own ui/logger is bespoke
// and not a third-party dependency to imitate here; see DESIGN.md.
type stdLogger struct {
	l *log.Logger
}

// New returns the default stderr-backed Logger.
func New() Logger {
	return &stdLogger{l: log.New(os.Stderr, "", log.LstdFlags)}
}

func (s *stdLogger) Infof(format string, args ...interface{}) {
	s.l.Printf("INFO  "+format, args...)
}

func (s *stdLogger) Warnf(format string, args ...interface{}) {
	s.l.Printf("WARN  "+format, args...)
}

func (s *stdLogger) Errorf(format string, args ...interface{}) {
	s.l.Printf("ERROR "+format, args...)
}

func (s *stdLogger) Chunked(prefix, text string) {
	for len(text) > 0 {
		n := chunkSize
		if n > len(text) {
			n = len(text)
		}
		s.Warnf("%s: %s", prefix, text[:n])
		text = text[n:]
	}
}

var _ Logger = (*stdLogger)(nil)
