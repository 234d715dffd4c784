/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a crash report plus a dump of the
// translation columns still open for editing.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"runtime/debug"
	"time"

	applog "transmatcher/internal/log"
	"transmatcher/internal/session"
	"transmatcher/internal/storage"
	"transmatcher/internal/telemetry"
	"transmatcher/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Guard describes what to save when the process panics. The zero value
// writes the report to the temp dir and dumps nothing.
type Guard struct {
	// Dir receives the report and session dumps; empty means os.TempDir().
	Dir string
	// Sessions lists the in-flight sessions, typically Broker.Active.
	Sessions func() []*session.Session
	// Telemetry uploads the report when opted in. May be nil.
	Telemetry *telemetry.Client
}

// Recover captures a panic, logs it with a stacktrace, writes a report file,
// dumps each in-flight session's current column and exits with code 2.
//
// Usage: defer crash.Recover(g)
func Recover(g *Guard) {
	r := recover()
	if r == nil {
		return
	}
	if g == nil {
		g = &Guard{}
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	stamp := time.Now().Format("20060102-150405")
	reportPath, err := g.writeReport(stamp, r, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	for _, p := range g.dumpSessions(stamp) {
		l.Info("session dump written", slog.String("path", p))
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	exitFn(2)
}

func (g *Guard) dir() string {
	if g.Dir == "" {
		return os.TempDir()
	}
	_ = os.MkdirAll(g.Dir, 0o755)
	return g.Dir
}

func (g *Guard) writeReport(stamp string, panicVal any, stack []byte) (string, error) {
	path := filepath.Join(g.dir(), fmt.Sprintf("crash-%s.log", stamp))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Trans Matcher Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if g.Sessions != nil {
		for _, s := range g.Sessions() {
			_, _ = fmt.Fprintf(&buf, "Session: %s label=%q peer=%s started=%s\n",
				s.ID, s.Label, s.Peer, s.Started.Format(time.RFC3339))
		}
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}
	g.Telemetry.UploadCrash(buf.Bytes())
	return path, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// dumpSessions writes every in-flight session's current column as a
// sequence file and returns the paths written.
func (g *Guard) dumpSessions(stamp string) []string {
	if g.Sessions == nil {
		return nil
	}
	l := applog.WithComponent("crash")
	var out []string
	for _, s := range g.Sessions() {
		label := unsafeName.ReplaceAllString(s.Label, "_")
		if label == "" {
			label = "unlabelled"
		}
		path := filepath.Join(g.dir(), fmt.Sprintf("crash-%s-%s-%s.json", stamp, label, s.ID))
		if err := storage.WriteSequence(path, s.Current()); err != nil {
			l.Error("session dump failed", slog.String("session", s.ID), slog.Any("err", err))
			continue
		}
		out = append(out, path)
	}
	return out
}
