/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transmatcher/internal/config"
)

func TestTokenSetAndClear(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "token", "set", "  s3cret "); err != nil {
		t.Fatalf("token set: %v", err)
	}
	if got := config.Token(); got != "s3cret" {
		t.Fatalf("stored token = %q", got)
	}
	out, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "# token: set") || strings.Contains(out, "s3cret") {
		t.Fatalf("config show must report the token without printing it:\n%s", out)
	}
	if _, err := execute(t, "token", "clear"); err != nil {
		t.Fatalf("token clear: %v", err)
	}
	if got := config.Token(); got != "" {
		t.Fatalf("token after clear = %q", got)
	}
	if _, err := execute(t, "token", "clear"); err != nil {
		t.Fatalf("clearing a missing token: %v", err)
	}
}

func TestTokenSetFromStdin(t *testing.T) {
	isolate(t)
	rootCmd.SetIn(strings.NewReader("from-stdin\n"))
	t.Cleanup(func() { rootCmd.SetIn(nil) })
	if _, err := execute(t, "token", "set"); err != nil {
		t.Fatalf("token set: %v", err)
	}
	if got := config.Token(); got != "from-stdin" {
		t.Fatalf("stored token = %q", got)
	}

	rootCmd.SetIn(strings.NewReader("\n"))
	if _, err := execute(t, "token", "set"); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolate(t)
	t.Cleanup(func() { configInitForce = false })
	out, err := execute(t, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	p := strings.TrimSpace(out)
	if !strings.HasPrefix(p, dir) || filepath.Base(p) == "" {
		t.Fatalf("config path %q outside %q", p, dir)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("config file: %v", err)
	}
	if _, err := execute(t, "config", "init"); err == nil {
		t.Fatal("second init without --force should fail")
	}
	if _, err := execute(t, "config", "init", "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}

	t.Setenv(config.EnvAddr, "127.0.0.1:4000")
	out, err = execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"127.0.0.1:4000", "# token: not set", "# server.addr overridden by TM_ADDR"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "general.locale overridden") {
		t.Errorf("unset env reported as override:\n%s", out)
	}
}
