/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

// isolate points the config dir at a temp dir and uses the in-memory keyring.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	t.Setenv(EnvIPCToken, "")
	keyring.MockInit()
	return dir
}

func TestDefaultsWithoutFile(t *testing.T) {
	isolate(t)
	cfg, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if tok != "" {
		t.Fatalf("token = %q, want empty", tok)
	}
	d := Defaults()
	if cfg.Server.Addr != ":12345" || !cfg.General.SingleSession || !cfg.History.Enabled || cfg.General.Frontend != FrontendAuto {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if cfg.Server.MaxRequestBytes != d.Server.MaxRequestBytes {
		t.Fatalf("MaxRequestBytes = %d", cfg.Server.MaxRequestBytes)
	}
}

func TestFileKeepsUnsetDefaults(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	body := "general:\n  locale: zh\n  frontend: TUI\nserver:\n  addr: 127.0.0.1:9000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.General.Locale != "zh" || cfg.General.Frontend != FrontendTUI || cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("file values not applied: %#v", cfg)
	}
	if !cfg.General.SingleSession || !cfg.History.Enabled {
		t.Fatalf("booleans absent from the file must keep defaults: %#v", cfg)
	}
}

func TestBrokenFileReportsError(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("general: [\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, _, err := Load()
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if cfg.Server.Addr != ":12345" {
		t.Fatalf("defaults expected on parse error, got %#v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvAddr, ":2000")
	t.Setenv(EnvSingleSession, "false")
	t.Setenv(EnvFrontend, "headless")
	t.Setenv(EnvHistoryDSN, "postgres://u:p@db/tm")
	t.Setenv(EnvMaxRequestBytes, "1024")
	t.Setenv(EnvTelemetryOptIn, "yes")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Addr != ":2000" || cfg.General.SingleSession || cfg.General.Frontend != FrontendHeadless ||
		cfg.History.DSN != "postgres://u:p@db/tm" || cfg.Server.MaxRequestBytes != 1024 || !cfg.General.TelemetryOptIn {
		t.Fatalf("env overrides not applied: %#v", cfg)
	}
	if name, ok := EnvOverrideFor("server.addr"); !ok || name != EnvAddr {
		t.Fatalf("EnvOverrideFor(server.addr) = %q, %v", name, ok)
	}
	if _, ok := EnvOverrideFor("logging.file"); ok {
		t.Fatalf("logging.file should not be overridden")
	}
	if _, ok := EnvOverrideFor("no.such.key"); ok {
		t.Fatalf("unknown key reported as overridden")
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	isolate(t)
	t.Setenv(EnvLogLevel, "ERROR")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogSource, "1")
	t.Setenv(EnvLogFile, "X:/tm.log")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "X:/tm.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
}

func TestInvalidFrontend(t *testing.T) {
	isolate(t)
	t.Setenv(EnvFrontend, "qt")
	if _, _, err := Load(); err == nil || !strings.Contains(err.Error(), "frontend") {
		t.Fatalf("expected frontend validation error, got %v", err)
	}
}

func TestSaveAndTokenRoundTrip(t *testing.T) {
	dir := isolate(t)
	cfg := Defaults()
	cfg.General.Locale = "zh"
	if err := Save(cfg, "s3cret"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if strings.Contains(string(data), "s3cret") {
		t.Fatalf("token leaked into YAML")
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.General.Locale != "zh" || tok != "s3cret" {
		t.Fatalf("round trip: locale=%q token=%q", got.General.Locale, tok)
	}

	t.Setenv(EnvIPCToken, "from-env")
	if Token() != "from-env" {
		t.Fatalf("env token should win")
	}
	t.Setenv(EnvIPCToken, "")
	if err := ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if Token() != "" {
		t.Fatalf("token not cleared")
	}
	if err := ClearToken(); err != nil {
		t.Fatalf("ClearToken on missing token: %v", err)
	}
}

func TestSetTokenRejectsEmpty(t *testing.T) {
	isolate(t)
	if err := SetToken("  "); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if err := SetToken(" abc "); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if got := Token(); got != "abc" {
		t.Fatalf("Token() = %q", got)
	}
}

func TestEnvKeysSorted(t *testing.T) {
	keys := EnvKeys()
	if len(keys) != len(envKeys) {
		t.Fatalf("EnvKeys returned %d of %d keys", len(keys), len(envKeys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}

func TestHistoryDSN(t *testing.T) {
	dir := isolate(t)
	cfg := Defaults()
	dsn, err := cfg.HistoryDSN()
	if err != nil {
		t.Fatalf("HistoryDSN: %v", err)
	}
	if dsn != filepath.Join(dir, "data", "history.sqlite") {
		t.Fatalf("dsn = %q", dsn)
	}
	cfg.History.DSN = "postgres://x"
	if dsn, _ := cfg.HistoryDSN(); dsn != "postgres://x" {
		t.Fatalf("explicit dsn = %q", dsn)
	}
}
