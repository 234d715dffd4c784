/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package config loads the user configuration: a YAML file in the user
// config directory merged over defaults, then environment overrides (a .env
// file in the working directory is honoured). The control-channel token
// lives in the OS keychain, never in the YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const appDirName = "transmatcher"

// Front-end names accepted by general.frontend.
const (
	FrontendAuto     = "auto"
	FrontendFyne     = "fyne"
	FrontendTUI      = "tui"
	FrontendHeadless = "headless"
)

type GeneralConfig struct {
	Locale         string `yaml:"locale"`
	Frontend       string `yaml:"frontend"`
	SingleSession  bool   `yaml:"single_session"`
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	MaxRequestBytes int    `yaml:"max_request_bytes"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// DSN is a SQLite file path or a postgres:// URL. Empty means the
	// default file in the user data directory.
	DSN string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// AppConfig is the user-editable configuration.
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Server        ServerConfig  `yaml:"server"`
	History       HistoryConfig `yaml:"history"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{Locale: "en", Frontend: FrontendAuto, SingleSession: true},
		Server:        ServerConfig{Addr: ":12345", MaxRequestBytes: 16 << 20},
		History:       HistoryConfig{Enabled: true},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvLocale          = "TM_LOCALE"
	EnvFrontend        = "TM_FRONTEND"
	EnvSingleSession   = "TM_SINGLE_SESSION"
	EnvTelemetryOptIn  = "TM_TELEMETRY_OPT_IN"
	EnvAddr            = "TM_ADDR"
	EnvMaxRequestBytes = "TM_MAX_REQUEST_BYTES"
	EnvHistoryEnabled  = "TM_HISTORY_ENABLED"
	EnvHistoryDSN      = "TM_HISTORY_DSN"
	EnvIPCToken        = "TM_IPC_TOKEN"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "TM_LOG_LEVEL"
	EnvLogFormat = "TM_LOG_FORMAT"
	EnvLogSource = "TM_LOG_SOURCE"
	EnvLogFile   = "TM_LOG_FILE"
	// EnvConfigDir relocates the config and data directories (tests, portable installs).
	EnvConfigDir = "TM_CONFIG_DIR"
)

var envKeys = map[string]string{
	"general.locale":           EnvLocale,
	"general.frontend":         EnvFrontend,
	"general.single_session":   EnvSingleSession,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"server.addr":              EnvAddr,
	"server.max_request_bytes": EnvMaxRequestBytes,
	"server.token":             EnvIPCToken,
	"history.enabled":          EnvHistoryEnabled,
	"history.dsn":              EnvHistoryDSN,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// Service/keys for OS keyring.
const (
	keyringService = "TransMatcher"
	keyringToken   = "ipc_token"
)

// tokenStore abstracts the keyring so tests can stub it.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// baseDir returns the per-user application directory.
func baseDir() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvConfigDir)); v != "" {
		return v, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "TransMatcher")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "TransMatcher")
	default: // linux and others
		if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
			base = filepath.Join(x, appDirName)
		} else if h := os.Getenv("HOME"); h != "" {
			base = filepath.Join(h, ".config", appDirName)
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	base, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config.yaml"), nil
}

// DataDir returns the directory for the history database and crash dumps.
func DataDir() (string, error) {
	base, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "data"), nil
}

// Load reads .env (if present) and the user config file (if present),
// applies defaults and environment overrides, and returns the control
// channel token from TM_IPC_TOKEN or the keyring. A config file that cannot
// be parsed is reported together with the defaults-based config.
func Load() (AppConfig, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Defaults(), "", fmt.Errorf("load .env: %w", err)
	}
	path, err := ConfigPath()
	if err != nil {
		return Defaults(), "", err
	}
	return LoadFile(path)
}

// LoadFile is Load without .env processing and with an explicit file.
func LoadFile(path string) (AppConfig, string, error) {
	cfg := Defaults()
	var ferr error
	if data, err := os.ReadFile(path); err == nil {
		fileCfg := Defaults()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			ferr = fmt.Errorf("parse %s: %w", path, err)
		} else {
			cfg = fileCfg
		}
	}
	normalize(&cfg)
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil && ferr == nil {
		ferr = err
	}
	return cfg, Token(), ferr
}

// Token returns the control-channel token, env first, then keyring. Empty
// means no token is required.
func Token() string {
	if v := strings.TrimSpace(os.Getenv(EnvIPCToken)); v != "" {
		return v
	}
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return tok
}

// Save writes the user config YAML and persists the token into the OS
// keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return saveFile(path, cfg, token)
}

func saveFile(path string, cfg AppConfig, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		return SetToken(token)
	}
	return nil
}

// SetToken stores the control-channel token in the OS keyring.
func SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// ClearToken removes the stored token.
func ClearToken() error {
	err := tokenStore.Delete(keyringService, keyringToken)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Validate checks values that would otherwise fail later at startup.
func (c AppConfig) Validate() error {
	switch c.General.Frontend {
	case FrontendAuto, FrontendFyne, FrontendTUI, FrontendHeadless:
	default:
		return fmt.Errorf("general.frontend: unknown front-end %q", c.General.Frontend)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is empty")
	}
	if c.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("server.max_request_bytes must be positive, got %d", c.Server.MaxRequestBytes)
	}
	return nil
}

// HistoryDSN resolves the history store location.
func (c AppConfig) HistoryDSN() (string, error) {
	if strings.TrimSpace(c.History.DSN) != "" {
		return c.History.DSN, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.sqlite"), nil
}

func normalize(cfg *AppConfig) {
	d := Defaults()
	cfg.General.Locale = strings.TrimSpace(cfg.General.Locale)
	if cfg.General.Locale == "" {
		cfg.General.Locale = d.General.Locale
	}
	cfg.General.Frontend = strings.ToLower(strings.TrimSpace(cfg.General.Frontend))
	if cfg.General.Frontend == "" {
		cfg.General.Frontend = d.General.Frontend
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.MaxRequestBytes == 0 {
		cfg.Server.MaxRequestBytes = d.Server.MaxRequestBytes
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvLocale)); v != "" {
		cfg.General.Locale = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFrontend)); v != "" {
		cfg.General.Frontend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvSingleSession); strings.TrimSpace(v) != "" {
		cfg.General.SingleSession = parseBool(v)
	}
	if v := os.Getenv(EnvTelemetryOptIn); strings.TrimSpace(v) != "" {
		cfg.General.TelemetryOptIn = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMaxRequestBytes)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxRequestBytes = n
		}
	}
	if v := os.Getenv(EnvHistoryEnabled); strings.TrimSpace(v) != "" {
		cfg.History.Enabled = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvHistoryDSN)); v != "" {
		cfg.History.DSN = v
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogSource); strings.TrimSpace(v) != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

// EnvKeys lists the config keys that have an environment override, sorted.
func EnvKeys() []string {
	keys := make([]string, 0, len(envKeys))
	for k := range envKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvOverrideFor returns the env var name if the field is overridden by
// environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}
