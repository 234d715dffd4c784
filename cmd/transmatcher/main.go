/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Command transmatcher runs the match server and its companion tools.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"transmatcher/internal/config"
	"transmatcher/internal/crash"
	"transmatcher/internal/i18n"
	applog "transmatcher/internal/log"
	"transmatcher/internal/ui"
	"transmatcher/internal/version"
)

// env is the state shared by all subcommands after the root pre-run.
type env struct {
	cfg   config.AppConfig
	token string
	tr    *i18n.Translator
	log   *slog.Logger
	guard *crash.Guard
}

var app = &env{guard: &crash.Guard{}}

var rootCmd = &cobra.Command{
	Use:           "transmatcher",
	Short:         "Match translated entries against their origin",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return app.setup(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, matchCmd, editCmd, historyCmd, configCmd, tokenCmd, versionCmd)
}

// setup loads configuration and initialises logging. A config file that
// fails to parse is logged and the defaults are used.
func (e *env) setup(cmd *cobra.Command) error {
	cfg, token, cerr := config.Load()
	e.cfg, e.token = cfg, token
	if f := cmd.Flags().Lookup("frontend"); f != nil && f.Changed {
		e.cfg.General.Frontend = f.Value.String()
	}

	opts := applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	}
	if e.terminalUI(cmd) {
		// The terminal front-end owns the screen.
		opts.Console = io.Discard
		if opts.File == "" {
			if dir, err := config.DataDir(); err == nil {
				opts.File = filepath.Join(dir, "transmatcher.log")
			}
		}
	}
	applog.Init(opts)
	e.log = applog.WithComponent("cli")
	if cerr != nil {
		e.log.Warn("config problem, using defaults where needed", slog.Any("err", cerr))
	}
	if dir, err := config.DataDir(); err == nil {
		e.guard.Dir = filepath.Join(dir, "crash")
	}
	e.tr = i18n.New(e.cfg.General.Locale)
	return nil
}

// terminalUI reports whether cmd will draw the terminal grid.
func (e *env) terminalUI(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "serve", "edit":
		f, err := resolveFrontend(e.cfg.General.Frontend, ui.Available(), stdinIsTerminal())
		return err == nil && f == config.FrontendTUI
	}
	return false
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "Trans Matcher", version.String())
	},
}

func main() {
	defer crash.Recover(app.guard)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
