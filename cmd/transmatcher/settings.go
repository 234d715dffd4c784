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
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"transmatcher/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration and its environment overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		data, err := yaml.Marshal(app.cfg)
		if err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		tokenState := "not set"
		if app.token != "" {
			tokenState = "set"
		}
		fmt.Fprintf(out, "# token: %s\n", tokenState)
		for _, key := range config.EnvKeys() {
			if name, ok := config.EnvOverrideFor(key); ok {
				fmt.Fprintf(out, "# %s overridden by %s\n", key, name)
			}
		}
		return nil
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", p)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := config.Save(config.Defaults(), ""); err != nil {
			return err
		}
		app.log.Info("config written", slog.String("path", p))
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the control-channel token kept in the OS keychain",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [VALUE]",
	Short: "Store the token; reads one line from stdin when VALUE is omitted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var tok string
		if len(args) == 1 {
			tok = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			tok = strings.TrimSpace(line)
		}
		if err := config.SetToken(tok); err != nil {
			return err
		}
		if name, ok := config.EnvOverrideFor("server.token"); ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "note: %s is set and takes precedence\n", name)
		}
		app.log.Info("token stored")
		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.ClearToken(); err != nil {
			return err
		}
		app.log.Info("token cleared")
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configPathCmd, configShowCmd, configInitCmd)
	tokenCmd.AddCommand(tokenSetCmd, tokenClearCmd)
}
