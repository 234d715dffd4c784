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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"transmatcher/internal/config"
	"transmatcher/internal/domain"
	"transmatcher/internal/ipc"
	"transmatcher/internal/session"
	"transmatcher/internal/storage"
	"transmatcher/internal/tui"
	"transmatcher/internal/ui"
)

// pairFlags are the file arguments shared by match and edit.
type pairFlags struct {
	origin string
	trans  string
	label  string
	out    string
}

func (f *pairFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.origin, "origin", "", "origin sequence JSON file")
	cmd.Flags().StringVar(&f.trans, "trans", "", "translation sequence JSON file")
	cmd.Flags().StringVar(&f.label, "label", "", "column label (default: trans file name)")
	cmd.Flags().StringVar(&f.out, "out", "", "write the accepted column here")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("trans")
}

// read loads both sequences and resolves the label.
func (f *pairFlags) read() (origin domain.Sequence, label string, data domain.Sequence, err error) {
	if origin, err = storage.ReadSequence(f.origin); err != nil {
		return nil, "", nil, err
	}
	if data, err = storage.ReadSequence(f.trans); err != nil {
		return nil, "", nil, err
	}
	label = f.label
	if label == "" {
		base := filepath.Base(f.trans)
		label = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return origin, label, data, nil
}

// writeResult stores seq at path, or prints it when path is empty.
func writeResult(w io.Writer, path string, seq domain.Sequence) error {
	if path != "" {
		return storage.WriteSequence(path, seq)
	}
	b, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

var (
	matchPair pairFlags
	matchAddr string
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Send a match request to a running server and print the result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		origin, label, data, err := matchPair.read()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := ipc.NewClient(matchAddr)
		c.Token = app.token
		app.log.Info("match request", slog.String("addr", c.Addr), slog.String("label", label),
			slog.Int("origin", len(origin)), slog.Int("trans", len(data)))
		res, err := c.Match(ctx, origin, label, data)
		if errors.Is(err, ipc.ErrRejected) {
			fmt.Fprintln(cmd.ErrOrStderr(), "rejected")
			return err
		}
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), matchPair.out, res)
	},
}

var editPair pairFlags

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Match two files locally without the control channel",
	Long: `Open a matching session for --origin and --trans. On accept the column
is written to --out, or back to --trans (the previous file is kept as .bak).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		origin, label, data, err := editPair.read()
		if err != nil {
			return err
		}
		s := session.New(origin, label, data)
		s.Peer = "local"

		frontend, err := resolveFrontend(app.cfg.General.Frontend, ui.Available(), stdinIsTerminal())
		if err != nil {
			return err
		}
		switch frontend {
		case config.FrontendFyne:
			err = ui.RunSession(app.tr, s)
		case config.FrontendTUI:
			err = tui.NewPresenter(app.tr).Run(cmd.Context(), s)
		default:
			return errors.New("edit needs an interactive front-end (fyne or tui)")
		}
		if err != nil {
			return err
		}
		app.recordLocal(cmd, s)

		st, res := s.Result()
		if st != session.Accepted {
			fmt.Fprintln(cmd.ErrOrStderr(), "rejected, nothing written")
			return nil
		}
		out := editPair.out
		if out == "" {
			out = editPair.trans
		}
		return writeResult(cmd.OutOrStdout(), out, res)
	},
}

// recordLocal stores a finished edit session in the history when enabled.
func (e *env) recordLocal(cmd *cobra.Command, s *session.Session) {
	if !e.cfg.History.Enabled {
		return
	}
	h, err := e.openHistory(cmd.Context())
	if err != nil {
		e.log.Warn("history unavailable", slog.Any("err", err))
		return
	}
	defer h.Close()
	if err := h.Record(cmd.Context(), storage.RecordFromSession(s)); err != nil {
		e.log.Warn("history record failed", slog.Any("err", err))
	}
}

func init() {
	matchPair.register(matchCmd)
	matchCmd.Flags().StringVar(&matchAddr, "addr", "", "server address (default localhost:12345)")
	editPair.register(editCmd)
	editCmd.Flags().String("frontend", config.FrontendAuto, "auto|fyne|tui")
}
