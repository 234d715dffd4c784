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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"transmatcher/internal/config"
	"transmatcher/internal/ipc"
	"transmatcher/internal/session"
	"transmatcher/internal/storage"
	"transmatcher/internal/telemetry"
	"transmatcher/internal/tui"
	"transmatcher/internal/ui"
)

var serveAddr string

const telemetryFlushTimeout = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for match requests and show each one for editing",
	Long: `Listen on the control channel (default :12345). Every request opens a
matching session in the selected front-end:

  fyne      desktop window (binary built with -tags fyne)
  tui       terminal grid
  headless  accept every request unchanged
  auto      fyne if built, else tui on a terminal, else an error`,
	Args: cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, _ []string) {
		if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
			app.cfg.Server.Addr = serveAddr
		}
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ipc.DefaultAddr, "listen address")
	serveCmd.Flags().String("frontend", config.FrontendAuto, "auto|fyne|tui|headless")
}

// errNoInteractiveFrontend is returned when "auto" finds neither a desktop
// build nor a terminal. Headless mode accepts every request unchanged, so it
// is only used when asked for by name.
var errNoInteractiveFrontend = errors.New("no interactive front-end: binary built without fyne and stdin is not a terminal; pass --frontend headless to accept requests unchanged")

// resolveFrontend turns "auto" into a concrete front-end.
func resolveFrontend(name string, fyneBuilt, terminal bool) (string, error) {
	if name != config.FrontendAuto {
		return name, nil
	}
	switch {
	case fyneBuilt:
		return config.FrontendFyne, nil
	case terminal:
		return config.FrontendTUI, nil
	default:
		return "", errNoInteractiveFrontend
	}
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (e *env) serve(ctx context.Context) error {
	l := e.log.With(slog.String("op", "serve"))
	frontend, err := resolveFrontend(e.cfg.General.Frontend, ui.Available(), stdinIsTerminal())
	if err != nil {
		return err
	}

	tel := telemetry.New(e.telemetryConfig())
	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		tel.Flush(fctx)
		tel.Close()
	}()
	e.guard.Telemetry = tel

	opts := session.BrokerOptions{
		SingleSession: e.cfg.General.SingleSession,
		OnStart:       []func(*session.Session){tel.SessionStarted},
		OnFinish:      []func(*session.Session){tel.SessionFinished},
	}
	if e.cfg.History.Enabled {
		h, err := e.openHistory(ctx)
		if err != nil {
			l.Warn("history disabled", slog.Any("err", err))
		} else {
			defer h.Close()
			opts.OnFinish = append(opts.OnFinish, h.Recorder())
		}
	}

	var (
		presenter session.Presenter
		desktop   *ui.Presenter
	)
	switch frontend {
	case config.FrontendFyne:
		p, err := ui.NewPresenter(e.tr, e.cfg.Server.Addr)
		if err != nil {
			return err
		}
		presenter, desktop = p, p
	case config.FrontendTUI:
		presenter = tui.NewPresenter(e.tr)
	default:
		l.Warn("headless front-end: requests are accepted unchanged")
		presenter = session.AutoAccept
	}
	broker := session.NewBroker(presenter, opts)
	defer broker.Drain()
	e.guard.Sessions = broker.Active

	srv := ipc.NewServer(ipc.Options{
		Addr:            e.cfg.Server.Addr,
		MaxRequestBytes: e.cfg.Server.MaxRequestBytes,
		Token:           e.token,
		Broker:          broker,
		OnError:         tel.IPCError,
	})
	if err := srv.Listen(); err != nil {
		return err
	}
	l.Info("listening", slog.String("addr", srv.Addr().String()), slog.String("frontend", frontend))
	if frontend != config.FrontendFyne {
		fmt.Fprintln(os.Stderr, e.tr.T("waiting", map[string]any{"Addr": srv.Addr().String()}))
	}

	if desktop == nil {
		return srv.Serve(ctx)
	}

	// Fyne owns the main goroutine; the server runs beside it and either
	// side ending stops the other.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ctx)
		desktop.Quit()
	}()
	if err := desktop.Run(); err != nil {
		return err
	}
	cancel()
	return <-served
}

func (e *env) telemetryConfig() telemetry.Config {
	c := telemetry.FromEnv()
	c.OptIn = c.OptIn || e.cfg.General.TelemetryOptIn
	return c
}

func (e *env) openHistory(ctx context.Context) (*storage.History, error) {
	dsn, err := e.cfg.HistoryDSN()
	if err != nil {
		return nil, err
	}
	h, err := storage.OpenHistory(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if v, err := h.SchemaVersion(ctx); err == nil {
		e.log.Debug("history opened", slog.Int("schema", v))
	}
	return h, nil
}
