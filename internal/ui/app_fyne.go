//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ui is the Fyne desktop front-end. Builds without the fyne tag get a
// stub whose constructors report that the desktop UI is unavailable.
package ui

import (
	"context"
	"log/slog"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"transmatcher/internal/grid"
	"transmatcher/internal/i18n"
	applog "transmatcher/internal/log"
	"transmatcher/internal/session"
)

const appID = "io.transmatcher.app"

// Available reports whether this binary carries the desktop UI.
func Available() bool { return true }

// Presenter opens one window per session on a shared Fyne app. Run must be
// called from the main goroutine.
type Presenter struct {
	app     fyne.App
	tr      *i18n.Translator
	log     *slog.Logger
	gridOpt []grid.Option
	main    fyne.Window
}

// NewPresenter creates the Fyne app and its idle window, which shows the
// listening address.
func NewPresenter(tr *i18n.Translator, addr string) (*Presenter, error) {
	return newPresenter(app.NewWithID(appID), tr, addr), nil
}

func newPresenter(a fyne.App, tr *i18n.Translator, addr string) *Presenter {
	if tr == nil {
		tr = i18n.New("en")
	}
	p := &Presenter{app: a, tr: tr, log: applog.WithComponent("ui")}
	p.main = a.NewWindow(tr.T("window_title", map[string]any{"Label": "-"}))
	p.main.SetContent(container.NewCenter(widget.NewLabel(tr.T("waiting", map[string]any{"Addr": addr}))))
	p.main.Resize(fyne.NewSize(420, 120))
	p.main.SetMaster()
	return p
}

// Present opens the session's window on the UI goroutine and returns.
func (p *Presenter) Present(_ context.Context, s *session.Session) error {
	fyne.Do(func() {
		openSessionWindow(p.app, p.tr, s, p.gridOpt...)
	})
	return nil
}

// Run shows the idle window and blocks until the app quits.
func (p *Presenter) Run() error {
	p.log.Info("desktop ui started")
	p.main.ShowAndRun()
	return nil
}

// Quit stops the app; Run returns afterwards.
func (p *Presenter) Quit() { fyne.Do(p.app.Quit) }

// RunSession shows a single session and blocks until it is accepted or
// rejected.
func RunSession(tr *i18n.Translator, s *session.Session) error {
	a := app.NewWithID(appID)
	openSessionWindow(a, tr, s)
	go func() {
		<-s.Done()
		fyne.Do(a.Quit)
	}()
	a.Run()
	return nil
}

// sessionWindow is the editing window of one session.
type sessionWindow struct {
	s     *session.Session
	model *grid.Model
	col   int
	tr    *i18n.Translator

	win     fyne.Window
	table   *matchTable
	summary *widget.Label
	accept  *widget.Button
	reject  *widget.Button
	undo    *widget.Button
	redo    *widget.Button
	closed  bool
}

func openSessionWindow(a fyne.App, tr *i18n.Translator, s *session.Session, opts ...grid.Option) *sessionWindow {
	opts = append([]grid.Option{grid.WithHistory(grid.DefaultHistory())}, opts...)
	if tr == nil {
		tr = i18n.New("en")
	}
	sw := &sessionWindow{s: s, tr: tr, model: s.NewModel(opts...)}
	sw.col, _ = sw.model.Column(s.Label)
	sw.win = a.NewWindow(tr.T("window_title", map[string]any{"Label": s.Label}))
	sw.table = newMatchTable(sw.model, tr, sw.win)
	sw.summary = widget.NewLabel("")

	sw.accept = widget.NewButtonWithIcon(tr.S("accept"), theme.ConfirmIcon(), sw.doAccept)
	sw.accept.Importance = widget.HighImportance
	sw.reject = widget.NewButtonWithIcon(tr.S("reject"), theme.CancelIcon(), sw.doReject)
	sw.undo = widget.NewButtonWithIcon(tr.S("undo"), theme.ContentUndoIcon(), func() { sw.model.Undo(sw.col) })
	sw.redo = widget.NewButtonWithIcon(tr.S("redo"), theme.ContentRedoIcon(), func() { sw.model.Redo(sw.col) })
	sw.model.OnChange(func(grid.Change) { fyne.Do(sw.refreshControls) })
	sw.refreshControls()

	bar := container.NewHBox(sw.undo, sw.redo, sw.summary, layout.NewSpacer(), sw.reject, sw.accept)
	sw.win.SetContent(container.NewBorder(nil, bar, nil, nil, sw.table.table))

	sw.win.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyZ, Modifier: fyne.KeyModifierShortcutDefault},
		func(fyne.Shortcut) { sw.model.Undo(sw.col) })
	sw.win.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyY, Modifier: fyne.KeyModifierShortcutDefault},
		func(fyne.Shortcut) { sw.model.Redo(sw.col) })

	// Closing the window is a rejection.
	sw.win.SetCloseIntercept(sw.doReject)
	go func() {
		<-s.Done()
		fyne.Do(sw.close)
	}()

	sw.win.Resize(fyne.NewSize(2*defaultColumnWidth+120, 640))
	sw.win.Show()
	return sw
}

func (sw *sessionWindow) refreshControls() {
	if sw.model.CanUndo(sw.col) {
		sw.undo.Enable()
	} else {
		sw.undo.Disable()
	}
	if sw.model.CanRedo(sw.col) {
		sw.redo.Enable()
	} else {
		sw.redo.Disable()
	}
	n := len(sw.model.Trans(sw.s.Label))
	sw.summary.SetText(sw.tr.T("session_summary", map[string]any{"Count": n, "Label": sw.s.Label}))
}

func (sw *sessionWindow) doAccept() {
	sw.s.Accept(sw.model.Trans(sw.s.Label))
	sw.close()
}

func (sw *sessionWindow) doReject() {
	sw.s.Reject()
	sw.close()
}

func (sw *sessionWindow) close() {
	if sw.closed {
		return
	}
	sw.closed = true
	sw.win.Close()
}
