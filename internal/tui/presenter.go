/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"transmatcher/internal/grid"
	"transmatcher/internal/i18n"
	applog "transmatcher/internal/log"
	"transmatcher/internal/session"
)

// Presenter shows sessions in the terminal, one program at a time.
type Presenter struct {
	tr      *i18n.Translator
	gridOpt []grid.Option
	progOpt []tea.ProgramOption
	log     *slog.Logger

	mu sync.Mutex
}

// Option configures a Presenter.
type Option func(*Presenter)

// WithIO redirects the program's input and output.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(p *Presenter) {
		p.progOpt = append(p.progOpt, tea.WithInput(in), tea.WithOutput(out))
	}
}

// WithGridOptions passes options to each session's grid model.
func WithGridOptions(opts ...grid.Option) Option {
	return func(p *Presenter) { p.gridOpt = append(p.gridOpt, opts...) }
}

func NewPresenter(tr *i18n.Translator, opts ...Option) *Presenter {
	p := &Presenter{tr: tr, log: applog.WithComponent("tui")}
	for _, o := range opts {
		o(p)
	}
	if len(p.progOpt) == 0 {
		p.progOpt = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return p
}

// Present starts a program for s and returns. The session is rejected if
// the program ends without a decision.
func (p *Presenter) Present(ctx context.Context, s *session.Session) error {
	m := NewModel(s, p.tr, p.gridOpt...)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.run(ctx, m); err != nil {
			p.log.ErrorContext(ctx, "terminal program failed", slog.Any("err", err))
		}
		s.Reject()
	}()
	return nil
}

// Run shows s and blocks until it finishes. Used by the edit command.
func (p *Presenter) Run(ctx context.Context, s *session.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.run(ctx, NewModel(s, p.tr, p.gridOpt...))
	s.Reject()
	return err
}

func (p *Presenter) run(ctx context.Context, m Model) error {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, p.progOpt...)
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}
