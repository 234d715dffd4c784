/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	applog "transmatcher/internal/log"
)

// Presenter shows a session to the user. Present hands the session over
// and may return before the user decides; the presenter must eventually
// call Accept or Reject, and should close its UI when Done fires for a
// session that was finished elsewhere.
type Presenter interface {
	Present(ctx context.Context, s *Session) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, s *Session) error

func (f PresenterFunc) Present(ctx context.Context, s *Session) error { return f(ctx, s) }

// AutoAccept accepts every session unchanged. It backs the headless
// front-end.
var AutoAccept Presenter = PresenterFunc(func(_ context.Context, s *Session) error {
	s.Accept(s.Data)
	return nil
})

// ErrPresent wraps failures to show a session.
var ErrPresent = errors.New("present session")

// BrokerOptions configures a Broker.
type BrokerOptions struct {
	// SingleSession admits one session at a time; later sessions wait
	// until the active one reaches a terminal state.
	SingleSession bool
	// OnStart hooks run once a session is admitted, before it is shown.
	OnStart []func(*Session)
	// OnFinish hooks run in the background after every session that reached
	// a terminal state. Drain waits for them.
	OnFinish []func(*Session)
}

// Broker runs sessions through a Presenter.
type Broker struct {
	presenter Presenter
	sem       *semaphore.Weighted
	onStart   []func(*Session)
	onFinish  []func(*Session)
	log       *slog.Logger

	hooks sync.WaitGroup

	mu     sync.Mutex
	active map[string]*Session
}

func NewBroker(p Presenter, opts BrokerOptions) *Broker {
	b := &Broker{
		presenter: p,
		onStart:   append([]func(*Session){}, opts.OnStart...),
		onFinish:  append([]func(*Session){}, opts.OnFinish...),
		log:       applog.WithComponent("session"),
		active:    make(map[string]*Session),
	}
	if opts.SingleSession {
		b.sem = semaphore.NewWeighted(1)
	}
	return b
}

// Run presents s and waits for its outcome. If ctx ends first (peer gone,
// server shutting down) the session is rejected so its UI closes.
// The error is non-nil only when the session could not be shown or ctx
// ended before admission; the session is rejected in both cases.
func (b *Broker) Run(ctx context.Context, s *Session) (State, error) {
	ctx = applog.ContextWithSession(ctx, s.ID)
	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			s.Reject()
			return Rejected, fmt.Errorf("wait for session slot: %w", err)
		}
		defer b.sem.Release(1)
	}

	b.mu.Lock()
	b.active[s.ID] = s
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.active, s.ID)
		b.mu.Unlock()
	}()

	b.log.InfoContext(ctx, "session started",
		slog.String("label", s.Label),
		slog.Int("origin", len(s.Origin)),
		slog.Int("trans", len(s.Data)))
	for _, fn := range b.onStart {
		fn(s)
	}

	if err := b.presenter.Present(ctx, s); err != nil {
		s.Reject()
		b.log.ErrorContext(ctx, "present failed", slog.Any("err", err))
		b.finished(s)
		return Rejected, fmt.Errorf("%w: %v", ErrPresent, err)
	}

	if _, _, err := s.Wait(ctx); err != nil && s.Reject() {
		b.log.WarnContext(ctx, "session abandoned", slog.Any("err", err))
	}
	st := s.State()
	b.log.InfoContext(ctx, "session finished", slog.String("state", st.String()))
	b.finished(s)
	return st, nil
}

// finished runs the finish hooks off the caller's goroutine so a slow
// store does not delay the reply to the peer.
func (b *Broker) finished(s *Session) {
	if len(b.onFinish) == 0 {
		return
	}
	b.hooks.Add(1)
	go func() {
		defer b.hooks.Done()
		for _, fn := range b.onFinish {
			fn(s)
		}
	}()
}

// Drain waits for finish hooks that are still running.
func (b *Broker) Drain() { b.hooks.Wait() }

// Active returns the sessions currently shown to the user.
func (b *Broker) Active() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Session, 0, len(b.active))
	for _, s := range b.active {
		out = append(out, s)
	}
	return out
}
