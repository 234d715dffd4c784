/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package session models one interactive matching run. A Session starts
// Pending and reaches exactly one terminal state, Accepted or Rejected.
// The control channel waits on Done instead of blocking inside its I/O
// handling; front-ends (Presenters) drive the transition.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"transmatcher/internal/domain"
	"transmatcher/internal/grid"
)

// State of a session.
type State int

const (
	Pending State = iota
	Accepted
	Rejected
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Session is safe for concurrent use.
type Session struct {
	ID      string
	Origin  domain.Sequence
	Label   string
	Data    domain.Sequence
	Peer    string
	Started time.Time

	mu       sync.Mutex
	state    State
	result   domain.Sequence
	finished time.Time
	model    *grid.Model
	done     chan struct{}
}

// New creates a pending session seeded with origin and one translation
// column label -> data.
func New(origin domain.Sequence, label string, data domain.Sequence) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Origin:  origin.Clone(),
		Label:   label,
		Data:    data.Clone(),
		Started: time.Now(),
		done:    make(chan struct{}),
	}
}

// FromRequest builds a session from a control-channel request.
func FromRequest(req domain.Request, peer string) *Session {
	s := New(req.Origin, req.Trans.Label, req.Trans.Data)
	s.Peer = peer
	return s
}

// NewModel returns a grid model loaded with the session's columns. The
// model becomes the session's live edit state reported by Current.
func (s *Session) NewModel(opts ...grid.Option) *grid.Model {
	m := grid.NewModel(opts...)
	m.SetOrigin(s.Origin)
	m.SetTrans(s.Label, s.Data)
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
	return m
}

// Current returns the column as currently edited, or the seed data when no
// model was created.
func (s *Session) Current() domain.Sequence {
	s.mu.Lock()
	m := s.model
	s.mu.Unlock()
	if m == nil {
		return s.Data.Clone()
	}
	return m.Trans(s.Label)
}

// Accept finishes the session with the edited column. It returns false if
// the session already finished.
func (s *Session) Accept(result domain.Sequence) bool {
	return s.finish(Accepted, result.Clone())
}

// Reject finishes the session without a result. It returns false if the
// session already finished.
func (s *Session) Reject() bool {
	return s.finish(Rejected, nil)
}

func (s *Session) finish(st State, result domain.Sequence) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Pending {
		return false
	}
	s.state = st
	s.result = result
	s.finished = time.Now()
	close(s.done)
	return true
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the terminal state and, when accepted, a copy of the
// edited column.
func (s *Session) Result() (State, domain.Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Accepted {
		return s.state, s.result.Clone()
	}
	return s.state, nil
}

// Finished returns when the session left Pending (zero while pending).
func (s *Session) Finished() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Wait blocks until the session finishes or ctx ends.
func (s *Session) Wait(ctx context.Context) (State, domain.Sequence, error) {
	select {
	case <-s.done:
		st, res := s.Result()
		return st, res, nil
	case <-ctx.Done():
		return Pending, nil, ctx.Err()
	}
}
