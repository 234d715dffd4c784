/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package undo keeps bounded undo/redo stacks of opaque column states.
// Each stack is keyed by a translation column label; the grid pushes the
// column's state before every mutation.
package undo

import (
	"sync"
	"time"
)

// Snapshot is a reversible column state. Blob content is opaque to the
// manager; size is estimated as len(Blob).
type Snapshot struct {
	Label string
	Blob  []byte
	TS    time.Time
}

// Config controls memory and depth caps and coalescing behavior.
type Config struct {
	// MaxBytes is a soft cap; older entries are pruned when exceeded.
	MaxBytes int
	// MaxPerLabel limits snapshots kept per column (0 means unlimited).
	MaxPerLabel int
	// MinInterval coalesces pushes for the same column that arrive within
	// the interval: the earlier state is kept, so a typing burst undoes
	// in one step.
	MinInterval time.Duration
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg Config
	mu  sync.Mutex

	undo map[string][]Snapshot
	redo map[string][]Snapshot

	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 8 * 1024 * 1024
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	return &Manager{cfg: cfg, undo: make(map[string][]Snapshot), redo: make(map[string][]Snapshot)}
}

// Push records the state of a column before a change. Any new change
// invalidates that column's redo stack.
func (m *Manager) Push(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRedoLocked(s.Label)
	stack := m.undo[s.Label]
	if n := len(stack); n > 0 && m.cfg.MinInterval > 0 {
		if s.TS.Sub(stack[n-1].TS) < m.cfg.MinInterval {
			// refresh the timestamp so a continuous burst keeps coalescing
			stack[n-1].TS = s.TS
			return
		}
	}
	m.undo[s.Label] = append(stack, s)
	m.totalBytes += len(s.Blob)
	m.enforceCapsLocked(s.Label)
}

// Undo pops the newest saved state for label and stores current on the
// redo stack. The caller applies the returned blob.
func (m *Manager) Undo(label string, current []byte) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.undo[label]
	if len(stack) == 0 {
		return Snapshot{}, false
	}
	s := stack[len(stack)-1]
	m.undo[label] = stack[:len(stack)-1]
	m.totalBytes -= len(s.Blob)
	m.redo[label] = append(m.redo[label], Snapshot{Label: label, Blob: current, TS: time.Now()})
	m.totalBytes += len(current)
	m.enforceCapsLocked(label)
	return s, true
}

// Redo pops the newest undone state for label and stores current back on
// the undo stack.
func (m *Manager) Redo(label string, current []byte) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.redo[label]
	if len(r) == 0 {
		return Snapshot{}, false
	}
	s := r[len(r)-1]
	m.redo[label] = r[:len(r)-1]
	m.totalBytes -= len(s.Blob)
	// TS is zero so the next Push never coalesces into a redone step.
	m.undo[label] = append(m.undo[label], Snapshot{Label: label, Blob: current})
	m.totalBytes += len(current)
	m.enforceCapsLocked(label)
	return s, true
}

// CanUndo reports whether label has a saved state.
func (m *Manager) CanUndo(label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo[label]) > 0
}

// CanRedo reports whether label has an undone state.
func (m *Manager) CanRedo(label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo[label]) > 0
}

// Clear drops both stacks for label, e.g. when the column is reloaded.
func (m *Manager) Clear(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.undo[label] {
		m.totalBytes -= len(s.Blob)
	}
	m.dropRedoLocked(label)
	delete(m.undo, label)
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

func (m *Manager) dropRedoLocked(label string) {
	for _, s := range m.redo[label] {
		m.totalBytes -= len(s.Blob)
	}
	delete(m.redo, label)
}

func (m *Manager) enforceCapsLocked(label string) {
	if m.cfg.MaxPerLabel > 0 {
		stack := m.undo[label]
		if len(stack) > m.cfg.MaxPerLabel {
			toDrop := len(stack) - m.cfg.MaxPerLabel
			for i := 0; i < toDrop; i++ {
				m.totalBytes -= len(stack[i].Blob)
			}
			m.undo[label] = append([]Snapshot{}, stack[toDrop:]...)
		}
	}
	// Global memory cap: prune the oldest undo state across all columns.
	for m.totalBytes > m.cfg.MaxBytes {
		oldestLabel := ""
		found := false
		var oldestTS time.Time
		for l, stack := range m.undo {
			if len(stack) == 0 {
				continue
			}
			if !found || stack[0].TS.Before(oldestTS) {
				oldestLabel = l
				oldestTS = stack[0].TS
				found = true
			}
		}
		if !found {
			break
		}
		stack := m.undo[oldestLabel]
		m.totalBytes -= len(stack[0].Blob)
		m.undo[oldestLabel] = stack[1:]
		if len(m.undo[oldestLabel]) == 0 {
			delete(m.undo, oldestLabel)
		}
	}
}
