/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package grid holds the matching grid: a table with one read-only origin
// column followed by one editable column per translation label.
//
// Cell (row, col) for col > 0 is editable only while row is inside that
// column's sequence; everything outside renders empty and rejects writes.
// The row extent is max(len(origin), len of every translation column).
package grid

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"transmatcher/internal/domain"
	applog "transmatcher/internal/log"
	"transmatcher/internal/undo"
)

// OriginColumn is the index of the fixed, read-only origin column.
const OriginColumn = 0

// DefaultRowHeight is the row height front-ends start with.
const DefaultRowHeight = 100

// Undo limits the front-ends attach to a model. Edits of one column that
// land within UndoCoalesce of each other undo as a single step.
const (
	UndoMaxBytes    = 32 << 20
	UndoMaxPerLabel = 500
	UndoCoalesce    = 750 * time.Millisecond
)

// DefaultHistory returns an undo manager configured with the limits above.
func DefaultHistory() *undo.Manager {
	return undo.NewManager(undo.Config{
		MaxBytes:    UndoMaxBytes,
		MaxPerLabel: UndoMaxPerLabel,
		MinInterval: UndoCoalesce,
	})
}

// Change describes rows [FromRow, ToRow] of column Col whose content may
// have changed. ToRow < FromRow means the range is empty.
type Change struct {
	Col     int
	FromRow int
	ToRow   int
}

// Listener is notified after a mutation, outside the model lock, so it
// may read the model.
type Listener func(Change)

// Model owns the origin sequence and the label -> sequence mapping.
// It is safe for concurrent use.
type Model struct {
	mu        sync.Mutex
	origin    domain.Sequence
	labels    []string
	trans     map[string]domain.Sequence
	listeners []Listener
	history   *undo.Manager
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithHistory enables undo/redo backed by h.
func WithHistory(h *undo.Manager) Option { return func(m *Model) { m.history = h } }

func NewModel(opts ...Option) *Model {
	m := &Model{
		origin: domain.Sequence{},
		trans:  make(map[string]domain.Sequence),
		now:    time.Now,
		log:    applog.WithComponent("grid"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnChange registers a listener.
func (m *Model) OnChange(l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// SetOrigin replaces the origin column.
func (m *Model) SetOrigin(seq domain.Sequence) {
	m.mu.Lock()
	m.origin = seq.Clone()
	ch := Change{Col: OriginColumn, FromRow: 0, ToRow: m.rowCountLocked() - 1}
	ls := m.listenersLocked()
	m.mu.Unlock()
	notify(ls, ch)
}

// SetTrans registers label as a new column if unknown, then replaces its
// data. Undo history for the column is discarded.
func (m *Model) SetTrans(label string, seq domain.Sequence) {
	m.mu.Lock()
	col, ok := m.columnLocked(label)
	if !ok {
		m.labels = append(m.labels, label)
		col = len(m.labels)
	}
	m.trans[label] = seq.Clone()
	if m.history != nil {
		m.history.Clear(label)
	}
	ch := Change{Col: col, FromRow: 0, ToRow: m.rowCountLocked() - 1}
	ls := m.listenersLocked()
	m.mu.Unlock()
	notify(ls, ch)
}

// Trans returns a copy of the column's sequence, or an empty sequence if
// the label is unknown.
func (m *Model) Trans(label string) domain.Sequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trans[label].Clone()
}

// Origin returns a copy of the origin column.
func (m *Model) Origin() domain.Sequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.origin.Clone()
}

// Labels returns the translation labels in column order.
func (m *Model) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.labels...)
}

// Label returns the label shown in column col (col >= 1).
func (m *Model) Label(col int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labelLocked(col)
}

// Column returns the column index of label.
func (m *Model) Column(label string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.columnLocked(label)
}

// RowCount is max(len(origin), len of every translation column).
func (m *Model) RowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rowCountLocked()
}

// ColumnCount is 1 + number of labels.
func (m *Model) ColumnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 1 + len(m.labels)
}

// ColumnLen returns the sequence length backing col.
func (m *Model) ColumnLen(col int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if col == OriginColumn {
		return len(m.origin)
	}
	label, ok := m.labelLocked(col)
	if !ok {
		return 0
	}
	return len(m.trans[label])
}

// Cell returns the entry at (row, col) when row is inside that column.
func (m *Model) Cell(row, col int) (domain.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row < 0 {
		return domain.Entry{}, false
	}
	if col == OriginColumn {
		if row < len(m.origin) {
			return m.origin[row], true
		}
		return domain.Entry{}, false
	}
	label, ok := m.labelLocked(col)
	if !ok {
		return domain.Entry{}, false
	}
	seq := m.trans[label]
	if row >= len(seq) {
		return domain.Entry{}, false
	}
	return seq[row], true
}

// Editable reports whether (row, col) accepts edits, inserts and removals.
func (m *Model) Editable(row, col int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.editableLocked(row, col)
	return ok
}

// SetCell replaces the entry at an editable cell. Writes to the origin
// column or outside the column's range are rejected.
func (m *Model) SetCell(row, col int, e domain.Entry) bool {
	m.mu.Lock()
	label, ok := m.editableLocked(row, col)
	if !ok {
		m.mu.Unlock()
		return false
	}
	if m.trans[label][row] == e {
		m.mu.Unlock()
		return true
	}
	m.saveLocked(label)
	m.trans[label][row] = e
	ls := m.listenersLocked()
	m.mu.Unlock()
	notify(ls, Change{Col: col, FromRow: row, ToRow: row})
	return true
}

// EditField commits a header (name) or body (message) editor into the
// entry at (row, col).
func (m *Model) EditField(row, col int, r Region, text string) bool {
	e, ok := m.Cell(row, col)
	if !ok || r == RegionNone {
		return false
	}
	return m.SetCell(row, col, ApplyField(e, r, text))
}

// InsertAt inserts an empty entry at row, shifting later rows down.
// It is a no-op unless (row, col) is editable.
func (m *Model) InsertAt(row, col int) bool {
	m.mu.Lock()
	label, ok := m.editableLocked(row, col)
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.saveLocked(label)
	seq := m.trans[label]
	seq = append(seq, domain.Entry{})
	copy(seq[row+1:], seq[row:])
	seq[row] = domain.Entry{}
	m.trans[label] = seq
	ch := Change{Col: col, FromRow: row, ToRow: m.rowCountLocked() - 1}
	ls := m.listenersLocked()
	m.mu.Unlock()
	notify(ls, ch)
	return true
}

// RemoveAt removes the entry at row, shifting later rows up.
// It is a no-op unless (row, col) is editable.
func (m *Model) RemoveAt(row, col int) bool {
	m.mu.Lock()
	label, ok := m.editableLocked(row, col)
	if !ok {
		m.mu.Unlock()
		return false
	}
	// the extent before removal, so the vacated last row is repainted
	last := m.rowCountLocked() - 1
	m.saveLocked(label)
	seq := m.trans[label]
	m.trans[label] = append(seq[:row:row], seq[row+1:]...)
	ls := m.listenersLocked()
	m.mu.Unlock()
	notify(ls, Change{Col: col, FromRow: row, ToRow: last})
	return true
}

// Undo restores the previous state of column col.
func (m *Model) Undo(col int) bool { return m.step(col, true) }

// Redo reapplies the last undone change of column col.
func (m *Model) Redo(col int) bool { return m.step(col, false) }

// CanUndo reports whether column col has history to undo.
func (m *Model) CanUndo(col int) bool {
	label, ok := m.Label(col)
	return ok && m.history != nil && m.history.CanUndo(label)
}

// CanRedo reports whether column col has undone changes.
func (m *Model) CanRedo(col int) bool {
	label, ok := m.Label(col)
	return ok && m.history != nil && m.history.CanRedo(label)
}

func (m *Model) step(col int, back bool) bool {
	if m.history == nil {
		return false
	}
	m.mu.Lock()
	label, ok := m.labelLocked(col)
	if !ok {
		m.mu.Unlock()
		return false
	}
	cur, err := json.Marshal(m.trans[label])
	if err != nil {
		m.mu.Unlock()
		m.log.Error("encode column state failed", slog.String("label", label), slog.Any("err", err))
		return false
	}
	var snap undo.Snapshot
	if back {
		snap, ok = m.history.Undo(label, cur)
	} else {
		snap, ok = m.history.Redo(label, cur)
	}
	if !ok {
		m.mu.Unlock()
		return false
	}
	var seq domain.Sequence
	if err := json.Unmarshal(snap.Blob, &seq); err != nil {
		m.mu.Unlock()
		m.log.Error("decode column state failed", slog.String("label", label), slog.Any("err", err))
		return false
	}
	before := m.rowCountLocked()
	m.trans[label] = seq
	last := max(before, m.rowCountLocked()) - 1
	ls := m.listenersLocked()
	m.mu.Unlock()
	notify(ls, Change{Col: col, FromRow: 0, ToRow: last})
	return true
}

func (m *Model) saveLocked(label string) {
	if m.history == nil {
		return
	}
	blob, err := json.Marshal(m.trans[label])
	if err != nil {
		m.log.Warn("snapshot column failed", slog.String("label", label), slog.Any("err", err))
		return
	}
	m.history.Push(undo.Snapshot{Label: label, Blob: blob, TS: m.now()})
}

func (m *Model) editableLocked(row, col int) (string, bool) {
	if col == OriginColumn || row < 0 {
		return "", false
	}
	label, ok := m.labelLocked(col)
	if !ok {
		return "", false
	}
	if row >= len(m.trans[label]) {
		return "", false
	}
	return label, true
}

func (m *Model) labelLocked(col int) (string, bool) {
	if col < 1 || col > len(m.labels) {
		return "", false
	}
	return m.labels[col-1], true
}

func (m *Model) columnLocked(label string) (int, bool) {
	for i, l := range m.labels {
		if l == label {
			return i + 1, true
		}
	}
	return 0, false
}

func (m *Model) rowCountLocked() int {
	n := len(m.origin)
	for _, seq := range m.trans {
		n = max(n, len(seq))
	}
	return n
}

func (m *Model) listenersLocked() []Listener {
	return append([]Listener(nil), m.listeners...)
}

func notify(ls []Listener, ch Change) {
	for _, l := range ls {
		l(ch)
	}
}
