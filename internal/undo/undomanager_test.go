/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"testing"
	"time"
)

// stats returns current sizes: bytes, labels with snapshots, snapshots.
func stats(m *Manager) (totalBytes int, labels int, totalSnapshots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.undo {
		if len(v) > 0 {
			labels++
		}
		totalSnapshots += len(v)
	}
	return m.totalBytes, labels, totalSnapshots
}

func TestUndoRedoBasic(t *testing.T) {
	m := NewManager(Config{MaxBytes: 1024 * 1024, MaxPerLabel: 10})
	m.Push(Snapshot{Label: "L1", Blob: []byte("a"), TS: time.Now()})
	m.Push(Snapshot{Label: "L1", Blob: []byte("b"), TS: time.Now()})
	if _, labels, total := stats(m); labels != 1 || total != 2 {
		t.Fatalf("expected 1 label and 2 snapshots, got labels=%d total=%d", labels, total)
	}
	s, ok := m.Undo("L1", []byte("c"))
	if !ok || string(s.Blob) != "b" {
		t.Fatalf("undo expected 'b', got ok=%v blob=%q", ok, string(s.Blob))
	}
	s, ok = m.Redo("L1", []byte("b"))
	if !ok || string(s.Blob) != "c" {
		t.Fatalf("redo expected 'c', got ok=%v blob=%q", ok, string(s.Blob))
	}
	s, ok = m.Undo("L1", []byte("c"))
	if !ok || string(s.Blob) != "b" {
		t.Fatalf("second undo expected 'b', got ok=%v blob=%q", ok, string(s.Blob))
	}
}

func TestPushClearsRedo(t *testing.T) {
	m := NewManager(Config{})
	m.Push(Snapshot{Label: "L", Blob: []byte("a"), TS: time.Now()})
	if _, ok := m.Undo("L", []byte("b")); !ok {
		t.Fatalf("undo failed")
	}
	if !m.CanRedo("L") {
		t.Fatalf("expected redo to be available")
	}
	m.Push(Snapshot{Label: "L", Blob: []byte("x"), TS: time.Now()})
	if m.CanRedo("L") {
		t.Fatalf("new change must invalidate redo")
	}
}

func TestCoalesceKeepsEarliestState(t *testing.T) {
	m := NewManager(Config{MinInterval: 50 * time.Millisecond})
	t0 := time.Now()
	m.Push(Snapshot{Label: "L", Blob: []byte("1"), TS: t0})
	m.Push(Snapshot{Label: "L", Blob: []byte("2"), TS: t0.Add(10 * time.Millisecond)})
	m.Push(Snapshot{Label: "L", Blob: []byte("3"), TS: t0.Add(40 * time.Millisecond)})
	if _, _, total := stats(m); total != 1 {
		t.Fatalf("expected coalesced to 1 snapshot, got %d", total)
	}
	s, ok := m.Undo("L", []byte("4"))
	if !ok || string(s.Blob) != "1" {
		t.Fatalf("expected earliest state '1', got ok=%v blob=%q", ok, string(s.Blob))
	}
}

func TestLabelsAreIndependent(t *testing.T) {
	m := NewManager(Config{})
	m.Push(Snapshot{Label: "A", Blob: []byte("a"), TS: time.Now()})
	if m.CanUndo("B") {
		t.Fatalf("label B should have nothing to undo")
	}
	if _, ok := m.Undo("B", nil); ok {
		t.Fatalf("undo on B should fail")
	}
	if !m.CanUndo("A") {
		t.Fatalf("label A should be undoable")
	}
}

func TestCaps(t *testing.T) {
	m := NewManager(Config{MaxBytes: 20, MaxPerLabel: 2})
	for i := 0; i < 10; i++ {
		m.Push(Snapshot{Label: "L", Blob: []byte("xxxxx"), TS: time.Now().Add(time.Duration(i) * time.Millisecond)})
	}
	if _, _, total := stats(m); total > 2 {
		t.Fatalf("expected MaxPerLabel cap to limit to 2, got %d", total)
	}
}
