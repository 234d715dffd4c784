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

// These tests drive the desktop widgets through Fyne's test driver. They are
// gated behind the "fyne" build tag:
//
//	go test -tags fyne ./internal/ui
package ui

import (
	"context"
	"testing"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"
	"github.com/google/go-cmp/cmp"

	"transmatcher/internal/domain"
	"transmatcher/internal/grid"
	"transmatcher/internal/i18n"
	"transmatcher/internal/session"
)

func newSession() *session.Session {
	origin := domain.Sequence{{Name: "A", Message: "hello"}, {Name: "B", Message: "bye"}}
	return session.New(origin, "de", domain.Sequence{{Name: "A", Message: "hallo"}})
}

func waitDone(t *testing.T, s *session.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still pending")
	}
}

func TestMatchTableShape(t *testing.T) {
	test.NewTempApp(t)
	s := newSession()
	m := s.NewModel()
	w := test.NewWindow(nil)
	defer w.Close()
	tbl := newMatchTable(m, i18n.New("en"), w)

	rows, cols := tbl.table.Length()
	if rows != 2 || cols != 2 {
		t.Fatalf("Length = %d,%d; want 2,2", rows, cols)
	}
	if got := tbl.columnTitle(grid.OriginColumn); got != "Origin" {
		t.Fatalf("origin title = %q", got)
	}
	if got := tbl.columnTitle(1); got != "de" {
		t.Fatalf("trans title = %q", got)
	}
}

func TestEntryCellShowsEntries(t *testing.T) {
	test.NewTempApp(t)
	s := newSession()
	m := s.NewModel()
	w := test.NewWindow(nil)
	defer w.Close()
	tbl := newMatchTable(m, i18n.New("en"), w)

	c := newEntryCell(tbl)
	c.Resize(fyne.NewSize(defaultColumnWidth, grid.DefaultRowHeight))
	c.set(0, 1)
	if c.name.Text != "A" || c.body.Text != "hallo" {
		t.Fatalf("cell(0,1) = %q/%q", c.name.Text, c.body.Text)
	}
	if c.sep.Hidden {
		t.Fatal("separator hidden on a filled cell")
	}
	c.set(1, 1)
	if c.name.Text != "" || c.body.Text != "" || !c.sep.Hidden {
		t.Fatalf("cell past the column end should be blank, got %q/%q", c.name.Text, c.body.Text)
	}

	r := c.CreateRenderer()
	r.Layout(c.Size())
	l := tbl.layout()
	hdr := l.HeaderRect(c.Size().Width, c.Size().Height)
	if c.name.Position() != fyne.NewPos(hdr.X, hdr.Y) {
		t.Fatalf("name at %v, want %v", c.name.Position(), hdr)
	}
	if got := len(r.Objects()); got != 4 {
		t.Fatalf("objects = %d", got)
	}
}

func TestSessionWindowAccept(t *testing.T) {
	a := test.NewTempApp(t)
	s := newSession()
	sw := openSessionWindow(a, nil, s)

	if !sw.model.InsertAt(0, sw.col) {
		t.Fatal("InsertAt(0) refused")
	}
	if sw.undo.Disabled() {
		t.Fatal("undo disabled after an edit")
	}
	test.Tap(sw.undo)
	if len(sw.model.Trans("de")) != 1 {
		t.Fatalf("undo did not restore the column: %v", sw.model.Trans("de"))
	}
	test.Tap(sw.redo)
	test.Tap(sw.accept)
	waitDone(t, s)

	st, got := s.Result()
	if st != session.Accepted {
		t.Fatalf("state = %v", st)
	}
	want := domain.Sequence{{}, {Name: "A", Message: "hallo"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if !sw.closed {
		t.Fatal("window left open after accept")
	}
}

func TestSessionWindowCloseRejects(t *testing.T) {
	a := test.NewTempApp(t)
	s := newSession()
	sw := openSessionWindow(a, i18n.New("en"), s)

	sw.doReject()
	waitDone(t, s)
	if s.State() != session.Rejected {
		t.Fatalf("state = %v", s.State())
	}
	if _, res := s.Result(); res != nil {
		t.Fatalf("rejected session carries a result: %v", res)
	}
}

func TestSessionWindowClosesOnExternalReject(t *testing.T) {
	a := test.NewTempApp(t)
	s := newSession()
	sw := openSessionWindow(a, nil, s)

	s.Reject()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var closed bool
		fyne.DoAndWait(func() { closed = sw.closed })
		if closed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("window not closed after the session ended")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPresenterPresentOpensWindow(t *testing.T) {
	a := test.NewTempApp(t)
	p := newPresenter(a, nil, ":12345")
	before := len(a.Driver().AllWindows())
	s := newSession()
	if err := p.Present(context.Background(), s); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if got := len(a.Driver().AllWindows()); got != before+1 {
		t.Fatalf("windows = %d, want %d", got, before+1)
	}
	s.Reject()
}
