/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package tui is the terminal front-end: a bubbletea program showing the
// matching grid of one session.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"transmatcher/internal/grid"
	"transmatcher/internal/i18n"
	"transmatcher/internal/session"
)

type keyMap struct {
	Up, Down, Left, Right, NextCol key.Binding
	EditName, EditMessage          key.Binding
	Insert, Remove, Undo, Redo     key.Binding
	Accept, Reject                 key.Binding
	Commit, CommitBody, Cancel     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:          key.NewBinding(key.WithKeys("up", "k")),
		Down:        key.NewBinding(key.WithKeys("down", "j")),
		Left:        key.NewBinding(key.WithKeys("left", "h")),
		Right:       key.NewBinding(key.WithKeys("right", "l")),
		NextCol:     key.NewBinding(key.WithKeys("tab")),
		EditName:    key.NewBinding(key.WithKeys("n")),
		EditMessage: key.NewBinding(key.WithKeys("m", "enter")),
		Insert:      key.NewBinding(key.WithKeys("i")),
		Remove:      key.NewBinding(key.WithKeys("d")),
		Undo:        key.NewBinding(key.WithKeys("u")),
		Redo:        key.NewBinding(key.WithKeys("r", "ctrl+r")),
		Accept:      key.NewBinding(key.WithKeys("a")),
		Reject:      key.NewBinding(key.WithKeys("q", "ctrl+c")),
		Commit:      key.NewBinding(key.WithKeys("enter")),
		CommitBody:  key.NewBinding(key.WithKeys("ctrl+s")),
		Cancel:      key.NewBinding(key.WithKeys("esc")),
	}
}

// sessionDoneMsg reports that the session finished outside this program.
type sessionDoneMsg struct{}

func waitDone(s *session.Session) tea.Cmd {
	return func() tea.Msg {
		<-s.Done()
		return sessionDoneMsg{}
	}
}

// Model is the bubbletea model for one session.
type Model struct {
	sess   *session.Session
	grid   *grid.Model
	tr     *i18n.Translator
	keys   keyMap
	styles Styles

	row, col int
	top      int
	width    int
	height   int

	editing grid.Region
	name    textinput.Model
	body    textarea.Model

	status string
	quit   bool
}

// NewModel builds the view for s. The grid model is created from the
// session so that its edits are the session's live state. Undo history is
// on unless opts replace it.
func NewModel(s *session.Session, tr *i18n.Translator, opts ...grid.Option) Model {
	opts = append([]grid.Option{grid.WithHistory(grid.DefaultHistory())}, opts...)
	if tr == nil {
		tr = i18n.New("en")
	}
	name := textinput.New()
	name.Prompt = ""
	body := textarea.New()
	body.ShowLineNumbers = false
	m := Model{
		sess:   s,
		grid:   s.NewModel(opts...),
		tr:     tr,
		keys:   defaultKeys(),
		styles: DefaultStyles(),
		col:    1,
		width:  100,
		height: 30,
		name:   name,
		body:   body,
	}
	if m.grid.ColumnCount() < 2 {
		m.col = 0
	}
	return m
}

// Grid exposes the underlying grid model.
func (m Model) Grid() *grid.Model { return m.grid }

// Cursor returns the selected row and column.
func (m Model) Cursor() (row, col int) { return m.row, m.col }

// Editing reports which field editor is open, RegionNone if none.
func (m Model) Editing() grid.Region { return m.editing }

func (m Model) Init() tea.Cmd { return waitDone(m.sess) }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.body.SetWidth(max(10, m.colWidth()-4))
		m.name.Width = max(10, m.colWidth()-4)
		return m, nil
	case sessionDoneMsg:
		m.quit = true
		if m.sess.State() == session.Rejected {
			m.status = m.tr.S("tui_rejected_remote")
		}
		return m, tea.Quit
	case tea.KeyMsg:
		if m.editing != grid.RegionNone {
			return m.updateEditor(msg)
		}
		return m.updateGrid(msg)
	}
	return m, nil
}

func (m Model) updateGrid(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := m.grid.RowCount()
	cols := m.grid.ColumnCount()
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.row > 0 {
			m.row--
		}
	case key.Matches(msg, m.keys.Down):
		if m.row < rows-1 {
			m.row++
		}
	case key.Matches(msg, m.keys.Left):
		if m.col > 0 {
			m.col--
		}
	case key.Matches(msg, m.keys.Right):
		if m.col < cols-1 {
			m.col++
		}
	case key.Matches(msg, m.keys.NextCol):
		if cols > 0 {
			m.col = (m.col + 1) % cols
		}
	case key.Matches(msg, m.keys.EditName):
		return m.openEditor(grid.RegionHeader)
	case key.Matches(msg, m.keys.EditMessage):
		return m.openEditor(grid.RegionBody)
	case key.Matches(msg, m.keys.Insert):
		m.grid.InsertAt(m.row, m.col)
	case key.Matches(msg, m.keys.Remove):
		if m.grid.RemoveAt(m.row, m.col) {
			m.clampRow()
		}
	case key.Matches(msg, m.keys.Undo):
		if m.grid.Undo(m.col) {
			m.clampRow()
		}
	case key.Matches(msg, m.keys.Redo):
		if m.grid.Redo(m.col) {
			m.clampRow()
		}
	case key.Matches(msg, m.keys.Accept):
		m.sess.Accept(m.grid.Trans(m.sess.Label))
		m.quit = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Reject):
		m.sess.Reject()
		m.quit = true
		return m, tea.Quit
	}
	m.follow()
	return m, nil
}

// follow moves the first rendered row so the cursor stays in view. Rows
// are at least four lines tall; renderRows corrects for taller ones.
func (m *Model) follow() {
	if m.row < m.top {
		m.top = m.row
	}
	if fit := max(1, (m.height-6)/4); m.row-m.top >= fit {
		m.top = m.row - fit + 1
	}
}

func (m *Model) clampRow() {
	if n := m.grid.RowCount(); m.row >= n {
		m.row = max(0, n-1)
	}
}

func (m Model) openEditor(r grid.Region) (tea.Model, tea.Cmd) {
	e, ok := m.grid.Cell(m.row, m.col)
	if !ok || !m.grid.Editable(m.row, m.col) {
		return m, nil
	}
	m.editing = r
	text := grid.FieldText(e, r)
	if r == grid.RegionHeader {
		m.name.SetValue(text)
		m.name.CursorEnd()
		return m, m.name.Focus()
	}
	m.body.SetValue(text)
	return m, m.body.Focus()
}

func (m Model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.closeEditor()
		return m, nil
	case m.editing == grid.RegionHeader && key.Matches(msg, m.keys.Commit),
		m.editing == grid.RegionBody && key.Matches(msg, m.keys.CommitBody):
		text := m.name.Value()
		if m.editing == grid.RegionBody {
			text = m.body.Value()
		}
		m.grid.EditField(m.row, m.col, m.editing, text)
		m.closeEditor()
		return m, nil
	}
	var cmd tea.Cmd
	if m.editing == grid.RegionHeader {
		m.name, cmd = m.name.Update(msg)
	} else {
		m.body, cmd = m.body.Update(msg)
	}
	return m, cmd
}

func (m *Model) closeEditor() {
	m.editing = grid.RegionNone
	m.name.Blur()
	m.body.Blur()
}

func (m Model) colWidth() int {
	cols := max(1, m.grid.ColumnCount())
	return max(20, (m.width-1)/cols)
}

func (m Model) View() string {
	if m.quit {
		if m.status != "" {
			return m.status + "\n"
		}
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(m.tr.T("window_title", map[string]any{"Label": m.sess.Label})))
	b.WriteString("\n")
	b.WriteString(m.renderHeaders())
	b.WriteString("\n")
	b.WriteString(m.renderRows(max(3, m.height-6)))
	b.WriteString("\n")
	if m.editing != grid.RegionNone {
		b.WriteString(m.renderEditor())
		b.WriteString("\n")
	}
	summary := m.tr.T("session_summary", map[string]any{"Label": m.sess.Label, "Count": len(m.grid.Trans(m.sess.Label))})
	b.WriteString(m.styles.Status.Render(fmt.Sprintf("%s  [%d,%d]", summary, m.row+1, m.col)))
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render(m.tr.S("tui_help")))
	return b.String()
}

func (m Model) renderHeaders() string {
	w := m.colWidth()
	parts := []string{m.styles.Header.Width(w).Render(m.tr.S("origin_header"))}
	for _, l := range m.grid.Labels() {
		parts = append(parts, m.styles.Header.Width(w).Render(l))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) renderCell(row, col int) string {
	w := m.colWidth() - 2
	e, ok := m.grid.Cell(row, col)
	style := m.styles.Cell
	switch {
	case row == m.row && col == m.col:
		style = m.styles.Selected
	case !ok:
		style = m.styles.Empty
	case col == grid.OriginColumn:
		style = m.styles.ReadOnly
	}
	if !ok {
		return style.Width(w).Render(" ")
	}
	content := m.styles.Name.Render(e.Name) + "\n" + m.styles.Message.Render(e.Message)
	return style.Width(w).Render(content)
}

func (m Model) renderRow(row int) string {
	cols := m.grid.ColumnCount()
	parts := make([]string, 0, cols)
	for c := 0; c < cols; c++ {
		parts = append(parts, m.renderCell(row, c))
	}
	// Equal heights keep borders aligned.
	h := 0
	for _, p := range parts {
		h = max(h, lipgloss.Height(p))
	}
	for i, p := range parts {
		if d := h - lipgloss.Height(p); d > 0 {
			parts[i] = p + strings.Repeat("\n", d)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// renderRows renders as many rows as fit in budget lines, keeping the
// cursor row visible.
func (m Model) renderRows(budget int) string {
	rows := m.grid.RowCount()
	if rows == 0 {
		return ""
	}
	top := min(m.top, m.row)
	for {
		var out []string
		used := 0
		visible := false
		for r := top; r < rows; r++ {
			s := m.renderRow(r)
			h := lipgloss.Height(s)
			if used+h > budget && len(out) > 0 {
				break
			}
			out = append(out, s)
			used += h
			if r == m.row {
				visible = true
			}
		}
		if visible || top >= m.row {
			return strings.Join(out, "\n")
		}
		top++
	}
}

func (m Model) renderEditor() string {
	field := m.tr.S("edit_name")
	commit := "enter"
	view := m.name.View()
	if m.editing == grid.RegionBody {
		field = m.tr.S("edit_message")
		commit = "ctrl+s"
		view = m.body.View()
	}
	hint := m.tr.T("tui_editing", map[string]any{"Field": field, "Commit": commit})
	return m.styles.Status.Render(hint) + "\n" + view
}
