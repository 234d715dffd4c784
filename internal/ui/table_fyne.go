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

package ui

import (
	"image/color"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"transmatcher/internal/grid"
	"transmatcher/internal/i18n"
)

const defaultColumnWidth = 320

// matchTable shows a grid.Model in a Fyne table with one entryCell per
// (row, column).
type matchTable struct {
	model *grid.Model
	tr    *i18n.Translator
	win   fyne.Window
	table *widget.Table
}

func newMatchTable(m *grid.Model, tr *i18n.Translator, win fyne.Window) *matchTable {
	t := &matchTable{model: m, tr: tr, win: win}
	t.table = widget.NewTableWithHeaders(
		func() (int, int) { return m.RowCount(), m.ColumnCount() },
		func() fyne.CanvasObject { return newEntryCell(t) },
		func(id widget.TableCellID, o fyne.CanvasObject) { o.(*entryCell).set(id.Row, id.Col) },
	)
	t.table.CreateHeader = func() fyne.CanvasObject {
		return widget.NewLabelWithStyle("", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	}
	t.table.UpdateHeader = func(id widget.TableCellID, o fyne.CanvasObject) {
		l := o.(*widget.Label)
		switch {
		case id.Row < 0:
			l.SetText(t.columnTitle(id.Col))
		case id.Col < 0:
			l.SetText(strconv.Itoa(id.Row + 1))
		}
	}
	t.resizeColumns()
	m.OnChange(func(grid.Change) {
		fyne.Do(func() {
			t.resizeColumns()
			t.table.Refresh()
		})
	})
	return t
}

func (t *matchTable) columnTitle(col int) string {
	if col == grid.OriginColumn {
		return t.tr.S("origin_header")
	}
	l, _ := t.model.Label(col)
	return l
}

func (t *matchTable) resizeColumns() {
	for c := 0; c < t.model.ColumnCount(); c++ {
		t.table.SetColumnWidth(c, defaultColumnWidth)
	}
}

// layout returns the cell geometry for the current theme.
func (t *matchTable) layout() grid.CellLayout {
	lh := fyne.MeasureText("Mg", theme.TextSize(), fyne.TextStyle{Bold: true}).Height
	return grid.DefaultLayout(lh)
}

// edit opens the single-line (header) or multi-line (body) editor for a cell.
func (t *matchTable) edit(row, col int, r grid.Region) {
	if r == grid.RegionNone || !t.model.Editable(row, col) {
		return
	}
	e, _ := t.model.Cell(row, col)
	var entry *widget.Entry
	title := t.tr.S("edit_name")
	if r == grid.RegionHeader {
		entry = widget.NewEntry()
	} else {
		title = t.tr.S("edit_message")
		entry = widget.NewMultiLineEntry()
		entry.Wrapping = fyne.TextWrapWord
		entry.SetMinRowsVisible(6)
	}
	entry.SetText(grid.FieldText(e, r))
	d := dialog.NewCustomConfirm(title, t.tr.S("ok"), t.tr.S("cancel"), entry, func(ok bool) {
		if ok {
			t.model.EditField(row, col, r, entry.Text)
		}
	}, t.win)
	d.Resize(fyne.NewSize(defaultColumnWidth+80, 0))
	d.Show()
	t.win.Canvas().Focus(entry)
}

// contextMenu offers Insert and Remove on editable cells.
func (t *matchTable) contextMenu(row, col int, obj fyne.CanvasObject, pos fyne.Position) {
	if !t.model.Editable(row, col) {
		return
	}
	menu := fyne.NewMenu("",
		fyne.NewMenuItem(t.tr.S("insert"), func() { t.model.InsertAt(row, col) }),
		fyne.NewMenuItem(t.tr.S("remove"), func() { t.model.RemoveAt(row, col) }),
	)
	c := fyne.CurrentApp().Driver().CanvasForObject(obj)
	if c == nil {
		c = t.win.Canvas()
	}
	widget.ShowPopUpMenuAtPosition(menu, c, pos)
}

// entryCell renders one Entry: bold name over the wrapped message.
type entryCell struct {
	widget.BaseWidget
	tbl      *matchTable
	row, col int

	bg   *canvas.Rectangle
	name *widget.Label
	sep  *canvas.Line
	body *widget.Label
}

func newEntryCell(t *matchTable) *entryCell {
	c := &entryCell{
		tbl:  t,
		bg:   canvas.NewRectangle(color.Transparent),
		name: widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		sep:  canvas.NewLine(theme.Color(theme.ColorNameSeparator)),
		body: widget.NewLabel(""),
	}
	c.name.Truncation = fyne.TextTruncateEllipsis
	c.body.Wrapping = fyne.TextWrapWord
	c.ExtendBaseWidget(c)
	return c
}

func (c *entryCell) set(row, col int) {
	c.row, c.col = row, col
	e, ok := c.tbl.model.Cell(row, col)
	switch {
	case !ok:
		c.bg.FillColor = theme.Color(theme.ColorNameDisabledButton)
	case col == grid.OriginColumn:
		c.bg.FillColor = theme.Color(theme.ColorNameInputBackground)
	default:
		c.bg.FillColor = color.Transparent
	}
	c.name.SetText(e.Name)
	c.body.SetText(e.Message)
	c.sep.Hidden = !ok
	c.Refresh()
}

// Tapped opens the editor for the region under the pointer.
func (c *entryCell) Tapped(ev *fyne.PointEvent) {
	sz := c.Size()
	r := c.tbl.layout().RegionAt(ev.Position.X, ev.Position.Y, sz.Width, sz.Height)
	c.tbl.edit(c.row, c.col, r)
}

// TappedSecondary shows the Insert/Remove menu.
func (c *entryCell) TappedSecondary(ev *fyne.PointEvent) {
	c.tbl.contextMenu(c.row, c.col, c, ev.AbsolutePosition)
}

func (c *entryCell) MinSize() fyne.Size {
	c.ExtendBaseWidget(c)
	return fyne.NewSize(120, grid.DefaultRowHeight)
}

func (c *entryCell) CreateRenderer() fyne.WidgetRenderer {
	return &entryCellRenderer{c: c}
}

type entryCellRenderer struct{ c *entryCell }

func (r *entryCellRenderer) Layout(size fyne.Size) {
	l := r.c.tbl.layout()
	r.c.bg.Resize(size)
	hdr := l.HeaderRect(size.Width, size.Height)
	r.c.name.Move(fyne.NewPos(hdr.X, hdr.Y))
	r.c.name.Resize(fyne.NewSize(hdr.W, hdr.H))
	y := l.SeparatorY(size.Width, size.Height)
	r.c.sep.Position1 = fyne.NewPos(hdr.X, y)
	r.c.sep.Position2 = fyne.NewPos(hdr.X+hdr.W, y)
	body := l.BodyRect(size.Width, size.Height)
	r.c.body.Move(fyne.NewPos(body.X, body.Y))
	r.c.body.Resize(fyne.NewSize(body.W, body.H))
}

func (r *entryCellRenderer) MinSize() fyne.Size { return r.c.MinSize() }

func (r *entryCellRenderer) Refresh() {
	r.c.sep.StrokeColor = theme.Color(theme.ColorNameSeparator)
	r.c.bg.Refresh()
	r.c.name.Refresh()
	r.c.sep.Refresh()
	r.c.body.Refresh()
	r.Layout(r.c.Size())
}

func (r *entryCellRenderer) Objects() []fyne.CanvasObject {
	return []fyne.CanvasObject{r.c.bg, r.c.name, r.c.sep, r.c.body}
}

func (r *entryCellRenderer) Destroy() {}
