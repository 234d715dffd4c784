/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package grid

import "transmatcher/internal/domain"

// Region is the part of a cell a pointer landed on.
type Region int

const (
	RegionNone Region = iota
	// RegionHeader holds the bold name line; it edits with a single-line editor.
	RegionHeader
	// RegionBody holds the wrapped message; it edits with a multi-line editor.
	RegionBody
)

func (r Region) String() string {
	switch r {
	case RegionHeader:
		return "header"
	case RegionBody:
		return "body"
	default:
		return "none"
	}
}

// Rect is an axis-aligned rectangle in cell-local coordinates.
type Rect struct {
	X, Y, W, H float32
}

// Contains reports whether (x, y) lies inside r, edges included.
func (r Rect) Contains(x, y float32) bool {
	return r.W > 0 && r.H > 0 && x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// CellLayout splits a cell into its header and body regions. The header is
// one text line tall plus 4, both regions are inset by Margin and separated
// by Spacing.
type CellLayout struct {
	Margin     float32
	Spacing    float32
	LineHeight float32
}

// DefaultLayout returns the standard margins for the given line height.
func DefaultLayout(lineHeight float32) CellLayout {
	return CellLayout{Margin: 5, Spacing: 4, LineHeight: lineHeight}
}

// HeaderRect is the name region of a w x h cell.
func (l CellLayout) HeaderRect(w, h float32) Rect {
	return Rect{
		X: l.Margin,
		Y: l.Margin,
		W: nonNeg(w - 2*l.Margin),
		H: min(l.LineHeight+4, nonNeg(h-2*l.Margin)),
	}
}

// BodyRect is the message region of a w x h cell.
func (l CellLayout) BodyRect(w, h float32) Rect {
	hdr := l.HeaderRect(w, h)
	return Rect{
		X: l.Margin,
		Y: hdr.Y + hdr.H + l.Spacing,
		W: nonNeg(w - 2*l.Margin),
		H: nonNeg(h - hdr.H - l.Spacing - 2*l.Margin),
	}
}

// SeparatorY is where the rule between header and body is drawn.
func (l CellLayout) SeparatorY(w, h float32) float32 {
	hdr := l.HeaderRect(w, h)
	return hdr.Y + hdr.H + l.Spacing/2
}

// RegionAt maps a point inside a w x h cell to the editor it opens.
func (l CellLayout) RegionAt(x, y, w, h float32) Region {
	if l.HeaderRect(w, h).Contains(x, y) {
		return RegionHeader
	}
	if l.BodyRect(w, h).Contains(x, y) {
		return RegionBody
	}
	return RegionNone
}

// FieldText returns the text an editor for region r starts with.
func FieldText(e domain.Entry, r Region) string {
	switch r {
	case RegionHeader:
		return e.Name
	case RegionBody:
		return e.Message
	default:
		return ""
	}
}

// ApplyField returns e with the field behind region r replaced by text.
func ApplyField(e domain.Entry, r Region, text string) domain.Entry {
	switch r {
	case RegionHeader:
		e.Name = text
	case RegionBody:
		e.Message = text
	}
	return e
}

func nonNeg(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}
