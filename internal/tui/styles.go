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

import "github.com/charmbracelet/lipgloss"

// Styles used by the grid view.
type Styles struct {
	Title    lipgloss.Style
	Header   lipgloss.Style
	Name     lipgloss.Style
	Message  lipgloss.Style
	Cell     lipgloss.Style
	Selected lipgloss.Style
	ReadOnly lipgloss.Style
	Empty    lipgloss.Style
	Status   lipgloss.Style
	Help     lipgloss.Style
}

func DefaultStyles() Styles {
	cell := lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.NormalBorder())
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header:   lipgloss.NewStyle().Bold(true).Underline(true).Padding(0, 1),
		Name:     lipgloss.NewStyle().Bold(true),
		Message:  lipgloss.NewStyle(),
		Cell:     cell.BorderForeground(lipgloss.Color("8")),
		Selected: cell.BorderForeground(lipgloss.Color("10")),
		ReadOnly: cell.BorderForeground(lipgloss.Color("8")).Faint(true),
		Empty:    cell.BorderForeground(lipgloss.Color("236")),
		Status:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Help:     lipgloss.NewStyle().Faint(true),
	}
}
