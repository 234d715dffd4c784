//go:build !(fyne && cgo)

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ui is the Fyne desktop front-end. This build carries only the stub.
package ui

import (
	"context"

	"transmatcher/internal/i18n"
	"transmatcher/internal/session"
)

// Available reports whether this binary carries the desktop UI.
func Available() bool { return false }

// Presenter is never constructed in this build.
type Presenter struct{}

// NewPresenter reports that the desktop UI is unavailable.
func NewPresenter(*i18n.Translator, string) (*Presenter, error) { return nil, errUnavailable }

func (p *Presenter) Present(context.Context, *session.Session) error { return errUnavailable }

func (p *Presenter) Run() error { return errUnavailable }

func (p *Presenter) Quit() {}

// RunSession reports that the desktop UI is unavailable.
func RunSession(*i18n.Translator, *session.Session) error { return errUnavailable }
