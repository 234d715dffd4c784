/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package i18n localises front-end strings from embedded TOML bundles.
package i18n

import (
	"embed"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	applog "transmatcher/internal/log"
)

//go:embed active.*.toml
var localeFS embed.FS

var bundleFiles = []string{"active.en.toml", "active.zh.toml"}

// Translator renders messages for one UI language with English fallback.
type Translator struct {
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	lang      language.Tag
	log       *slog.Logger
}

// New builds a Translator for locale (e.g. "zh", "en-GB"). Unknown or
// empty locales fall back to English.
func New(locale string) *Translator {
	l := applog.WithComponent("i18n")
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	for _, f := range bundleFiles {
		if _, err := bundle.LoadMessageFileFS(localeFS, f); err != nil {
			l.Warn("load message file failed", slog.String("file", f), slog.Any("err", err))
		}
	}
	return &Translator{
		bundle:    bundle,
		localizer: i18n.NewLocalizer(bundle, tag.String(), language.English.String()),
		lang:      tag,
		log:       l,
	}
}

// Language returns the requested language tag.
func (t *Translator) Language() language.Tag { return t.lang }

// T renders key with optional template data. A missing key renders as
// the key itself.
func (t *Translator) T(key string, data map[string]any) string {
	if key == "" {
		return ""
	}
	cfg := &i18n.LocalizeConfig{MessageID: key, TemplateData: data}
	if c, ok := data["Count"]; ok {
		cfg.PluralCount = c
	}
	msg, err := t.localizer.Localize(cfg)
	if err != nil {
		t.log.Debug("localize failed", slog.String("key", key), slog.Any("err", err))
		return key
	}
	return msg
}

// S renders key without template data.
func (t *Translator) S(key string) string { return t.T(key, nil) }
