/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"transmatcher/internal/domain"
)

// BackupSuffix is appended to the previous version of a file replaced by
// WriteSequence.
const BackupSuffix = ".bak"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadSequence loads a JSON array of entries. A leading UTF-8 byte order
// mark is skipped. The top-level value must be an array; entries inside it
// decode leniently.
func ReadSequence(path string) (domain.Sequence, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	b = bytes.TrimPrefix(b, utf8BOM)
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("parse %s: top-level value must be an array", path)
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("parse %s: invalid JSON", path)
	}
	var seq domain.Sequence
	if err := json.Unmarshal(trimmed, &seq); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if seq == nil {
		seq = domain.Sequence{}
	}
	return seq, nil
}

// WriteSequence writes seq as indented JSON. The new content goes to a temp
// file in the same directory which then replaces path; an existing file is
// first copied to path+BackupSuffix.
func WriteSequence(path string, seq domain.Sequence) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("output path is required")
	}
	data, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sequence: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure output dir: %w", err)
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if cerr := copyFile(path, path+BackupSuffix); cerr != nil {
			return fmt.Errorf("backup %s: %w", path, cerr)
		}
	}

	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(path), os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("write temp file: %w", werr)
	}
	// Windows refuses to rename over an existing file.
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	if rerr := os.Rename(temp, path); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace %s: %w", path, rerr)
	}
	return nil
}

// writeFileSync writes data to a file and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies src to dst, overwriting dst.
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}
