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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"transmatcher/internal/domain"
)

func TestWriteThenReadSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "trans.json")
	want := domain.Sequence{{Name: "B", Message: "yo"}, {Name: "C", Message: "多行\n文本"}}
	if err := WriteSequence(path, want); err != nil {
		t.Fatalf("WriteSequence: %v", err)
	}
	got, err := ReadSequence(path)
	if err != nil {
		t.Fatalf("ReadSequence: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path + BackupSuffix); !os.IsNotExist(err) {
		t.Fatalf("no backup expected for a fresh file, stat err = %v", err)
	}
}

func TestWriteSequenceKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trans.json")
	if err := WriteSequence(path, domain.Sequence{{Name: "old"}}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteSequence(path, domain.Sequence{}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	cur, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if strings.TrimSpace(string(cur)) != "[]" {
		t.Fatalf("current = %q", cur)
	}
	bak, err := ReadSequence(path + BackupSuffix)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if len(bak) != 1 || bak[0].Name != "old" {
		t.Fatalf("backup = %+v", bak)
	}
	ents, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range ents {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadSequenceBOMAndLenient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.json")
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`[{"name":"A","message":"hi"},{"name":3},"x"]`)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSequence(path)
	if err != nil {
		t.Fatalf("ReadSequence: %v", err)
	}
	want := domain.Sequence{{Name: "A", Message: "hi"}, {}, {}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSequenceRejectsNonArray(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"object": `{"name":"A"}`,
		"empty":  ``,
		"broken": `[{"name":`,
	} {
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := ReadSequence(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := ReadSequence(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWriteSequenceRequiresPath(t *testing.T) {
	if err := WriteSequence("  ", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
