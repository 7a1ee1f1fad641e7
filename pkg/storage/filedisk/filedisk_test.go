/*
Copyright 2025 The ktfsos Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package filedisk

import (
	"os"
	"path/filepath"
	"testing"

	"ktfsos/pkg/storage"
	"ktfsos/pkg/storage/storagetest"
)

func newImageFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.ktfs")
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("create image: %v", err)
	}
	return path
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Device {
		path := newImageFile(t, 64*512)
		d, err := Open(path, 512)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := d.Open(); err != nil {
			t.Fatalf("device Open: %v", err)
		}
		return d
	})
}

func TestRejectsMisizedFile(t *testing.T) {
	path := newImageFile(t, 100)
	if _, err := Open(path, 512); err == nil {
		t.Fatalf("Open succeeded on a non-block-aligned file, want error")
	}
}
