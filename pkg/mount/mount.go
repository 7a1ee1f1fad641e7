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

// Package mount is the flat name -> filesystem binding table consulted by
// path open, modeled on the teacher's blobserver.RegisterStorageConstructor
// registry: append-only after boot, read freely thereafter.
package mount

import (
	"fmt"
	"strings"
	"sync"

	"ktfsos/pkg/ioh"
	"ktfsos/pkg/kerr"
)

// FileSystem is the contract any mountable filesystem implements. KTFS's
// *ktfs.FS satisfies it directly.
type FileSystem interface {
	Open(name string) (*ioh.Handle, error)
	Create(name string) error
	Delete(name string) error
	Flush() error
}

// Table is the process-wide mount namespace: "/mount/flat-filename" paths
// are resolved as (mount-name, file-name) pairs.
type Table struct {
	mu    sync.RWMutex
	mnts  map[string]FileSystem
}

// NewTable returns an empty mount table.
func NewTable() *Table {
	return &Table{mnts: make(map[string]FileSystem)}
}

// Attach installs fs under name. Attaching twice under the same name is an
// error: the table is append-only.
func (t *Table) Attach(name string, fs FileSystem) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.mnts[name]; exists {
		return fmt.Errorf("mount: %q already attached", name)
	}
	t.mnts[name] = fs
	return nil
}

// Open resolves "/mount/file" into (mount, file) and opens file on the
// filesystem attached at mount.
func (t *Table) Open(path string) (*ioh.Handle, error) {
	mountName, fileName, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	fs, ok := t.mnts[mountName]
	t.mu.RUnlock()
	if !ok {
		return nil, kerr.NoEnt
	}
	return fs.Open(fileName)
}

// Flush flushes every attached filesystem, stopping at (and returning) the
// first error.
func (t *Table) Flush() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, fs := range t.mnts {
		if err := fs.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func splitPath(path string) (mount, file string, err error) {
	if !strings.HasPrefix(path, "/") {
		return "", "", kerr.Inval
	}
	rest := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", kerr.Inval
	}
	return parts[0], parts[1], nil
}
