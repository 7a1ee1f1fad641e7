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

// Package kerr holds the small, fixed error taxonomy shared by the storage
// stack: cache, KTFS, and the VirtIO driver all return one of these sentinel
// errors (or wrap one with fmt.Errorf's %w) instead of inventing their own.
package kerr

import "errors"

var (
	// Inval means an argument was invalid, e.g. a misaligned position.
	Inval = errors.New("invalid argument")
	// NotSup means the operation isn't implemented by this component.
	NotSup = errors.New("not supported")
	// Busy means the resource is currently pinned or otherwise unavailable.
	Busy = errors.New("resource busy")
	// NoMem means an allocation failed.
	NoMem = errors.New("out of memory")
	// NoEnt means the thing asked for doesn't exist: a hole, a missing
	// directory entry, an out-of-range inode number.
	NoEnt = errors.New("no such entry")
	// BadFmt means on-disk data didn't parse the way it was supposed to.
	BadFmt = errors.New("malformed on-disk data")
	// IO means the backing device reported a failure.
	IO = errors.New("device i/o error")
	// MThr means a thread-ish resource (here: goroutine/queue slot
	// bookkeeping) was exhausted.
	MThr = errors.New("thread resource exhausted")
)

// Is reports whether err wraps target per the stdlib errors.Is contract.
// Kept as a thin alias so call sites read kerr.Is(err, kerr.NoEnt) instead
// of mixing package imports.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
