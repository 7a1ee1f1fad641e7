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

// Package storagetest is a conformance harness any storage.Device
// implementation can be run against, modeled on the teacher's
// pkg/blobserver/storagetest: one exported entry point a package's own
// *_test.go calls with a constructor, instead of a type embedding trick.
package storagetest

import (
	"context"
	"testing"

	"golang.org/x/sync/semaphore"

	"ktfsos/pkg/ioh"
	"ktfsos/pkg/storage"
)

// Run exercises the basic storage.Device contract: blksz reporting, GetEnd
// capacity, aligned fetch/store round-tripping, and out-of-range rejection.
// newDevice must return a freshly opened device each call; Run closes it.
func Run(t *testing.T, newDevice func(t *testing.T) storage.Device) {
	t.Helper()

	t.Run("capacity", func(t *testing.T) {
		dev := newDevice(t)
		defer dev.Close()
		var end int64
		if err := dev.Control(ioh.GetEnd, &end); err != nil {
			t.Fatalf("GetEnd: %v", err)
		}
		if end <= 0 {
			t.Fatalf("GetEnd reported non-positive capacity %d", end)
		}
	})

	t.Run("round-trip", func(t *testing.T) {
		dev := newDevice(t)
		defer dev.Close()
		blksz := dev.Blksz()
		want := make([]byte, blksz)
		for i := range want {
			want[i] = byte(i)
		}
		if _, err := dev.Store(0, want); err != nil {
			t.Fatalf("Store: %v", err)
		}
		got := make([]byte, blksz)
		if _, err := dev.Fetch(0, got); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("out-of-range", func(t *testing.T) {
		dev := newDevice(t)
		defer dev.Close()
		var end int64
		if err := dev.Control(ioh.GetEnd, &end); err != nil {
			t.Fatalf("GetEnd: %v", err)
		}
		buf := make([]byte, dev.Blksz())
		if _, err := dev.Fetch(end, buf); err == nil {
			t.Fatalf("Fetch past end succeeded, want error")
		}
	})

	t.Run("concurrent-fetch", func(t *testing.T) {
		dev := newDevice(t)
		defer dev.Close()
		blksz := dev.Blksz()
		sem := semaphore.NewWeighted(8)
		ctx := context.Background()
		errCh := make(chan error, 32)
		for i := 0; i < 32; i++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				t.Fatalf("semaphore acquire: %v", err)
			}
			go func() {
				defer sem.Release(1)
				buf := make([]byte, blksz)
				_, err := dev.Fetch(0, buf)
				errCh <- err
			}()
		}
		if err := sem.Acquire(ctx, 8); err != nil {
			t.Fatalf("semaphore drain: %v", err)
		}
		close(errCh)
		for err := range errCh {
			if err != nil {
				t.Fatalf("concurrent Fetch: %v", err)
			}
		}
	})
}
