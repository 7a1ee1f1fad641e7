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

package ioh

import (
	"testing"

	"ktfsos/pkg/kerr"
)

func TestRefcountClosesOnlyAtZero(t *testing.T) {
	closed := 0
	h := New(Ops{Close: func() error { closed++; return nil }})

	if n := h.AddRef(); n != 2 {
		t.Fatalf("AddRef = %d, want 2", n)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed != 0 {
		t.Fatalf("closed = %d, want 0 (still one ref outstanding)", closed)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
}

func TestMissingOpsReturnNotSup(t *testing.T) {
	h := New(Ops{})
	if _, err := h.Read(make([]byte, 1)); err != kerr.NotSup {
		t.Fatalf("Read = %v, want kerr.NotSup", err)
	}
	if _, err := h.Write(make([]byte, 1)); err != kerr.NotSup {
		t.Fatalf("Write = %v, want kerr.NotSup", err)
	}
	if err := h.Control(GetEnd, nil); err != kerr.NotSup {
		t.Fatalf("Control = %v, want kerr.NotSup", err)
	}
}
