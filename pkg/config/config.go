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

// Package config is a small JSON-backed configuration loader for the cmd/*
// tools, in the teacher's pkg/jsonconfig idiom: a thin map[string]any wrapper
// with typed accessors that track which keys were actually consumed, plus a
// Validate step that rejects anything left over as an unknown key.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Obj is a parsed JSON config object with typed, consumption-tracking
// accessors.
type Obj struct {
	m    map[string]any
	used map[string]bool
}

// Load reads and parses the JSON object at path.
func Load(path string) (*Obj, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses a JSON object from data.
func Parse(data []byte) (*Obj, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Obj{m: m, used: make(map[string]bool)}, nil
}

// RequiredString returns the string at key, erroring if absent or the
// wrong type.
func (o *Obj) RequiredString(key string) (string, error) {
	v, ok := o.m[key]
	if !ok {
		return "", fmt.Errorf("config: missing required key %q", key)
	}
	o.used[key] = true
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config: key %q is not a string", key)
	}
	return s, nil
}

// OptionalInt returns the int at key, or def if key is absent.
func (o *Obj) OptionalInt(key string, def int) (int, error) {
	v, ok := o.m[key]
	if !ok {
		return def, nil
	}
	o.used[key] = true
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("config: key %q is not a number", key)
	}
	return int(f), nil
}

// OptionalString returns the string at key, or def if key is absent.
func (o *Obj) OptionalString(key, def string) (string, error) {
	v, ok := o.m[key]
	if !ok {
		return def, nil
	}
	o.used[key] = true
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config: key %q is not a string", key)
	}
	return s, nil
}

// Validate fails if any key in the object was never consumed by an
// accessor call, catching typos in config files early.
func (o *Obj) Validate() error {
	for k := range o.m {
		if !o.used[k] {
			return fmt.Errorf("config: unknown key %q", k)
		}
	}
	return nil
}
