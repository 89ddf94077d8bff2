// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kstat reads named kernel statistics records. A record is
// identified by its module, instance and name, and a named record carries
// a list of named, typed values.
package kstat

import (
	"fmt"
)

var (
	ErrNotFound       = fmt.Errorf("kstat: no matching statistics")
	ErrAmbiguous      = fmt.Errorf("kstat: too many matching statistics")
	ErrWrongShape     = fmt.Errorf("kstat: unexpected statistics type")
	ErrMissingField   = fmt.Errorf("kstat: missing field")
	ErrDuplicateField = fmt.Errorf("kstat: duplicate field")
	ErrTypeMismatch   = fmt.Errorf("kstat: field type mismatch")
)

// Type is the type of a statistics record.
type Type int

const (
	TypeRaw Type = iota
	TypeNamed
	TypeIntr
	TypeIO
	TypeTimer
)

// DataType is the type of a single named value.
type DataType int

const (
	DataChar DataType = iota
	DataInt32
	DataUint32
	DataInt64
	DataUint64
	DataString
)

// Named is a single named value of a named record.
type Named struct {
	Name  string
	Type  DataType
	Value interface{}
}

// Stat is a single statistics record.
type Stat struct {
	Module   string
	Instance int
	Name     string
	Class    string
	Type     Type
	Named    []Named
}

// Source looks up statistics records. An empty module or name, or a
// negative instance, matches any value.
type Source interface {
	Lookup(module string, instance int, name string) ([]*Stat, error)
}

// Reader reads statistics records from a Source.
type Reader struct {
	src Source
}

// NewReader creates a new Reader for the given Source.
func NewReader(src Source) *Reader {
	return &Reader{src: src}
}

// Lookup returns the single record matching the given filter.
func (r *Reader) Lookup(module string, instance int, name string) (*Stat, error) {
	stats, err := r.src.Lookup(module, instance, name)
	if err != nil {
		return nil, fmt.Errorf("kstat: lookup of %s failed: %w",
			statID(module, instance, name), err)
	}

	switch len(stats) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, statID(module, instance, name))
	case 1:
		return stats[0], nil
	default:
		return nil, fmt.Errorf("%w: %d records match %s", ErrAmbiguous, len(stats),
			statID(module, instance, name))
	}
}

// Uint64Fields extracts the requested uint64 fields from a named record.
// All requested fields must be present exactly once and be of uint64 type.
// Other fields are ignored.
func Uint64Fields(st *Stat, names ...string) (map[string]uint64, error) {
	if st.Type != TypeNamed {
		return nil, fmt.Errorf("%w: %s is %s, expected named", ErrWrongShape, st.ID(), st.Type)
	}

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	values := make(map[string]uint64, len(names))
	for _, n := range st.Named {
		if _, ok := wanted[n.Name]; !ok {
			continue
		}
		if _, dup := values[n.Name]; dup {
			return nil, fmt.Errorf("%w: %s: %q", ErrDuplicateField, st.ID(), n.Name)
		}
		v, ok := n.Value.(uint64)
		if n.Type != DataUint64 || !ok {
			return nil, fmt.Errorf("%w: %s: %q: expected uint64, found %s (%v)",
				ErrTypeMismatch, st.ID(), n.Name, n.Type, n.Value)
		}
		values[n.Name] = v
	}

	for _, n := range names {
		if _, ok := values[n]; !ok {
			return nil, fmt.Errorf("%w: %s: %q", ErrMissingField, st.ID(), n)
		}
	}

	return values, nil
}

// ID returns the module:instance:name identifier of the record.
func (st *Stat) ID() string {
	return statID(st.Module, st.Instance, st.Name)
}

// Matches returns true if the record matches the given filter.
func (st *Stat) Matches(module string, instance int, name string) bool {
	return (module == "" || module == st.Module) &&
		(instance < 0 || instance == st.Instance) &&
		(name == "" || name == st.Name)
}

func statID(module string, instance int, name string) string {
	inst := "*"
	if instance >= 0 {
		inst = fmt.Sprintf("%d", instance)
	}
	if module == "" {
		module = "*"
	}
	if name == "" {
		name = "*"
	}
	return module + ":" + inst + ":" + name
}

func (t Type) String() string {
	switch t {
	case TypeRaw:
		return "raw"
	case TypeNamed:
		return "named"
	case TypeIntr:
		return "intr"
	case TypeIO:
		return "io"
	case TypeTimer:
		return "timer"
	}
	return fmt.Sprintf("<unknown kstat type %d>", int(t))
}

func (t DataType) String() string {
	switch t {
	case DataChar:
		return "char"
	case DataInt32:
		return "int32"
	case DataUint32:
		return "uint32"
	case DataInt64:
		return "int64"
	case DataUint64:
		return "uint64"
	case DataString:
		return "string"
	}
	return fmt.Sprintf("<unknown data type %d>", int(t))
}
