// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package ir

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion is bumped whenever the
// opcode or type numbering changes.
const snapshotVersion = 1

type snapshot struct {
	Version int     `msgpack:"v"`
	Funcs   []*Func `msgpack:"funcs"`
}

// EncodeFuncs writes a binary snapshot of fns to w.
func EncodeFuncs(w io.Writer, fns []*Func) error {
	enc := msgpack.NewEncoder(w)
	return enc.Encode(&snapshot{Version: snapshotVersion, Funcs: fns})
}

// DecodeFuncs reads a snapshot written by EncodeFuncs
// and validates every Func in it.
func DecodeFuncs(r io.Reader) ([]*Func, error) {
	var s snapshot
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding ir snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("ir snapshot version %d; want %d", s.Version, snapshotVersion)
	}
	for _, f := range s.Funcs {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	return s.Funcs, nil
}
