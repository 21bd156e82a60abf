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

package extract

import (
	"fmt"
	"os"
	"strconv"

	"github.com/SnellerInc/midend/ir"
	"golang.org/x/sys/cpu"
)

// CostModel assigns a cost to one node.
// Costs below 1 are treated as 1.
type CostModel interface {
	Cost(op ir.Op, ty ir.Type) int64
}

// Table is a CostModel built from a per-opcode
// base cost. Vector instances of every op other
// than splat are scaled by VectorWeight; splat
// is always charged as a vector op.
type Table struct {
	Base         [ir.NumOps]int64
	VectorWeight int64
}

const vectorWeightEnvVar = "MIDEND_VECTOR_WEIGHT"

// vectorWeightFromCPUFeatures returns the cost of
// a vector op relative to its scalar form on the
// host. Without wide vector units lane-parallel
// ops are emulated.
func vectorWeightFromCPUFeatures() int64 {
	if cpu.X86.HasAVX2 || cpu.X86.HasAVX512F || cpu.ARM64.HasASIMD {
		return 2
	}
	return 4
}

// DefaultVectorWeight returns the vector weight
// of DefaultCosts: the value of the MIDEND_VECTOR_WEIGHT
// environment variable if it is set to a positive
// integer, or a weight derived from CPU features.
func DefaultVectorWeight() int64 {
	if s := os.Getenv(vectorWeightEnvVar); s != "" {
		if w, err := strconv.ParseInt(s, 10, 64); err == nil && w > 0 {
			return w
		}
	}
	return vectorWeightFromCPUFeatures()
}

// DefaultCosts returns the table of the
// base costs of the opcode table.
func DefaultCosts() *Table {
	t := &Table{VectorWeight: DefaultVectorWeight()}
	for op := ir.Op(1); int(op) < ir.NumOps; op++ {
		t.Base[op] = int64(op.Cost())
	}
	return t
}

// Set overrides the base cost of the op called name.
func (t *Table) Set(name string, cost int64) error {
	op, ok := ir.OpByName(name)
	if !ok {
		return fmt.Errorf("extract: unknown op %q", name)
	}
	if cost < 1 {
		return fmt.Errorf("extract: cost of %s must be positive", name)
	}
	t.Base[op] = cost
	return nil
}

// Cost implements CostModel.
func (t *Table) Cost(op ir.Op, ty ir.Type) int64 {
	c := t.Base[op]
	if c < 1 {
		c = 1
	}
	if ty.IsVector() && t.VectorWeight > 1 {
		c *= t.VectorWeight
	}
	return c
}
