// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"math"

	"github.com/gomlx/coefficients/types/xslices"
)

func init() {
	nodeExecutors[OpNeg] = unaryExecutor(func(x float64) float64 { return -x })
	nodeExecutors[OpAbs] = unaryExecutor(math.Abs)
	nodeExecutors[OpExp] = unaryExecutor(math.Exp)
	nodeExecutors[OpLog] = unaryExecutor(math.Log)
	nodeExecutors[OpSqrt] = unaryExecutor(math.Sqrt)
	nodeExecutors[OpSin] = unaryExecutor(math.Sin)
	nodeExecutors[OpCos] = unaryExecutor(math.Cos)

	nodeExecutors[OpAdd] = binaryExecutor(func(a, b float64) float64 { return a + b })
	nodeExecutors[OpSub] = binaryExecutor(func(a, b float64) float64 { return a - b })
	nodeExecutors[OpMul] = binaryExecutor(func(a, b float64) float64 { return a * b })
	nodeExecutors[OpDiv] = binaryExecutor(func(a, b float64) float64 { return a / b })
	nodeExecutors[OpMin] = binaryExecutor(math.Min)
	nodeExecutors[OpMax] = binaryExecutor(math.Max)

	nodeExecutors[OpGreaterThan] = binaryExecutor(compareToFloat(func(a, b float64) bool { return a > b }))
	nodeExecutors[OpGreaterOrEqual] = binaryExecutor(compareToFloat(func(a, b float64) bool { return a >= b }))
	nodeExecutors[OpLessThan] = binaryExecutor(compareToFloat(func(a, b float64) bool { return a < b }))
	nodeExecutors[OpLessOrEqual] = binaryExecutor(compareToFloat(func(a, b float64) bool { return a <= b }))

	nodeExecutors[OpIfPos] = execIfPos
	nodeExecutors[OpComponent] = execComponent
}

// unaryExecutor builds the executor of an elementwise unary op.
//
// Domain violations (Log of a negative value, ...) follow IEEE-754 and yield
// NaN or Inf instead of failing the batch.
func unaryExecutor(fn func(x float64) float64) nodeExecutor {
	return func(_ *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
		for ii, x := range inputs[0] {
			out[ii] = fn(x)
		}
		return nil
	}
}

// binaryExecutor builds the executor of an elementwise binary op, handling
// the scalar-with-nonscalar broadcast. Division by zero follows IEEE-754.
func binaryExecutor(fn func(a, b float64) float64) nodeExecutor {
	return func(_ *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
		lhs, rhs := inputs[0], inputs[1]
		switch {
		case len(lhs) == len(rhs):
			for ii := range out {
				out[ii] = fn(lhs[ii], rhs[ii])
			}
		case len(lhs) == 1:
			for ii := range out {
				out[ii] = fn(lhs[0], rhs[ii])
			}
		default: // len(rhs) == 1, guaranteed by shape inference.
			for ii := range out {
				out[ii] = fn(lhs[ii], rhs[0])
			}
		}
		return nil
	}
}

func compareToFloat(cmp func(a, b float64) bool) func(a, b float64) float64 {
	return func(a, b float64) float64 {
		if cmp(a, b) {
			return 1
		}
		return 0
	}
}

func execIfPos(_ *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
	src := inputs[1]
	if inputs[0][0] <= 0 {
		src = inputs[2]
	}
	if len(src) == 1 {
		// Scalar branch broadcast over a non-scalar result.
		xslices.FillSlice(out, src[0])
		return nil
	}
	copy(out, src)
	return nil
}

func execComponent(node *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
	out[0] = inputs[0][node.data.(*componentNode).flat]
	return nil
}
