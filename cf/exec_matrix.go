// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/coefficients/types/shapes"
)

func init() {
	nodeExecutors[OpMatMul] = execMatMul
	nodeExecutors[OpTranspose] = execTranspose
	nodeExecutors[OpTrace] = execTrace
	nodeExecutors[OpInverse] = execInverse
	nodeExecutors[OpDet] = execDet
	nodeExecutors[OpInnerProduct] = execInnerProduct
}

// denseOf wraps the flat values of a rank-2 operand as a gonum matrix,
// without copying.
func denseOf(shape shapes.Shape, flat []float64) *mat.Dense {
	return mat.NewDense(shape.Dim(0), shape.Dim(1), flat)
}

func execMatMul(node *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
	lhsNode, rhsNode := node.inputs[0], node.inputs[1]
	switch {
	case lhsNode.shape.IsMatrix() && rhsNode.shape.IsMatrix():
		lhs := denseOf(lhsNode.shape, inputs[0])
		rhs := denseOf(rhsNode.shape, inputs[1])
		dst := mat.NewDense(node.shape.Dim(0), node.shape.Dim(1), out)
		dst.Mul(lhs, rhs)
	case lhsNode.shape.IsMatrix(): // matrix x vector
		lhs := denseOf(lhsNode.shape, inputs[0])
		rhs := mat.NewVecDense(rhsNode.shape.Dim(0), inputs[1])
		dst := mat.NewVecDense(node.shape.Dim(0), out)
		dst.MulVec(lhs, rhs)
	default: // vector x matrix
		lhs := mat.NewDense(1, lhsNode.shape.Dim(0), inputs[0])
		rhs := denseOf(rhsNode.shape, inputs[1])
		dst := mat.NewDense(1, node.shape.Dim(0), out)
		dst.Mul(lhs, rhs)
	}
	return nil
}

func execTranspose(node *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
	operand := denseOf(node.inputs[0].shape, inputs[0])
	dst := mat.NewDense(node.shape.Dim(0), node.shape.Dim(1), out)
	dst.Copy(operand.T())
	return nil
}

func execTrace(node *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
	out[0] = mat.Trace(denseOf(node.inputs[0].shape, inputs[0]))
	return nil
}

func execInverse(node *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
	operand := denseOf(node.inputs[0].shape, inputs[0])
	dst := mat.NewDense(node.shape.Dim(0), node.shape.Dim(1), out)
	if err := dst.Inverse(operand); err != nil {
		return errors.WithMessage(err, "inverting matrix coefficient")
	}
	return nil
}

func execDet(node *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
	out[0] = mat.Det(denseOf(node.inputs[0].shape, inputs[0]))
	return nil
}

func execInnerProduct(_ *Node, _ *Context, _ *evalOptions, inputs [][]float64, out []float64) error {
	out[0] = floats.Dot(inputs[0], inputs[1])
	return nil
}
