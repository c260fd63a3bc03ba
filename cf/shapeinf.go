// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"github.com/gomlx/coefficients/types"
	"github.com/gomlx/coefficients/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Sentinel errors reported during construction and differentiation of
// coefficient functions. Composition functions panic with an error wrapping
// one of these as soon as an operand is invalid; use errors.Is to classify
// what was recovered (e.g. with exceptions.TryCatch).
var (
	// ErrInvalidShape is reported when a shape is invalid on its own for a
	// coefficient: wrong dtype, rank > 2 or non-positive dimensions.
	ErrInvalidShape = errors.New("invalid coefficient shape")

	// ErrShapeMismatch is reported when operand shapes are incompatible for
	// the operation combining them.
	ErrShapeMismatch = errors.New("coefficient shapes are incompatible")

	// ErrIndexOutOfRange is reported when extracting a component with indices
	// that don't address an element of the operand shape.
	ErrIndexOutOfRange = errors.New("component index out of range")

	// ErrNotDifferentiable is reported when asking for derivatives of an
	// expression with a node that doesn't support them.
	ErrNotDifferentiable = errors.New("coefficient is not differentiable")
)

var (
	// StandardUnaryOperations operate elementwise and keep the operand shape.
	StandardUnaryOperations = types.SetWith(
		OpNeg,
		OpAbs,
		OpExp,
		OpLog,
		OpSqrt,
		OpSin,
		OpCos,
	)

	// StandardBinaryOperations operate elementwise on operands of equal
	// shapes, or with one scalar operand broadcast over the other.
	StandardBinaryOperations = types.SetWith(
		OpAdd,
		OpSub,
		OpMul,
		OpDiv,
		OpMin,
		OpMax,
	)

	// ComparisonOperations compare elementwise like StandardBinaryOperations
	// and evaluate to 0.0 or 1.0.
	ComparisonOperations = types.SetWith(
		OpGreaterThan,
		OpGreaterOrEqual,
		OpLessThan,
		OpLessOrEqual,
	)

	// MatrixOperations follow linear-algebra shape rules instead of the
	// elementwise ones.
	MatrixOperations = types.SetWith(
		OpMatMul,
		OpTranspose,
		OpTrace,
		OpInverse,
		OpDet,
		OpInnerProduct,
	)
)

// maxRank a coefficient value can have: scalars, vectors and matrices.
const maxRank = 2

// checkCoefficientShape validates that shape can be the shape of a
// coefficient-function node: Float64 and rank at most 2 with positive
// dimensions.
func checkCoefficientShape(shape shapes.Shape) error {
	if !shape.Ok() {
		return errors.Wrap(ErrInvalidShape, "shape is invalid (zero value?)")
	}
	if shape.DType != dtypes.Float64 {
		return errors.Wrapf(ErrInvalidShape, "coefficients are Float64 valued, got %s", shape)
	}
	if shape.Rank() > maxRank {
		return errors.Wrapf(ErrInvalidShape, "coefficients are scalar, vector or matrix valued (rank <= %d), got %s", maxRank, shape)
	}
	for axis, dim := range shape.Dimensions {
		if dim <= 0 {
			return errors.Wrapf(ErrInvalidShape, "axis %d of shape %s has non-positive dimension", axis, shape)
		}
	}
	return nil
}

// unaryOpShape returns the output shape for ops in the
// StandardUnaryOperations set: the operand shape, unchanged.
func unaryOpShape(opType OpType, operand shapes.Shape) (shapes.Shape, error) {
	if !StandardUnaryOperations.Has(opType) {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidShape, "operation %s is not in the StandardUnaryOperations set, cannot process it with unaryOpShape", opType)
	}
	if err := checkCoefficientShape(operand); err != nil {
		return shapes.Invalid(), err
	}
	return operand.Clone(), nil
}

// binaryOpShape returns the output shape for ops in the
// StandardBinaryOperations set.
//
// Operands are compatible when their shapes match exactly, or when one of
// them is a scalar, in which case it is broadcast over the other operand.
// There is no dimension-1 broadcasting: a [1]-vector is not a scalar.
func binaryOpShape(opType OpType, lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if !StandardBinaryOperations.Has(opType) {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidShape, "operation %s is not in the StandardBinaryOperations set, cannot process it with binaryOpShape", opType)
	}
	return binaryOpShapeImpl(opType, lhs, rhs)
}

// comparisonOpShape returns the output shape for ops in the
// ComparisonOperations set. Operand compatibility follows binaryOpShape; the
// output stays Float64, holding 0.0 or 1.0 per element.
func comparisonOpShape(opType OpType, lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if !ComparisonOperations.Has(opType) {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidShape, "operation %s is not in the ComparisonOperations set, cannot process it with comparisonOpShape", opType)
	}
	return binaryOpShapeImpl(opType, lhs, rhs)
}

func binaryOpShapeImpl(opType OpType, lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if err := checkCoefficientShape(lhs); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkCoefficientShape(rhs); err != nil {
		return shapes.Invalid(), err
	}
	// Trivial cases: if one of the sides is a scalar, return the other side shape.
	if lhs.IsScalar() {
		return rhs.Clone(), nil
	}
	if rhs.IsScalar() {
		return lhs.Clone(), nil
	}
	if !lhs.Equal(rhs) {
		return shapes.Invalid(), errors.Wrapf(ErrShapeMismatch,
			"operands of %s must have equal shapes or one scalar operand, got shapes %s and %s", opType, lhs, rhs)
	}
	return lhs.Clone(), nil
}

// ifPosShape returns the output shape of IfPos(cond, onPos, onNeg): cond must
// be scalar, and the branches must be compatible the same way binary operands
// are (equal shapes or one scalar).
func ifPosShape(cond, onPos, onNeg shapes.Shape) (shapes.Shape, error) {
	if err := checkCoefficientShape(cond); err != nil {
		return shapes.Invalid(), err
	}
	if !cond.IsScalar() {
		return shapes.Invalid(), errors.Wrapf(ErrShapeMismatch, "IfPos condition must be scalar, got %s", cond)
	}
	return binaryOpShapeImpl(OpIfPos, onPos, onNeg)
}

// componentShape returns the output shape of extracting one component: a
// scalar, addressed with one index per axis of the operand.
func componentShape(operand shapes.Shape, indices []int) (shapes.Shape, error) {
	if err := checkCoefficientShape(operand); err != nil {
		return shapes.Invalid(), err
	}
	if len(indices) != operand.Rank() {
		return shapes.Invalid(), errors.Wrapf(ErrIndexOutOfRange,
			"component extraction from shape %s takes one index per axis (%d), got indices %v", operand, operand.Rank(), indices)
	}
	for axis, idx := range indices {
		if idx < 0 || idx >= operand.Dimensions[axis] {
			return shapes.Invalid(), errors.Wrapf(ErrIndexOutOfRange,
				"component index %d for axis %d is out-of-range for shape %s", idx, axis, operand)
		}
	}
	return shapes.Scalar[float64](), nil
}

// matMulShape returns the shape of the matrix product lhs x rhs.
//
// Supported operand combinations: [n,k]x[k,m]->[n,m], [n,k]x[k]->[n] and
// [k]x[k,m]->[m]. Anything else, scalars included, is a mismatch -- use Mul
// for elementwise and scalar products.
func matMulShape(lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if err := checkCoefficientShape(lhs); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkCoefficientShape(rhs); err != nil {
		return shapes.Invalid(), err
	}
	switch {
	case lhs.IsMatrix() && rhs.IsMatrix():
		if lhs.Dimensions[1] != rhs.Dimensions[0] {
			break
		}
		return shapes.Make(lhs.DType, lhs.Dimensions[0], rhs.Dimensions[1]), nil
	case lhs.IsMatrix() && rhs.IsVector():
		if lhs.Dimensions[1] != rhs.Dimensions[0] {
			break
		}
		return shapes.Make(lhs.DType, lhs.Dimensions[0]), nil
	case lhs.IsVector() && rhs.IsMatrix():
		if lhs.Dimensions[0] != rhs.Dimensions[0] {
			break
		}
		return shapes.Make(lhs.DType, rhs.Dimensions[1]), nil
	}
	return shapes.Invalid(), errors.Wrapf(ErrShapeMismatch,
		"MatMul operands must be matrices or vectors with matching inner dimensions, got shapes %s and %s", lhs, rhs)
}

// transposeShape returns the shape of the transposed matrix.
func transposeShape(operand shapes.Shape) (shapes.Shape, error) {
	if err := checkCoefficientShape(operand); err != nil {
		return shapes.Invalid(), err
	}
	if !operand.IsMatrix() {
		return shapes.Invalid(), errors.Wrapf(ErrShapeMismatch, "Transpose takes a matrix, got shape %s", operand)
	}
	return shapes.Make(operand.DType, operand.Dimensions[1], operand.Dimensions[0]), nil
}

// squareMatrixOpShape returns the output shape of ops defined on square
// matrices: Trace and Det yield scalars, Inverse keeps the operand shape.
func squareMatrixOpShape(opType OpType, operand shapes.Shape) (shapes.Shape, error) {
	if err := checkCoefficientShape(operand); err != nil {
		return shapes.Invalid(), err
	}
	if !operand.IsMatrix() || operand.Dimensions[0] != operand.Dimensions[1] {
		return shapes.Invalid(), errors.Wrapf(ErrShapeMismatch, "%s takes a square matrix, got shape %s", opType, operand)
	}
	switch opType {
	case OpTrace, OpDet:
		return shapes.Scalar[float64](), nil
	case OpInverse:
		return operand.Clone(), nil
	}
	return shapes.Invalid(), errors.Wrapf(ErrInvalidShape, "operation %s is not a square-matrix operation", opType)
}

// innerProductShape returns the shape of the full contraction of two operands
// of equal shape: a scalar. For matrices this is the Frobenius inner product.
func innerProductShape(lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if err := checkCoefficientShape(lhs); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkCoefficientShape(rhs); err != nil {
		return shapes.Invalid(), err
	}
	if lhs.IsScalar() || !lhs.Equal(rhs) {
		return shapes.Invalid(), errors.Wrapf(ErrShapeMismatch,
			"InnerProduct takes two vectors or two matrices of equal shapes, got %s and %s", lhs, rhs)
	}
	return shapes.Scalar[float64](), nil
}
