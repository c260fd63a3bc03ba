// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/coefficients/types/shapes"
)

// Aliases
var (
	F64 = dtypes.Float64
	MS  = shapes.Make
)

// requireConstructionError checks that fn panics with an error wrapping the
// given sentinel.
func requireConstructionError(t *testing.T, sentinel error, fn func()) {
	t.Helper()
	err := exceptions.TryCatch[error](fn)
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
}

func TestConstructionShapes(t *testing.T) {
	scalar := Const(3)
	require.True(t, scalar.IsScalar())
	require.Equal(t, OpConstant, scalar.OpType())

	vector := ConstVector(1, 2, 3)
	require.True(t, vector.Shape().Equal(MS(F64, 3)))

	matrix := ConstMatrix([]float64{1, 2}, []float64{3, 4})
	require.True(t, matrix.Shape().Equal(MS(F64, 2, 2)))
	require.True(t, matrix.Shape().IsMatrix())

	// Elementwise ops keep the operand shape; scalars broadcast.
	require.True(t, Neg(vector).Shape().Equal(MS(F64, 3)))
	require.True(t, Add(vector, vector).Shape().Equal(MS(F64, 3)))
	require.True(t, Add(scalar, vector).Shape().Equal(MS(F64, 3)))
	require.True(t, Mul(matrix, scalar).Shape().Equal(MS(F64, 2, 2)))
	require.True(t, Div(scalar, scalar).IsScalar())
	require.True(t, GreaterThan(vector, scalar).Shape().Equal(MS(F64, 3)))

	// Matrix algebra.
	a := ConstMatrix([]float64{1, 2, 3}, []float64{4, 5, 6}) // [2, 3]
	b := ConstMatrix([]float64{1, 2}, []float64{3, 4}, []float64{5, 6})
	require.True(t, MatMul(a, b).Shape().Equal(MS(F64, 2, 2)))
	require.True(t, MatMul(a, vector).Shape().Equal(MS(F64, 2)))
	require.True(t, MatMul(ConstVector(1, 2), a).Shape().Equal(MS(F64, 3)))
	require.True(t, Transpose(a).Shape().Equal(MS(F64, 3, 2)))
	require.True(t, Trace(matrix).IsScalar())
	require.True(t, Det(matrix).IsScalar())
	require.True(t, Inverse(matrix).Shape().Equal(MS(F64, 2, 2)))
	require.True(t, InnerProduct(vector, vector).IsScalar())

	// Component extraction and branch selection.
	require.True(t, At(vector, 1).IsScalar())
	require.True(t, At(matrix, 1, 0).IsScalar())
	require.True(t, IfPos(scalar, vector, vector).Shape().Equal(MS(F64, 3)))
	require.True(t, IfPos(scalar, scalar, vector).Shape().Equal(MS(F64, 3)))

	// The result of one operation composes into the next without revalidation
	// surprises.
	expr := Add(MatMul(a, b), MulScalar(Trace(matrix), 2))
	require.True(t, expr.Shape().Equal(MS(F64, 2, 2)))
}

func TestConstructionErrors(t *testing.T) {
	vec2 := ConstVector(1, 2)
	vec3 := ConstVector(1, 2, 3)
	mat23 := ConstMatrix([]float64{1, 2, 3}, []float64{4, 5, 6})
	mat22 := ConstMatrix([]float64{1, 2}, []float64{3, 4})

	// Elementwise ops need equal shapes or one scalar operand.
	requireConstructionError(t, ErrShapeMismatch, func() { Add(vec2, vec3) })
	requireConstructionError(t, ErrShapeMismatch, func() { Mul(mat23, mat22) })
	requireConstructionError(t, ErrShapeMismatch, func() { Min(vec3, mat23) })
	requireConstructionError(t, ErrShapeMismatch, func() { LessThan(vec2, vec3) })

	// No dimension-1 broadcasting: a [1]-vector is not a scalar.
	requireConstructionError(t, ErrShapeMismatch, func() { Add(ConstVector(1), vec2) })

	// Matrix algebra rules.
	requireConstructionError(t, ErrShapeMismatch, func() { MatMul(Const(1), Const(2)) })
	requireConstructionError(t, ErrShapeMismatch, func() { MatMul(mat23, mat23) })
	requireConstructionError(t, ErrShapeMismatch, func() { MatMul(vec3, vec3) })
	requireConstructionError(t, ErrShapeMismatch, func() { Transpose(vec3) })
	requireConstructionError(t, ErrShapeMismatch, func() { Trace(mat23) })
	requireConstructionError(t, ErrShapeMismatch, func() { Inverse(vec3) })
	requireConstructionError(t, ErrShapeMismatch, func() { Det(mat23) })
	requireConstructionError(t, ErrShapeMismatch, func() { InnerProduct(vec2, vec3) })
	requireConstructionError(t, ErrShapeMismatch, func() { InnerProduct(Const(1), Const(2)) })

	// Component extraction bounds and arity.
	requireConstructionError(t, ErrIndexOutOfRange, func() { At(vec3, 3) })
	requireConstructionError(t, ErrIndexOutOfRange, func() { At(vec3, -1) })
	requireConstructionError(t, ErrIndexOutOfRange, func() { At(mat23, 1) })
	requireConstructionError(t, ErrIndexOutOfRange, func() { At(mat23, 0, 3) })
	requireConstructionError(t, ErrIndexOutOfRange, func() { At(Const(1), 0) })

	// IfPos needs a scalar condition.
	requireConstructionError(t, ErrShapeMismatch, func() { IfPos(vec2, Const(1), Const(2)) })
	requireConstructionError(t, ErrShapeMismatch, func() { IfPos(Const(1), vec2, vec3) })

	// Invalid shapes for leaves.
	requireConstructionError(t, ErrInvalidShape, func() { ConstVector() })
	requireConstructionError(t, ErrInvalidShape, func() { ConstMatrix([]float64{1, 2}, []float64{3}) })
	requireConstructionError(t, ErrInvalidShape, func() { Coordinate(3) })
	requireConstructionError(t, ErrInvalidShape, func() { Coordinate(-1) })
	requireConstructionError(t, ErrInvalidShape, func() { DomainConstant(nil) })
	requireConstructionError(t, ErrInvalidShape, func() {
		Func("f", MS(F64, 2, 2, 2), func(_ *Context, out []float64) error { return nil })
	})
	requireConstructionError(t, ErrInvalidShape, func() {
		Func("f", MS(dtypes.Float32, 2), func(_ *Context, out []float64) error { return nil })
	})
	requireConstructionError(t, ErrInvalidShape, func() {
		Field("u", shapes.Shape{})
	})
}

func TestNodeBasics(t *testing.T) {
	x := X()
	require.Equal(t, OpCoordinate, x.OpType())
	require.Equal(t, 0, x.NumInputs())
	require.True(t, x.IsScalar())
	require.Equal(t, 0, x.Rank())

	sum := Add(x, Const(1))
	require.Equal(t, 2, sum.NumInputs())
	require.Equal(t, "Add", sum.Name())
	assert.Equal(t, "Add[(Float64)](Coordinate[(Float64)], Constant[(Float64)])", sum.String())

	// Inputs returns a copy: mutating it doesn't corrupt the node.
	inputs := sum.Inputs()
	inputs[0] = nil
	require.NotNil(t, sum.Inputs()[0])

	// Named leaves report their names.
	require.Equal(t, "u", Field("u", MS(F64, 2)).Name())
	require.Equal(t, "kappa", Parameter("kappa", 1.0).Name())
	rule := Func("source", MS(F64), func(_ *Context, out []float64) error {
		out[0] = 1
		return nil
	})
	require.Equal(t, "source", rule.Name())
}

func TestBind(t *testing.T) {
	u := Field("u", MS(F64))
	shared := Add(Const(1), Const(2))
	expr := Add(Mul(u, u), shared)

	// Substituting u for an expression of x rewires only the path through u.
	bound := Bind(expr, map[*Node]*Node{u: X()})
	require.NotSame(t, expr, bound)
	require.Equal(t, OpAdd, bound.OpType())
	require.Equal(t, OpCoordinate, bound.Inputs()[0].Inputs()[0].OpType())
	// The untouched subtree is shared, not copied.
	require.Same(t, shared, bound.Inputs()[1])

	// The original expression is not modified.
	require.Same(t, u, expr.Inputs()[0].Inputs()[0])

	// No replacements returns the root itself.
	require.Same(t, expr, Bind(expr, nil))

	// Replacements must keep the shape.
	requireConstructionError(t, ErrShapeMismatch, func() {
		Bind(expr, map[*Node]*Node{u: ConstVector(1, 2)})
	})

	// Binding composes: the bound expression evaluates like the inlined one.
	batch := PointContexts([]float64{2}, []float64{3})
	got, err := Eval(bound, batch)
	require.NoError(t, err)
	require.Equal(t, []float64{7, 12}, got.Flat())
}

func TestShapeValidation(t *testing.T) {
	// Composition functions reject nil and zero-valued nodes outright.
	require.Panics(t, func() { Add(nil, Const(1)) })
	require.Panics(t, func() { Neg(&Node{}) })
	require.Panics(t, func() { NewEvaluator(nil) })

	// checkCoefficientShape details.
	require.NoError(t, checkCoefficientShape(MS(F64)))
	require.NoError(t, checkCoefficientShape(MS(F64, 4)))
	require.NoError(t, checkCoefficientShape(MS(F64, 2, 3)))
	require.Error(t, checkCoefficientShape(MS(F64, 1, 2, 3)))
	require.Error(t, checkCoefficientShape(MS(dtypes.Float32, 2)))
	require.Error(t, checkCoefficientShape(shapes.Shape{}))
}
