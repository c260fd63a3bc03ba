// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"github.com/gomlx/coefficients/types/shapes"
	"github.com/gomlx/coefficients/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// EvalFunc is the signature of user supplied evaluation rules, see Func.
//
// The rule must fill out, whose length is the size of the declared shape
// (row-major), with the value of the coefficient at ctx. Returning an error
// aborts the whole batch being evaluated: it is reported back as a
// *EvaluationError carrying the index of ctx within the batch.
//
// The rule must not retain ctx or out after returning, and must be safe for
// concurrent calls if evaluations run concurrently.
type EvalFunc func(ctx *Context, out []float64) error

// funcNode data for OpFunc.
type funcNode struct {
	name  string
	eval  EvalFunc
	deriv EvalFunc
}

// fieldNode data for OpField.
type fieldNode struct {
	name string
}

// parameterNode data for OpParameter.
type parameterNode struct {
	name  string
	value float64
}

// domainConstantNode data for OpDomainConstant.
type domainConstantNode struct {
	values map[int]float64
}

// componentNode data for OpComponent.
type componentNode struct {
	indices []int
	flat    int // row-major offset of indices in the operand shape.
}

// maxSpatialDims is the highest spatial dimension coefficients are evaluated
// in. Coordinate axes are limited to it.
const maxSpatialDims = 3

// checkNodes panics if any of the given input nodes is nil or invalid.
func checkNodes(opName string, nodes ...*Node) {
	for idx, node := range nodes {
		if node == nil {
			exceptions.Panicf("%s: input node #%d is nil!?", opName, idx)
		}
		if node.opType <= OpInvalid || node.opType >= opTypeLast {
			exceptions.Panicf("%s: input node #%d was not created by a composition function of this package", opName, idx)
		}
	}
}

// Const returns a scalar coefficient with the given fixed value.
func Const(value float64) *Node {
	n := newNode(OpConstant, shapes.Scalar[float64]())
	n.data = []float64{value}
	return n
}

// ConstVector returns a vector coefficient with the given fixed values.
func ConstVector(values ...float64) *Node {
	if len(values) == 0 {
		panic(errors.Wrap(ErrInvalidShape, "ConstVector requires at least one value"))
	}
	n := newNode(OpConstant, shapes.Make(dtypes.Float64, len(values)))
	n.data = xslices.Copy(values)
	return n
}

// ConstMatrix returns a matrix coefficient with the given fixed values, one
// slice per row. All rows must have the same, non-zero length.
func ConstMatrix(rows ...[]float64) *Node {
	if len(rows) == 0 || len(rows[0]) == 0 {
		panic(errors.Wrap(ErrInvalidShape, "ConstMatrix requires at least one row and one column"))
	}
	numCols := len(rows[0])
	flat := make([]float64, 0, len(rows)*numCols)
	for ii, row := range rows {
		if len(row) != numCols {
			panic(errors.Wrapf(ErrInvalidShape, "ConstMatrix row %d has %d values, row 0 has %d: rows must have equal lengths", ii, len(row), numCols))
		}
		flat = append(flat, row...)
	}
	n := newNode(OpConstant, shapes.Make(dtypes.Float64, len(rows), numCols))
	n.data = flat
	return n
}

// Coordinate returns the scalar coefficient that evaluates to physical
// coordinate axis of the evaluation point: 0 for x, 1 for y, 2 for z.
//
// Evaluating an axis beyond the spatial dimension of the evaluation Context
// yields 0, so the same expression works on 1-D, 2-D and 3-D domains.
func Coordinate(axis int) *Node {
	if axis < 0 || axis >= maxSpatialDims {
		panic(errors.Wrapf(ErrInvalidShape, "Coordinate axis must be in [0, %d), got %d", maxSpatialDims, axis))
	}
	n := newNode(OpCoordinate, shapes.Scalar[float64]())
	n.data = axis
	return n
}

// X is shorthand for Coordinate(0).
func X() *Node { return Coordinate(0) }

// Y is shorthand for Coordinate(1).
func Y() *Node { return Coordinate(1) }

// Z is shorthand for Coordinate(2).
func Z() *Node { return Coordinate(2) }

// Func returns a coefficient computed by a user supplied evaluation rule.
//
// shape declares the value shape the rule fills in; it must be Float64 with
// rank at most 2. eval is called once per evaluation Context.
//
// deriv optionally gives the rule for the derivatives with respect to the
// spatial coordinates: it must fill out with shape.Size()*dims values, laid
// out value-major (out[i*dims+k] holds the derivative of value i along axis
// k, with dims taken from the Context). Without it, the coefficient reports
// ErrNotDifferentiable when differentiation is requested.
//
// The rule must compute from the Context geometry only. Derivatives with
// respect to a Field (see Evaluator.EvaluateDiff) treat Func values as
// independent of the field.
func Func(name string, shape shapes.Shape, eval EvalFunc, deriv ...EvalFunc) *Node {
	if err := checkCoefficientShape(shape); err != nil {
		panic(err)
	}
	if eval == nil {
		exceptions.Panicf("Func(%q): eval rule is nil", name)
	}
	if len(deriv) > 1 {
		exceptions.Panicf("Func(%q): at most one derivative rule can be given, got %d", name, len(deriv))
	}
	data := &funcNode{name: name, eval: eval}
	if len(deriv) == 1 && deriv[0] != nil {
		data.deriv = deriv[0]
	}
	n := newNode(OpFunc, shape.Clone())
	n.data = data
	return n
}

// Field returns a named coefficient whose values are supplied by the caller
// per evaluation, with Context.SetValue -- typically the finite-element
// solution interpolated at the evaluation points.
//
// Evaluating a Field without supplied values fails with a *EvaluationError.
// Differentiating spatially requires gradients supplied with
// Context.SetGradient. Fields are the designated targets of
// Evaluator.EvaluateDiff.
func Field(name string, shape shapes.Shape) *Node {
	if err := checkCoefficientShape(shape); err != nil {
		panic(err)
	}
	n := newNode(OpField, shape.Clone())
	n.data = &fieldNode{name: name}
	return n
}

// Parameter returns a scalar coefficient with a default value that can be
// overridden per evaluation call with WithParameter, without rebuilding the
// expression. Its spatial derivative is zero.
func Parameter(name string, value float64) *Node {
	n := newNode(OpParameter, shapes.Scalar[float64]())
	n.data = &parameterNode{name: name, value: value}
	return n
}

// DomainConstant returns a scalar coefficient taking a fixed value per
// region (material) id of the evaluation Context. Evaluation fails for
// contexts whose region has no value. Its spatial derivative is zero.
func DomainConstant(values map[int]float64) *Node {
	if len(values) == 0 {
		panic(errors.Wrap(ErrInvalidShape, "DomainConstant requires at least one region value"))
	}
	copied := make(map[int]float64, len(values))
	for region, value := range values {
		copied[region] = value
	}
	n := newNode(OpDomainConstant, shapes.Scalar[float64]())
	n.data = &domainConstantNode{values: copied}
	return n
}

// addUnaryOp adds a generic unary op.
func addUnaryOp(opType OpType, operand *Node) *Node {
	checkNodes(opType.String(), operand)
	shape, err := unaryOpShape(opType, operand.shape)
	if err != nil {
		panic(err)
	}
	return newNode(opType, shape, operand)
}

// addBinaryOp adds a generic binary op.
func addBinaryOp(opType OpType, lhs, rhs *Node) *Node {
	checkNodes(opType.String(), lhs, rhs)
	shape, err := binaryOpShape(opType, lhs.shape, rhs.shape)
	if err != nil {
		panic(err)
	}
	return newNode(opType, shape, lhs, rhs)
}

// addComparisonOp adds a generic comparison binary op.
func addComparisonOp(opType OpType, lhs, rhs *Node) *Node {
	checkNodes(opType.String(), lhs, rhs)
	shape, err := comparisonOpShape(opType, lhs.shape, rhs.shape)
	if err != nil {
		panic(err)
	}
	return newNode(opType, shape, lhs, rhs)
}

// Neg returns the elementwise negation of x.
func Neg(x *Node) *Node { return addUnaryOp(OpNeg, x) }

// Abs returns the elementwise absolute value of x.
func Abs(x *Node) *Node { return addUnaryOp(OpAbs, x) }

// Exp returns the elementwise exponential of x.
func Exp(x *Node) *Node { return addUnaryOp(OpExp, x) }

// Log returns the elementwise natural logarithm of x.
func Log(x *Node) *Node { return addUnaryOp(OpLog, x) }

// Sqrt returns the elementwise square root of x.
func Sqrt(x *Node) *Node { return addUnaryOp(OpSqrt, x) }

// Sin returns the elementwise sine of x.
func Sin(x *Node) *Node { return addUnaryOp(OpSin, x) }

// Cos returns the elementwise cosine of x.
func Cos(x *Node) *Node { return addUnaryOp(OpCos, x) }

// Add returns lhs + rhs elementwise. Operand shapes must be equal, or one of
// them scalar.
func Add(lhs, rhs *Node) *Node { return addBinaryOp(OpAdd, lhs, rhs) }

// Sub returns lhs - rhs elementwise. Operand shapes must be equal, or one of
// them scalar.
func Sub(lhs, rhs *Node) *Node { return addBinaryOp(OpSub, lhs, rhs) }

// Mul returns lhs * rhs elementwise. Operand shapes must be equal, or one of
// them scalar. See MatMul for the matrix product.
func Mul(lhs, rhs *Node) *Node { return addBinaryOp(OpMul, lhs, rhs) }

// Div returns lhs / rhs elementwise. Operand shapes must be equal, or one of
// them scalar.
func Div(lhs, rhs *Node) *Node { return addBinaryOp(OpDiv, lhs, rhs) }

// Min returns the elementwise minimum of lhs and rhs.
func Min(lhs, rhs *Node) *Node { return addBinaryOp(OpMin, lhs, rhs) }

// Max returns the elementwise maximum of lhs and rhs.
func Max(lhs, rhs *Node) *Node { return addBinaryOp(OpMax, lhs, rhs) }

// GreaterThan returns 1.0 where lhs > rhs and 0.0 elsewhere.
func GreaterThan(lhs, rhs *Node) *Node { return addComparisonOp(OpGreaterThan, lhs, rhs) }

// GreaterOrEqual returns 1.0 where lhs >= rhs and 0.0 elsewhere.
func GreaterOrEqual(lhs, rhs *Node) *Node { return addComparisonOp(OpGreaterOrEqual, lhs, rhs) }

// LessThan returns 1.0 where lhs < rhs and 0.0 elsewhere.
func LessThan(lhs, rhs *Node) *Node { return addComparisonOp(OpLessThan, lhs, rhs) }

// LessOrEqual returns 1.0 where lhs <= rhs and 0.0 elsewhere.
func LessOrEqual(lhs, rhs *Node) *Node { return addComparisonOp(OpLessOrEqual, lhs, rhs) }

// IfPos returns onPos where the scalar condition evaluates > 0, and onNeg
// elsewhere. The branch shapes must be equal, or one of them scalar.
//
// Both branches are evaluated; IfPos only selects between their values, so a
// branch whose rule fails aborts the batch even where the condition does not
// select it.
func IfPos(cond, onPos, onNeg *Node) *Node {
	checkNodes(OpIfPos.String(), cond, onPos, onNeg)
	shape, err := ifPosShape(cond.shape, onPos.shape, onNeg.shape)
	if err != nil {
		panic(err)
	}
	return newNode(OpIfPos, shape, cond, onPos, onNeg)
}

// At returns the scalar coefficient extracting one component of x, addressed
// with one index per axis: At(v, i) for vectors, At(m, i, j) for matrices.
func At(x *Node, indices ...int) *Node {
	checkNodes(OpComponent.String(), x)
	shape, err := componentShape(x.shape, indices)
	if err != nil {
		panic(err)
	}
	n := newNode(OpComponent, shape, x)
	n.data = &componentNode{indices: xslices.Copy(indices), flat: x.shape.FlatIndex(indices...)}
	return n
}

// MatMul returns the matrix product of lhs and rhs: [n,k]x[k,m]->[n,m],
// matrix-vector [n,k]x[k]->[n] or vector-matrix [k]x[k,m]->[m].
func MatMul(lhs, rhs *Node) *Node {
	checkNodes(OpMatMul.String(), lhs, rhs)
	shape, err := matMulShape(lhs.shape, rhs.shape)
	if err != nil {
		panic(err)
	}
	return newNode(OpMatMul, shape, lhs, rhs)
}

// Transpose returns the transposed matrix coefficient.
func Transpose(x *Node) *Node {
	checkNodes(OpTranspose.String(), x)
	shape, err := transposeShape(x.shape)
	if err != nil {
		panic(err)
	}
	return newNode(OpTranspose, shape, x)
}

// Trace returns the scalar trace of a square matrix coefficient.
func Trace(x *Node) *Node { return addSquareMatrixOp(OpTrace, x) }

// Inverse returns the inverse of a square matrix coefficient. Evaluation
// fails with a *EvaluationError at contexts where the matrix is singular.
func Inverse(x *Node) *Node { return addSquareMatrixOp(OpInverse, x) }

// Det returns the scalar determinant of a square matrix coefficient.
func Det(x *Node) *Node { return addSquareMatrixOp(OpDet, x) }

func addSquareMatrixOp(opType OpType, operand *Node) *Node {
	checkNodes(opType.String(), operand)
	shape, err := squareMatrixOpShape(opType, operand.shape)
	if err != nil {
		panic(err)
	}
	return newNode(opType, shape, operand)
}

// InnerProduct returns the scalar full contraction of two coefficients of
// equal shapes: the dot product for vectors, the Frobenius inner product for
// matrices.
func InnerProduct(lhs, rhs *Node) *Node {
	checkNodes(OpInnerProduct.String(), lhs, rhs)
	shape, err := innerProductShape(lhs.shape, rhs.shape)
	if err != nil {
		panic(err)
	}
	return newNode(OpInnerProduct, shape, lhs, rhs)
}

// AddScalar returns x + c, with c converted to a constant coefficient.
func AddScalar(x *Node, c float64) *Node { return Add(x, Const(c)) }

// SubScalar returns x - c, with c converted to a constant coefficient.
func SubScalar(x *Node, c float64) *Node { return Sub(x, Const(c)) }

// MulScalar returns x * c, with c converted to a constant coefficient.
func MulScalar(x *Node, c float64) *Node { return Mul(x, Const(c)) }

// DivScalar returns x / c, with c converted to a constant coefficient.
func DivScalar(x *Node, c float64) *Node { return Div(x, Const(c)) }

// Square returns x * x, with x counted once: the evaluator computes it once
// per Context.
func Square(x *Node) *Node { return Mul(x, x) }

// Bind returns a new expression with sub-expressions of root substituted
// according to replacements: every occurrence (by identity) of a key node is
// replaced by its value node. This composes expressions: build an expression
// around a placeholder node and Bind the placeholder to the actual input.
//
// Each replacement must have the same shape as the node it replaces, anything
// else panics wrapping ErrShapeMismatch. Untouched sub-expressions are shared
// with the original graph, not copied; replaced nodes are not searched inside.
// The original expression is never modified.
func Bind(root *Node, replacements map[*Node]*Node) *Node {
	checkNodes("Bind", root)
	for original, replacement := range replacements {
		checkNodes("Bind", original, replacement)
		if !original.shape.Equal(replacement.shape) {
			panic(errors.Wrapf(ErrShapeMismatch,
				"Bind replacement for %s must keep its shape %s, got %s",
				original, original.shape, replacement.shape))
		}
	}
	if len(replacements) == 0 {
		return root
	}
	rebuilt := make(map[*Node]*Node, len(replacements))
	return bindNode(root, replacements, rebuilt)
}

func bindNode(node *Node, replacements, rebuilt map[*Node]*Node) *Node {
	if replacement, found := replacements[node]; found {
		return replacement
	}
	if cached, found := rebuilt[node]; found {
		return cached
	}
	changed := false
	newInputs := make([]*Node, len(node.inputs))
	for ii, input := range node.inputs {
		newInputs[ii] = bindNode(input, replacements, rebuilt)
		changed = changed || newInputs[ii] != input
	}
	result := node
	if changed {
		result = newNode(node.opType, node.shape, newInputs...)
		result.data = node.data
	}
	rebuilt[node] = result
	return result
}
