// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cf implements coefficient functions: spatially varying scalar,
// vector or matrix valued expressions used by finite-element computations for
// material parameters, boundary values, right-hand sides and similar inputs.
//
// A coefficient function is an immutable expression DAG of *Node values.
// Leaves are constants (Const, ConstVector, ConstMatrix), spatial coordinates
// (X, Y, Z or Coordinate), user supplied evaluation rules (Func), named
// solution fields whose values the caller provides per evaluation (Field),
// per-call scalars (Parameter), per-region constants (DomainConstant) and
// smooth 1-D profiles (BSplineProfile). Composite nodes combine them with
// elementwise arithmetic (Add, Sub, Mul, Div, Min, Max), unary functions
// (Neg, Abs, Exp, Log, Sqrt, Sin, Cos), comparisons evaluating to 0 or 1
// (GreaterThan, ...), branch selection (IfPos), component extraction (At),
// matrix algebra (MatMul, Transpose, Trace, Inverse, Det, InnerProduct) and
// substitution of sub-expressions (Bind).
//
// Every node has a Shape fixed at construction time. Composition operators
// validate their operands immediately and panic with an error wrapping one of
// the exported sentinel errors (ErrShapeMismatch, ErrInvalidShape,
// ErrIndexOutOfRange) when operands are incompatible, so a malformed
// expression never becomes part of a graph. Use exceptions.Try to capture the
// panics as errors where recovery is wanted.
//
// Evaluation is batched: NewEvaluator freezes an evaluation plan for a root
// node, and Evaluator.Evaluate computes the root for a batch of evaluation
// Contexts (one per quadrature point, vertex, element center, ...). Within
// one call each node of the DAG is computed exactly once per Context, no
// matter how many expressions share it. Evaluation failures of user rules
// return a *EvaluationError carrying the index of the failing Context, and no
// partial results.
//
// Differentiation is available in two forms, both running over the same
// frozen plan: Evaluator.EvaluateGradient computes values together with
// derivatives with respect to the spatial coordinates, and
// Evaluator.EvaluateDiff computes derivatives with respect to a designated
// node (e.g. a Field). Nodes built from a Func without a derivative rule
// report ErrNotDifferentiable before any evaluation takes place.
//
// Nodes, and Evaluators once created, are immutable and safe for concurrent
// use: concurrent Evaluate calls on one Evaluator never share per-call state.
package cf

import (
	"fmt"
	"strings"

	"github.com/gomlx/coefficients/types/shapes"
	"github.com/gomlx/coefficients/types/xslices"
)

// OpType enumerates the types of nodes a coefficient-function expression can
// be built from.
type OpType int

const (
	// OpInvalid is the zero OpType, marking an uninitialized node.
	OpInvalid OpType = iota

	// Leaf nodes:

	OpConstant       // Fixed values, see Const, ConstVector, ConstMatrix.
	OpCoordinate     // One physical coordinate, see Coordinate, X, Y, Z.
	OpFunc           // User supplied evaluation rule, see Func.
	OpField          // Named field with values supplied per evaluation, see Field.
	OpParameter      // Scalar set per evaluation call, see Parameter.
	OpDomainConstant // Per-region scalar, see DomainConstant.
	OpBSpline        // 1-D B-spline profile of a coordinate, see BSplineProfile.

	// Unary elementwise:

	OpNeg
	OpAbs
	OpExp
	OpLog
	OpSqrt
	OpSin
	OpCos

	// Binary elementwise (operands with equal shapes, or one scalar):

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMin
	OpMax

	// Comparisons, evaluating to 0.0 or 1.0:

	OpGreaterThan
	OpGreaterOrEqual
	OpLessThan
	OpLessOrEqual

	// Structural and matrix operations:

	OpIfPos     // Branch selection on the sign of a scalar condition.
	OpComponent // Component extraction, see At.
	OpMatMul
	OpTranspose
	OpTrace
	OpInverse
	OpDet
	OpInnerProduct

	// opTypeLast is a marker for the number of OpTypes; keep it last.
	opTypeLast
)

// opTypeNames must be kept in sync with the OpType constants above.
var opTypeNames = [opTypeLast]string{
	"Invalid",
	"Constant", "Coordinate", "Func", "Field", "Parameter", "DomainConstant", "BSpline",
	"Neg", "Abs", "Exp", "Log", "Sqrt", "Sin", "Cos",
	"Add", "Sub", "Mul", "Div", "Min", "Max",
	"GreaterThan", "GreaterOrEqual", "LessThan", "LessOrEqual",
	"IfPos", "Component", "MatMul", "Transpose", "Trace", "Inverse", "Det", "InnerProduct",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op >= opTypeLast {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return opTypeNames[op]
}

// Node is one node of a coefficient-function expression DAG.
//
// Nodes are created by the composition functions of this package (Const, X,
// Add, MatMul, ...) and are immutable afterwards: the same node can appear as
// input of any number of other nodes, and whole graphs can be shared between
// goroutines without synchronization.
//
// Nodes are only created with their inputs already created, so any reachable
// graph is finite and acyclic by construction.
type Node struct {
	opType OpType
	shape  shapes.Shape
	inputs []*Node

	// data holds the opType-specific payload: the flat values of an
	// OpConstant, the axis of an OpCoordinate, the rules of an OpFunc, ...
	data any
}

// newNode builds a Node of the given opType and shape. It is used by the
// composition functions after they validated inputs and inferred the shape.
func newNode(opType OpType, shape shapes.Shape, inputs ...*Node) *Node {
	return &Node{
		opType: opType,
		shape:  shape,
		inputs: xslices.Copy(inputs),
	}
}

// OpType returns the type of the operation this node represents.
func (n *Node) OpType() OpType { return n.opType }

// Shape of the value this node evaluates to. It is fixed at construction and
// implements shapes.HasShape.
func (n *Node) Shape() shapes.Shape { return n.shape }

// Rank is a shortcut for n.Shape().Rank().
func (n *Node) Rank() int { return n.shape.Rank() }

// IsScalar is a shortcut for n.Shape().IsScalar().
func (n *Node) IsScalar() bool { return n.shape.IsScalar() }

// NumInputs returns the number of input nodes.
func (n *Node) NumInputs() int { return len(n.inputs) }

// Inputs returns a copy of the input nodes. The copy keeps the Node immutable.
func (n *Node) Inputs() []*Node { return xslices.Copy(n.inputs) }

// Name returns the name of Func, Field or Parameter nodes, and the OpType
// name for every other node.
func (n *Node) Name() string {
	switch n.opType {
	case OpFunc:
		return n.data.(*funcNode).name
	case OpField:
		return n.data.(*fieldNode).name
	case OpParameter:
		return n.data.(*parameterNode).name
	}
	return n.opType.String()
}

// String implements fmt.Stringer with a short one-line description of the
// node, e.g. `Mul[(Float64)](Coordinate[(Float64)], Constant[(Float64)])`.
func (n *Node) String() string {
	var sb strings.Builder
	sb.WriteString(n.Name())
	sb.WriteByte('[')
	sb.WriteString(n.shape.String())
	sb.WriteByte(']')
	if len(n.inputs) > 0 {
		sb.WriteByte('(')
		for ii, input := range n.inputs {
			if ii > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(input.Name())
			sb.WriteByte('[')
			sb.WriteString(input.shape.String())
			sb.WriteByte(']')
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
