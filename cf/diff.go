// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

// Forward-mode differentiation of coefficient functions.
//
// Derivatives run over the frozen plan of an Evaluator, right after the
// values: each node gets a derivative buffer with m entries per value, laid
// out value-major (buffer[i*m+k] is the derivative of value i along direction
// k). For EvaluateGradient the directions are the spatial coordinate axes of
// the batch; for EvaluateDiff they are the components of the wrt node, which
// is seeded with the identity and not descended into.
//
// Differentiation is structural and demand-driven: only nodes the root
// derivative actually depends on need a rule, so a comparison is fine as the
// condition of an IfPos (the condition is sampled for its sign, never
// differentiated) but nowhere else.

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/coefficients/types/shapes"
	"github.com/gomlx/coefficients/types/tensors"
)

// nodeDiffer computes the derivative of one node at one Context, given the
// values and derivatives of its inputs and the (already computed) value of the
// node itself. out has m derivative entries per value, value-major.
type nodeDiffer func(node *Node, inputs, inputGrads [][]float64, value, out []float64, m int) error

// nodeDiffers is populated during initialization for the ops whose derivative
// is a pure function of input values and derivatives. Leaf nodes and
// mode-dependent nodes are handled directly by diffContext.
var nodeDiffers [opTypeLast]nodeDiffer

func init() {
	nodeDiffers[OpNeg] = unaryDiffer(func(_, _ float64) float64 { return -1 })
	nodeDiffers[OpAbs] = unaryDiffer(func(x, _ float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return 0 // Abs is kinked at 0, take the subgradient.
	})
	nodeDiffers[OpExp] = unaryDiffer(func(_, fx float64) float64 { return fx })
	nodeDiffers[OpLog] = unaryDiffer(func(x, _ float64) float64 { return 1 / x })
	nodeDiffers[OpSqrt] = unaryDiffer(func(_, fx float64) float64 { return 1 / (2 * fx) })
	nodeDiffers[OpSin] = unaryDiffer(func(x, _ float64) float64 { return math.Cos(x) })
	nodeDiffers[OpCos] = unaryDiffer(func(x, _ float64) float64 { return -math.Sin(x) })

	nodeDiffers[OpAdd] = binaryDiffer(func(_, _, da, db float64) float64 { return da + db })
	nodeDiffers[OpSub] = binaryDiffer(func(_, _, da, db float64) float64 { return da - db })
	nodeDiffers[OpMul] = binaryDiffer(func(a, b, da, db float64) float64 { return da*b + a*db })
	nodeDiffers[OpDiv] = binaryDiffer(func(a, b, da, db float64) float64 { return (da*b - a*db) / (b * b) })
	nodeDiffers[OpMin] = binaryDiffer(func(a, b, da, db float64) float64 {
		if a <= b { // Ties follow the first operand.
			return da
		}
		return db
	})
	nodeDiffers[OpMax] = binaryDiffer(func(a, b, da, db float64) float64 {
		if a >= b { // Ties follow the first operand.
			return da
		}
		return db
	})

	nodeDiffers[OpIfPos] = diffIfPos
	nodeDiffers[OpComponent] = diffComponent
	nodeDiffers[OpMatMul] = diffMatMul
	nodeDiffers[OpTranspose] = diffTranspose
	nodeDiffers[OpTrace] = diffTrace
	nodeDiffers[OpInverse] = diffInverse
	nodeDiffers[OpDet] = diffDet
	nodeDiffers[OpInnerProduct] = diffInnerProduct
}

// SpatiallyDifferentiable reports whether Evaluator.EvaluateGradient can
// differentiate the expression rooted at n: true unless the gradient needs the
// derivative of a comparison or of a Func built without a derivative rule.
//
// Field nodes don't block spatial differentiation; they need gradients
// supplied per Context with Context.SetGradient at evaluation time.
func (n *Node) SpatiallyDifferentiable() bool {
	checkNodes("Node.SpatiallyDifferentiable", n)
	return walkDiff(n, nil, func(*Node) {}) == nil
}

// DifferentiableWRT reports whether Evaluator.EvaluateDiff can differentiate
// the expression rooted at n with respect to wrt. Func nodes don't block it:
// their values are treated as independent of wrt.
func (n *Node) DifferentiableWRT(wrt *Node) bool {
	checkNodes("Node.DifferentiableWRT", n, wrt)
	return walkDiff(n, wrt, func(*Node) {}) == nil
}

// walkDiff visits every node whose derivative is needed to differentiate the
// expression rooted at root, each once, and reports the first visited node
// lacking a derivative rule with an error wrapping ErrNotDifferentiable.
//
// wrt != nil selects differentiation with respect to wrt: the walk stops at
// wrt (it is seeded, not differentiated) and Func nodes need no derivative
// rule since they are independent of wrt. The condition of an IfPos is never
// visited: it is only sampled for its sign.
func walkDiff(root, wrt *Node, visit func(*Node)) error {
	visited := make(map[*Node]bool)
	var walk func(node *Node) error
	walk = func(node *Node) error {
		if visited[node] {
			return nil
		}
		visited[node] = true
		visit(node)
		if node == wrt {
			return nil
		}
		switch {
		case ComparisonOperations.Has(node.opType):
			return errors.Wrapf(ErrNotDifferentiable,
				"%s has no derivative: comparisons can only appear in the condition of IfPos when differentiating", node)
		case node.opType == OpFunc:
			if wrt == nil && node.data.(*funcNode).deriv == nil {
				return errors.Wrapf(ErrNotDifferentiable,
					"rule %q was built without a derivative rule, see Func", node.data.(*funcNode).name)
			}
		case node.opType == OpIfPos:
			if err := walk(node.inputs[1]); err != nil {
				return err
			}
			return walk(node.inputs[2])
		}
		for _, input := range node.inputs {
			if err := walk(input); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}

// EvaluateGradient computes the expression and its spatial gradient for every
// Context of the batch.
//
// values matches Evaluate. grads holds one item per Context, shaped like the
// root with one extra axis of the spatial dimension appended: grads element
// [..., k] is the derivative of value [...] along coordinate axis k. All
// Contexts of one batch must share the same spatial dimension.
//
// Every derivative rule the expression needs must exist or an error wrapping
// ErrNotDifferentiable is returned before anything is evaluated, see
// Node.SpatiallyDifferentiable. Field nodes need per-Context gradients
// supplied with Context.SetGradient. Failures follow the Evaluate contract:
// a *EvaluationError with the Context index, and no partial results.
func (e *Evaluator) EvaluateGradient(batch []*Context, opts ...EvalOption) (values, grads *tensors.Batch, err error) {
	return e.evaluateDerivatives(nil, batch, opts)
}

// EvaluateDiff computes the expression and its derivative with respect to the
// wrt node for every Context of the batch.
//
// wrt is usually a Field (the finite-element solution the expression is
// linearized around) but any node of the expression works, Parameter included.
// Every other leaf, and every Func, is treated as independent of wrt. An
// expression that doesn't contain wrt yields all-zero derivatives.
//
// values matches Evaluate. diff holds one item per Context with the axes of
// wrt appended to the root shape: the Jacobian of the root values with respect
// to the wrt values.
func (e *Evaluator) EvaluateDiff(wrt *Node, batch []*Context, opts ...EvalOption) (values, diff *tensors.Batch, err error) {
	checkNodes("Evaluator.EvaluateDiff", wrt)
	return e.evaluateDerivatives(wrt, batch, opts)
}

// evaluateDerivatives implements EvaluateGradient (wrt == nil, derivative
// directions are the spatial axes) and EvaluateDiff (directions are the
// components of wrt).
func (e *Evaluator) evaluateDerivatives(wrt *Node, batch []*Context, opts []EvalOption) (values, derivs *tensors.Batch, err error) {
	options := newEvalOptions(opts)
	if len(batch) == 0 {
		return nil, nil, errors.New("cannot evaluate derivatives over an empty batch: the derivative shape depends on the contexts")
	}

	// Structural check first: it doesn't depend on the contexts, so it fails
	// before any rule runs.
	needed := make([]bool, len(e.nodes))
	err = walkDiff(e.root, wrt, func(node *Node) {
		needed[e.nodeIdx[node]] = true
	})
	if err != nil {
		return nil, nil, err
	}

	var m int
	var derivShape shapes.Shape
	if wrt == nil {
		if err = e.checkContext(0, batch[0]); err != nil {
			return nil, nil, err
		}
		m = batch[0].SpatialDims()
		derivShape = shapes.ConcatenateDimensions(e.root.shape, shapes.Make(dtypes.Float64, m))
	} else {
		m = wrt.shape.Size()
		derivShape = shapes.ConcatenateDimensions(e.root.shape, wrt.shape)
	}
	values = tensors.FromShape(e.root.shape, len(batch))
	derivs = tensors.FromShape(derivShape, len(batch))

	rootIdx := e.nodeIdx[e.root]
	err = e.runBatch(batch, options.workers, func(from, to int, buf *execBuffers) error {
		buf.ensureGrads(e.nodes, m)
		for i := from; i < to; i++ {
			ctx := batch[i]
			if err := e.checkContext(i, ctx); err != nil {
				return err
			}
			if wrt == nil && ctx.SpatialDims() != m {
				return &EvaluationError{Index: i, Node: e.root,
					cause: errors.Errorf("context has %d spatial dimensions, the batch started with %d: gradients need a uniform dimension", ctx.SpatialDims(), m)}
			}
			if err := e.evalContext(i, ctx, buf, options); err != nil {
				return err
			}
			if err := e.diffContext(i, ctx, buf, needed, wrt, m); err != nil {
				return err
			}
			copy(values.Item(i), buf.values[rootIdx])
			copy(derivs.Item(i), buf.grads[rootIdx])
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return values, derivs, nil
}

// ensureGrads sizes the per-node derivative buffers for m derivative
// directions, reusing the buffers of previous calls when the direction count
// matches. Stale contents don't leak: every needed node is fully overwritten
// before it is read.
func (buf *execBuffers) ensureGrads(nodes []*Node, m int) {
	if buf.gradDims == m {
		return
	}
	if buf.grads == nil {
		buf.grads = make([][]float64, len(nodes))
	}
	for idx, node := range nodes {
		buf.grads[idx] = make([]float64, node.shape.Size()*m)
	}
	buf.gradDims = m
}

// diffContext computes the derivative buffers of all needed nodes of the plan
// for one Context, leaves first. It requires buf.values already computed by
// evalContext for the same Context.
func (e *Evaluator) diffContext(i int, ctx *Context, buf *execBuffers, needed []bool, wrt *Node, m int) error {
	for idx, node := range e.nodes {
		if !needed[idx] {
			continue
		}
		out := buf.grads[idx]
		if node == wrt {
			// d(wrt)/d(wrt) is the identity, whatever the node computes.
			clear(out)
			for v := 0; v < m; v++ {
				out[v*m+v] = 1
			}
			continue
		}
		if wrt == nil {
			if supplied, found := ctx.suppliedGradient(node); found {
				copy(out, supplied)
				continue
			}
		}

		var err error
		switch node.opType {
		case OpConstant, OpParameter, OpDomainConstant:
			clear(out)
		case OpCoordinate:
			clear(out)
			if wrt == nil {
				if axis := node.data.(int); axis < m {
					out[axis] = 1
				}
			}
		case OpFunc:
			fn := node.data.(*funcNode)
			if wrt != nil {
				clear(out)
				break
			}
			if err = fn.deriv(ctx, out); err != nil {
				err = errors.WithMessagef(err, "derivative rule %q", fn.name)
			}
		case OpField:
			if wrt != nil {
				clear(out) // A Field other than wrt is independent of it.
				break
			}
			err = errors.Errorf("field %q has no gradients on the Context, supply them with Context.SetGradient",
				node.data.(*fieldNode).name)
		case OpBSpline:
			err = diffBSpline(node, ctx, out, m, wrt == nil)
		default:
			differ := nodeDiffers[node.opType]
			if differ == nil {
				err = errors.Errorf("node derivative for op type %s not implemented!?", node.opType)
				break
			}
			inputs := buf.inputs[:len(node.inputs)]
			inputGrads := buf.gradInputs[:len(node.inputs)]
			for ii, input := range node.inputs {
				inputIdx := e.nodeIdx[input]
				inputs[ii] = buf.values[inputIdx]
				inputGrads[ii] = buf.grads[inputIdx]
			}
			err = differ(node, inputs, inputGrads, buf.values[idx], out, m)
		}
		if err != nil {
			return &EvaluationError{Index: i, Node: node, cause: err}
		}
	}
	return nil
}

// unaryDiffer builds the differ of an elementwise unary op from its pointwise
// derivative factor: out_i' = grad(x_i, f(x_i)) * x_i'. Domain violations
// (Log at 0, ...) follow IEEE-754 like the value kernels, they don't fail the
// batch.
func unaryDiffer(grad func(x, fx float64) float64) nodeDiffer {
	return func(_ *Node, inputs, inputGrads [][]float64, value, out []float64, m int) error {
		x, dx := inputs[0], inputGrads[0]
		for i, xi := range x {
			factor := grad(xi, value[i])
			for k := 0; k < m; k++ {
				out[i*m+k] = factor * dx[i*m+k]
			}
		}
		return nil
	}
}

// binaryDiffer builds the differ of an elementwise binary op from its
// pointwise linearization, with the same scalar broadcast as the value
// kernels.
func binaryDiffer(grad func(a, b, da, db float64) float64) nodeDiffer {
	return func(_ *Node, inputs, inputGrads [][]float64, _, out []float64, m int) error {
		lhs, rhs := inputs[0], inputs[1]
		dlhs, drhs := inputGrads[0], inputGrads[1]
		n := len(out) / m
		for i := 0; i < n; i++ {
			ai, bi := i, i
			if len(lhs) == 1 {
				ai = 0
			}
			if len(rhs) == 1 {
				bi = 0
			}
			a, b := lhs[ai], rhs[bi]
			for k := 0; k < m; k++ {
				out[i*m+k] = grad(a, b, dlhs[ai*m+k], drhs[bi*m+k])
			}
		}
		return nil
	}
}

// diffIfPos picks the derivative of the branch the condition selects. The
// condition contributes nothing: the selection is piecewise constant.
func diffIfPos(_ *Node, inputs, inputGrads [][]float64, _, out []float64, m int) error {
	chosen := inputGrads[1]
	if inputs[0][0] <= 0 {
		chosen = inputGrads[2]
	}
	if len(chosen) == len(out) {
		copy(out, chosen)
		return nil
	}
	// Scalar branch broadcast over the output shape.
	n := len(out) / m
	for i := 0; i < n; i++ {
		copy(out[i*m:(i+1)*m], chosen[:m])
	}
	return nil
}

func diffComponent(node *Node, _, inputGrads [][]float64, _, out []float64, m int) error {
	flat := node.data.(*componentNode).flat
	copy(out, inputGrads[0][flat*m:(flat+1)*m])
	return nil
}

// diffMatMul applies the product rule (A B)' = A' B + A B'. The operand
// combinations of matMulShape are normalized to a [p,q]x[q,c] product, with
// vectors as single-row or single-column matrices.
func diffMatMul(node *Node, inputs, inputGrads [][]float64, _, out []float64, m int) error {
	lhsShape, rhsShape := node.inputs[0].shape, node.inputs[1].shape
	var p, q, c int
	switch {
	case lhsShape.IsMatrix() && rhsShape.IsMatrix():
		p, q, c = lhsShape.Dim(0), lhsShape.Dim(1), rhsShape.Dim(1)
	case lhsShape.IsMatrix(): // matrix x vector
		p, q, c = lhsShape.Dim(0), lhsShape.Dim(1), 1
	default: // vector x matrix
		p, q, c = 1, lhsShape.Dim(0), rhsShape.Dim(1)
	}
	a, b := inputs[0], inputs[1]
	da, db := inputGrads[0], inputGrads[1]
	for i := 0; i < p; i++ {
		for j := 0; j < c; j++ {
			base := (i*c + j) * m
			for k := 0; k < m; k++ {
				var sum float64
				for l := 0; l < q; l++ {
					sum += da[(i*q+l)*m+k]*b[l*c+j] + a[i*q+l]*db[(l*c+j)*m+k]
				}
				out[base+k] = sum
			}
		}
	}
	return nil
}

func diffTranspose(node *Node, _, inputGrads [][]float64, _, out []float64, m int) error {
	rows, cols := node.inputs[0].shape.Dim(0), node.inputs[0].shape.Dim(1)
	din := inputGrads[0]
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			copy(out[(j*rows+i)*m:(j*rows+i+1)*m], din[(i*cols+j)*m:(i*cols+j+1)*m])
		}
	}
	return nil
}

func diffTrace(node *Node, _, inputGrads [][]float64, _, out []float64, m int) error {
	n := node.inputs[0].shape.Dim(0)
	din := inputGrads[0]
	clear(out)
	for i := 0; i < n; i++ {
		base := (i*n + i) * m
		for k := 0; k < m; k++ {
			out[k] += din[base+k]
		}
	}
	return nil
}

// diffInverse applies (A^-1)' = -A^-1 A' A^-1, reusing the already computed
// value of the node as A^-1.
func diffInverse(node *Node, _, inputGrads [][]float64, value, out []float64, m int) error {
	n := node.shape.Dim(0)
	din := inputGrads[0]
	inv := value
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			base := (i*n + j) * m
			for k := 0; k < m; k++ {
				var sum float64
				for a := 0; a < n; a++ {
					for b := 0; b < n; b++ {
						sum += inv[i*n+a] * din[(a*n+b)*m+k] * inv[b*n+j]
					}
				}
				out[base+k] = -sum
			}
		}
	}
	return nil
}

// diffDet applies Jacobi's formula det' = det * tr(A^-1 A'), so the
// derivative of Det needs the operand to be invertible even though its value
// does not.
func diffDet(node *Node, inputs, inputGrads [][]float64, value, out []float64, m int) error {
	n := node.inputs[0].shape.Dim(0)
	var inv mat.Dense
	if err := inv.Inverse(denseOf(node.inputs[0].shape, inputs[0])); err != nil {
		return errors.WithMessage(err, "derivative of Det takes the inverse of the matrix")
	}
	din := inputGrads[0]
	det := value[0]
	for k := 0; k < m; k++ {
		var trace float64
		for a := 0; a < n; a++ {
			for b := 0; b < n; b++ {
				trace += inv.At(a, b) * din[(b*n+a)*m+k]
			}
		}
		out[k] = det * trace
	}
	return nil
}

func diffInnerProduct(_ *Node, inputs, inputGrads [][]float64, _, out []float64, m int) error {
	a, b := inputs[0], inputs[1]
	da, db := inputGrads[0], inputGrads[1]
	clear(out)
	for i := range a {
		for k := 0; k < m; k++ {
			out[k] += da[i*m+k]*b[i] + a[i]*db[i*m+k]
		}
	}
	return nil
}
