// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Context describes one evaluation point of a coefficient function: its
// physical coordinates, optionally the reference-element coordinates and the
// owning mesh element, plus values the caller supplies for Field nodes.
//
// Contexts are created per Evaluate call (one per point of the batch) and
// discarded afterwards; they carry no state between calls. A Context must not
// be shared between concurrent Evaluate calls if SetValue/SetGradient are
// still being called on it.
type Context struct {
	// X are the physical coordinates of the evaluation point. Its length is
	// the spatial dimension, 1 to 3.
	X []float64

	// Ref are the reference-element coordinates the point was mapped from.
	// Empty when the point was not produced by an element transformation.
	Ref []float64

	// ElemID is the mesh element owning the point, or NoElement.
	ElemID int

	// Region is the region (material) id of the owning element. It selects
	// the value of DomainConstant coefficients.
	Region int

	// values and grads hold caller supplied per-node data, see SetValue and
	// SetGradient. Lazily allocated.
	values map[*Node][]float64
	grads  map[*Node][]float64
}

// NoElement marks a Context not attached to any mesh element.
const NoElement = -1

// NewContext returns a Context for a free point with the given physical
// coordinates, not attached to any element.
func NewContext(x ...float64) *Context {
	if len(x) == 0 || len(x) > maxSpatialDims {
		exceptions.Panicf("cf.NewContext: point must have 1 to %d coordinates, got %d", maxSpatialDims, len(x))
	}
	return &Context{X: x, ElemID: NoElement}
}

// PointContexts builds one Context per point, a convenience for batches of
// free points. All points must have the same number of coordinates as far as
// the caller intends to differentiate, see Evaluator.EvaluateGradient.
func PointContexts(points ...[]float64) []*Context {
	batch := make([]*Context, len(points))
	for i, point := range points {
		batch[i] = NewContext(point...)
	}
	return batch
}

// SpatialDims returns the spatial dimension of the evaluation point.
func (c *Context) SpatialDims() int { return len(c.X) }

// Coord returns the physical coordinate of the given axis, or 0 for axes
// beyond the spatial dimension of the point.
func (c *Context) Coord(axis int) float64 {
	if axis >= len(c.X) {
		return 0
	}
	return c.X[axis]
}

// SetValue supplies the values of node at this context, short-circuiting its
// evaluation. It is how Field values reach the evaluator, and it works for
// any node whose value the caller already knows.
//
// values must have node.Shape().Size() elements (row-major). The slice is
// retained, not copied. It returns the Context for chaining.
func (c *Context) SetValue(node *Node, values ...float64) *Context {
	checkNodes("Context.SetValue", node)
	if len(values) != node.shape.Size() {
		exceptions.Panicf("Context.SetValue(%s): node needs %d values, got %d", node, node.shape.Size(), len(values))
	}
	if c.values == nil {
		c.values = make(map[*Node][]float64)
	}
	c.values[node] = values
	return c
}

// SetGradient supplies the spatial derivatives of node at this context, used
// by Evaluator.EvaluateGradient for nodes whose derivative the evaluator
// cannot compute itself (Field nodes).
//
// flatGrads must have node.Shape().Size()*SpatialDims() elements, laid out
// value-major: flatGrads[i*dims+k] is the derivative of value i along axis k.
// The slice is retained, not copied. It returns the Context for chaining.
func (c *Context) SetGradient(node *Node, flatGrads ...float64) *Context {
	checkNodes("Context.SetGradient", node)
	want := node.shape.Size() * c.SpatialDims()
	if len(flatGrads) != want {
		exceptions.Panicf("Context.SetGradient(%s): node needs %d derivative values (%d per value), got %d",
			node, want, c.SpatialDims(), len(flatGrads))
	}
	if c.grads == nil {
		c.grads = make(map[*Node][]float64)
	}
	c.grads[node] = flatGrads
	return c
}

// suppliedValue returns caller supplied values for node, if any.
func (c *Context) suppliedValue(node *Node) ([]float64, bool) {
	values, found := c.values[node]
	return values, found
}

// suppliedGradient returns caller supplied derivatives for node, if any.
func (c *Context) suppliedGradient(node *Node) ([]float64, bool) {
	grads, found := c.grads[node]
	return grads, found
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	if c.ElemID == NoElement {
		return fmt.Sprintf("Context(X=%v)", c.X)
	}
	return fmt.Sprintf("Context(X=%v, elem=%d, region=%d)", c.X, c.ElemID, c.Region)
}
