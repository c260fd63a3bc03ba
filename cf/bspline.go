// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"github.com/gomlx/bsplines"
	"github.com/pkg/errors"

	"github.com/gomlx/coefficients/types/shapes"
	"github.com/gomlx/coefficients/types/xslices"
)

// bsplineNode data for OpBSpline.
type bsplineNode struct {
	axis  int
	value *bsplines.BSpline
	deriv *bsplines.BSpline // Nil for degree 0, whose derivative is 0.
}

func init() {
	nodeExecutors[OpBSpline] = execBSpline
}

// BSplineProfile returns a scalar coefficient evaluating a 1-D B-spline of
// one physical coordinate: a smooth profile along an axis, e.g. a material
// parameter varying with depth, fitted to measurements.
//
// The spline is clamped over the given knots, which must be non-decreasing
// and span a non-empty range, with len(knots)+degree-1 control points.
// Outside the knot range the profile extrapolates as a constant, holding the
// boundary value. Like Coordinate, an axis beyond the spatial dimension of
// the evaluation Context reads as 0.
//
// The profile is differentiable: its spatial derivative is the B-spline of
// one degree lower given by the classic control-point differences, and zero
// outside the knot range.
func BSplineProfile(axis, degree int, knots, controlPoints []float64) *Node {
	if axis < 0 || axis >= maxSpatialDims {
		panic(errors.Wrapf(ErrInvalidShape, "BSplineProfile axis must be in [0, %d), got %d", maxSpatialDims, axis))
	}
	if degree < 0 {
		panic(errors.Wrapf(ErrInvalidShape, "BSplineProfile degree must be >= 0, got %d", degree))
	}
	if len(knots) < 2 {
		panic(errors.Wrapf(ErrInvalidShape, "BSplineProfile takes at least 2 knots, got %d", len(knots)))
	}
	for i := 1; i < len(knots); i++ {
		if knots[i] < knots[i-1] {
			panic(errors.Wrapf(ErrInvalidShape, "BSplineProfile knots must be non-decreasing, got knots[%d]=%g after knots[%d]=%g",
				i, knots[i], i-1, knots[i-1]))
		}
	}
	if xslices.Last(knots) <= knots[0] {
		panic(errors.Wrapf(ErrInvalidShape, "BSplineProfile knots must span a non-empty range, got all of them in [%g, %g]",
			knots[0], xslices.Last(knots)))
	}
	wantControl := len(knots) + degree - 1
	if len(controlPoints) != wantControl {
		panic(errors.Wrapf(ErrInvalidShape, "BSplineProfile of degree %d over %d knots takes %d control points, got %d",
			degree, len(knots), wantControl, len(controlPoints)))
	}

	knots = xslices.Copy(knots)
	controlPoints = xslices.Copy(controlPoints)
	value := bsplines.New(degree, knots).
		WithControlPoints(controlPoints).
		WithExtrapolation(bsplines.ExtrapolateConstant)
	data := &bsplineNode{axis: axis, value: value}
	if degree >= 1 {
		data.deriv = derivativeSpline(degree, knots, controlPoints, value.ExpandedKnots())
	}
	n := newNode(OpBSpline, shapes.Scalar[float64]())
	n.data = data
	return n
}

// derivativeSpline builds the B-spline evaluating the derivative of a clamped
// B-spline of the given degree, knots and control points: one degree lower,
// over the same knots, with control points
//
//	q[i] = degree * (c[i+1] - c[i]) / (t[i+degree+1] - t[i+1])
//
// where t is the expanded (clamped) knot vector. Zero-length knot spans
// contribute zero. Extrapolation is zero: the constant extrapolation of the
// value has derivative 0 outside the knot range.
func derivativeSpline(degree int, knots, controlPoints, expanded []float64) *bsplines.BSpline {
	q := make([]float64, len(controlPoints)-1)
	for i := range q {
		span := expanded[i+degree+1] - expanded[i+1]
		if span > 0 {
			q[i] = float64(degree) * (controlPoints[i+1] - controlPoints[i]) / span
		}
	}
	return bsplines.New(degree-1, knots).
		WithControlPoints(q).
		WithExtrapolation(bsplines.ExtrapolateZero)
}

func execBSpline(node *Node, ctx *Context, _ *evalOptions, _ [][]float64, out []float64) error {
	data := node.data.(*bsplineNode)
	out[0] = data.value.Evaluate(ctx.Coord(data.axis))
	return nil
}

// diffBSpline fills the derivative buffer of a BSplineProfile node: in
// spatial mode the chain rule puts the derivative of the profile on its axis
// and 0 on the others; for EvaluateDiff the profile is a function of geometry
// only, so the derivative is all zeros.
func diffBSpline(node *Node, ctx *Context, out []float64, m int, spatial bool) error {
	clear(out)
	if !spatial {
		return nil
	}
	data := node.data.(*bsplineNode)
	if data.deriv == nil || data.axis >= m {
		// Degree 0, or the profile axis reads as the constant 0 on this
		// domain: either way the derivative is 0.
		return nil
	}
	out[data.axis] = data.deriv.Evaluate(ctx.Coord(data.axis))
	return nil
}
