// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBSplineProfile(t *testing.T) {
	// Degree 1 over [0, 1] with control points (0, 1) is the identity ramp.
	ramp := BSplineProfile(0, 1, []float64{0, 1}, []float64{0, 1})
	require.True(t, ramp.IsScalar())
	require.Equal(t, OpBSpline, ramp.OpType())
	require.True(t, ramp.SpatiallyDifferentiable())

	got, err := Eval(ramp, PointContexts([]float64{0}, []float64{0.25}, []float64{0.75}))
	require.NoError(t, err)
	require.InDelta(t, 0.0, got.Scalar(0), 1e-12)
	require.InDelta(t, 0.25, got.Scalar(1), 1e-12)
	require.InDelta(t, 0.75, got.Scalar(2), 1e-12)

	// Outside the knots the profile holds the boundary value.
	got, err = Eval(ramp, PointContexts([]float64{-3}, []float64{7}))
	require.NoError(t, err)
	require.Equal(t, 0.0, got.Scalar(0))
	require.Equal(t, 1.0, got.Scalar(1))

	// The spatial derivative of the ramp is 1 inside, 0 outside the knots.
	_, grads, err := NewEvaluator(ramp).EvaluateGradient(
		PointContexts([]float64{0.25}, []float64{0.75}, []float64{-3}, []float64{7}))
	require.NoError(t, err)
	require.Equal(t, []float64{1, 1, 0, 0}, grads.Flat())

	// On a 2-D domain the profile only varies along its axis.
	yProfile := BSplineProfile(1, 1, []float64{0, 1}, []float64{2, 4})
	values, grads, err := NewEvaluator(yProfile).EvaluateGradient(
		PointContexts([]float64{9, 0.5}))
	require.NoError(t, err)
	require.InDelta(t, 3.0, values.Scalar(0), 1e-12)
	require.Equal(t, []float64{0, 2}, grads.Item(0))
}

func TestBSplineProfileDerivative(t *testing.T) {
	// The derivative spline must match central finite differences of the
	// value, here for a smooth quadratic profile with an interior knot.
	knots := []float64{0, 0.5, 1}
	control := []float64{1, 3, -2, 0.5}
	profile := BSplineProfile(0, 2, knots, control)
	ev := NewEvaluator(profile)

	const h = 1e-6
	for _, x := range []float64{0.1, 0.3, 0.5, 0.77} {
		batch := PointContexts([]float64{x - h}, []float64{x + h})
		values, err := ev.Evaluate(batch)
		require.NoError(t, err)
		want := (values.Scalar(1) - values.Scalar(0)) / (2 * h)

		_, grads, err := ev.EvaluateGradient(PointContexts([]float64{x}))
		require.NoError(t, err)
		require.InDelta(t, want, grads.Value(0, 0), 1e-5, "at x=%g", x)
	}

	// Degree 0 profiles are piecewise constant with zero derivative.
	flat := BSplineProfile(0, 0, []float64{0, 1}, []float64{5})
	values, grads, err := NewEvaluator(flat).EvaluateGradient(PointContexts([]float64{0.5}))
	require.NoError(t, err)
	require.Equal(t, 5.0, values.Scalar(0))
	require.Equal(t, []float64{0}, grads.Item(0))

	// Profiles compose with the rest of the algebra, chain rule included.
	ramp := BSplineProfile(0, 1, []float64{0, 1}, []float64{0, 1})
	doubled := MulScalar(ramp, 2)
	values, grads, err = NewEvaluator(doubled).EvaluateGradient(PointContexts([]float64{0.25}))
	require.NoError(t, err)
	require.InDelta(t, 0.5, values.Scalar(0), 1e-12)
	require.InDelta(t, 2.0, grads.Value(0, 0), 1e-12)

	// A profile is geometry, so it is independent of any field.
	u := Field("u", MS(F64))
	_, diff, err := NewEvaluator(Mul(ramp, u)).EvaluateDiff(u, []*Context{
		NewContext(0.25).SetValue(u, 3),
	})
	require.NoError(t, err)
	require.InDelta(t, 0.25, diff.Scalar(0), 1e-12)
}

func TestBSplineProfileErrors(t *testing.T) {
	knots := []float64{0, 1}
	control := []float64{0, 1}

	requireConstructionError(t, ErrInvalidShape, func() { BSplineProfile(3, 1, knots, control) })
	requireConstructionError(t, ErrInvalidShape, func() { BSplineProfile(-1, 1, knots, control) })
	requireConstructionError(t, ErrInvalidShape, func() { BSplineProfile(0, -1, knots, control) })
	requireConstructionError(t, ErrInvalidShape, func() { BSplineProfile(0, 1, []float64{0}, []float64{1}) })
	requireConstructionError(t, ErrInvalidShape, func() { BSplineProfile(0, 1, []float64{1, 0}, control) })
	requireConstructionError(t, ErrInvalidShape, func() { BSplineProfile(0, 1, []float64{1, 1}, control) })
	requireConstructionError(t, ErrInvalidShape, func() {
		BSplineProfile(0, 2, knots, control) // Degree 2 over 2 knots takes 3 control points.
	})
}
