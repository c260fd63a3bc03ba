// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"math"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/coefficients/cf"
	"github.com/gomlx/coefficients/types/shapes"
)

func TestIntegrate1D(t *testing.T) {
	m := NewUnitInterval(8)

	got, err := Integrate(cf.Const(1), m, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-14)

	got, err = Integrate(cf.AddScalar(cf.X(), 1), m, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got, 1e-14)

	// Two Gauss points are exact for quadratics.
	got, err = Integrate(cf.Square(cf.X()), m, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, got, 1e-14)

	stretched := NewInterval(-1, 3, 5)
	got, err = Integrate(cf.Const(2), stretched, 1)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, got, 1e-13)
}

func TestIntegrate2D(t *testing.T) {
	m := NewUnitSquare(4)

	got, err := Integrate(cf.Const(1), m, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-13)

	got, err = Integrate(cf.AddScalar(cf.X(), 1), m, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got, 1e-13)

	got, err = Integrate(cf.Mul(cf.X(), cf.Y()), m, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got, 1e-13)

	rect := NewRectangle(1, 2, 3, 5, 3, 3)
	got, err = Integrate(cf.Const(1), rect, 1)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, got, 1e-12)

	// Non-polynomial integrand: quadrature converges on a fine-enough mesh.
	sines := cf.Mul(cf.Sin(cf.MulScalar(cf.X(), math.Pi)), cf.Sin(cf.MulScalar(cf.Y(), math.Pi)))
	got, err = Integrate(sines, NewUnitSquare(8), 4)
	require.NoError(t, err)
	want := 4 / (math.Pi * math.Pi)
	assert.InDelta(t, want, got, 1e-6)
}

func TestIntegrateRegions(t *testing.T) {
	m := NewUnitInterval(4)
	m.SetRegions(func(center []float64) int {
		if center[0] < 0.5 {
			return 0
		}
		return 1
	})
	kappa := cf.DomainConstant(map[int]float64{0: 2, 1: 5})

	got, err := Integrate(kappa, m, 1)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, got, 1e-14)

	got, err = Integrate(kappa, m, 1, WithRegion(0))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-14)

	got, err = Integrate(kappa, m, 1, WithRegion(1))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got, 1e-14)

	// No elements in region 9: the integral is empty.
	got, err = Integrate(kappa, m, 1, WithRegion(9))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	// The per-region split adds up to the whole.
	totals, err := IntegrateByRegion(kappa, m, 1)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.InDelta(t, 1.0, totals[0], 1e-14)
	assert.InDelta(t, 2.5, totals[1], 1e-14)
}

func TestIntegrateEvalOptions(t *testing.T) {
	m := NewUnitInterval(4)
	kappa := cf.Parameter("kappa", 1)
	f := cf.Mul(kappa, cf.X())

	got, err := Integrate(f, m, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-14)

	got, err = Integrate(f, m, 2, WithEvalOptions(cf.WithParameter(kappa, 3)))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got, 1e-14)
}

func TestIntegrateParallel(t *testing.T) {
	m := NewUnitSquare(8)
	f := cf.Mul(cf.X(), cf.Y())

	sequential, err := Integrate(f, m, 3)
	require.NoError(t, err)
	parallel, err := Integrate(f, m, 3, WithWorkers(4))
	require.NoError(t, err)
	assert.InDelta(t, sequential, parallel, 1e-12)
	assert.InDelta(t, 0.25, parallel, 1e-12)

	// More workers than elements.
	small := NewUnitInterval(3)
	got, err := Integrate(cf.X(), small, 2, WithWorkers(64))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-14)
}

func TestIntegrateErrors(t *testing.T) {
	m := NewUnitInterval(4)

	err := exceptions.TryCatch[error](func() { _, _ = Integrate(cf.ConstVector(1, 2), m, 2) })
	require.ErrorIs(t, err, cf.ErrShapeMismatch)
	require.Panics(t, func() { _, _ = Integrate(nil, m, 2) })

	// A Field with no supplied values fails evaluation.
	u := cf.Field("u", shapes.Scalar[float64]())
	_, err = Integrate(u, m, 2)
	require.ErrorIs(t, err, cf.ErrEvaluation)
	var evalErr *cf.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, 0, evalErr.Index)
	assert.Contains(t, err.Error(), `field "u"`)

	_, err = Integrate(u, m, 2, WithWorkers(4))
	require.ErrorIs(t, err, cf.ErrEvaluation)

	_, err = IntegrateByRegion(u, m, 2)
	require.ErrorIs(t, err, cf.ErrEvaluation)
	require.Panics(t, func() { _, _ = IntegrateByRegion(nil, m, 2) })
}
