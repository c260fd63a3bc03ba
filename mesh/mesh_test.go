// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/coefficients/cf"
)

func TestMeshConstruction(t *testing.T) {
	interval := NewUnitInterval(4)
	require.Equal(t, 1, interval.Dim())
	require.Equal(t, 5, interval.NumVertices())
	require.Equal(t, 4, interval.NumElements())
	assert.Equal(t, []float64{0.5}, interval.Vertex(2))
	assert.Equal(t, []float64{1}, interval.Vertex(4))
	assert.Equal(t, []int{2, 3}, interval.ElementVertices(2))

	square := NewUnitSquare(2)
	require.Equal(t, 2, square.Dim())
	require.Equal(t, 9, square.NumVertices())
	require.Equal(t, 8, square.NumElements())
	assert.Equal(t, []float64{1, 1}, square.Vertex(8))

	rect := NewRectangle(1, 2, 3, 5, 2, 3)
	require.Equal(t, 12, rect.NumVertices())
	require.Equal(t, 12, rect.NumElements())
	assert.Equal(t, []float64{1, 2}, rect.Vertex(0))
	assert.Equal(t, []float64{3, 5}, rect.Vertex(11))

	require.Panics(t, func() { NewUnitInterval(0) })
	require.Panics(t, func() { NewInterval(1, 1, 3) })
	require.Panics(t, func() { NewRectangle(0, 0, 1, 1, 0, 2) })
	require.Panics(t, func() { NewRectangle(0, 0, 0, 1, 2, 2) })
	require.Panics(t, func() { interval.Vertex(-1) })
	require.Panics(t, func() { interval.ElementVertices(100) })
}

func TestMeshRegions(t *testing.T) {
	m := NewUnitInterval(4)
	for e := 0; e < m.NumElements(); e++ {
		require.Equal(t, 0, m.Region(e))
	}
	m.SetRegion(1, 7)
	assert.Equal(t, 7, m.Region(1))
	assert.Equal(t, 0, m.Region(0))

	// Two materials split at x=0.5, classified by element centroid.
	m.SetRegions(func(center []float64) int {
		if center[0] < 0.5 {
			return 1
		}
		return 2
	})
	assert.Equal(t, 1, m.Region(0))
	assert.Equal(t, 1, m.Region(1))
	assert.Equal(t, 2, m.Region(2))
	assert.Equal(t, 2, m.Region(3))

	require.Panics(t, func() { m.SetRegion(-1, 0) })
	require.Panics(t, func() { m.Region(4) })
}

func TestTransform(t *testing.T) {
	interval := NewInterval(2, 4, 4)
	tr := interval.Transform(1) // [2.5, 3.0]
	assert.InDelta(t, 2.5, tr.ToPhysical([]float64{0})[0], 1e-15)
	assert.InDelta(t, 3.0, tr.ToPhysical([]float64{1})[0], 1e-15)
	assert.InDelta(t, 2.75, tr.ToPhysical([]float64{0.5})[0], 1e-15)
	assert.InDelta(t, 0.5, tr.ToReference([]float64{2.75})[0], 1e-15)
	assert.InDelta(t, 0.5, tr.Det(), 1e-15)
	assert.InDelta(t, 0.5, tr.Measure(), 1e-15)

	square := NewUnitSquare(2)
	var total float64
	for e := 0; e < square.NumElements(); e++ {
		elemTr := square.Transform(e)
		assert.Greater(t, elemTr.Det(), 0.0, "element %d should be positively oriented", e)
		assert.InDelta(t, 0.125, elemTr.Measure(), 1e-15)
		total += elemTr.Measure()

		// The reference centroid maps onto the element centroid.
		center := elemTr.ToPhysical([]float64{1.0 / 3, 1.0 / 3})
		want := square.Centroid(e)
		assert.InDelta(t, want[0], center[0], 1e-15)
		assert.InDelta(t, want[1], center[1], 1e-15)

		var prod mat.Dense
		prod.Mul(elemTr.Jacobian(), elemTr.InverseJacobian())
		assert.True(t, mat.EqualApprox(&prod, eye(2), 1e-14))

		ref := elemTr.ToReference(elemTr.ToPhysical([]float64{0.2, 0.3}))
		assert.InDelta(t, 0.2, ref[0], 1e-14)
		assert.InDelta(t, 0.3, ref[1], 1e-14)
	}
	assert.InDelta(t, 1.0, total, 1e-14)

	// A collapsed triangle has no transform.
	degenerate := &Mesh{
		dim:      2,
		vertices: [][]float64{{0, 0}, {1, 0}, {2, 0}},
		elements: [][]int{{0, 1, 2}},
		regions:  []int{0},
	}
	require.Panics(t, func() { degenerate.Transform(0) })
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func TestGaussRule(t *testing.T) {
	midpoint := GaussRule(1, 1)
	require.Equal(t, 1, midpoint.NumPoints())
	assert.InDelta(t, 0.5, midpoint.Points[0][0], 1e-15)
	assert.InDelta(t, 1.0, midpoint.Weights[0], 1e-15)

	// n points are exact up to degree 2n-1: x^5 with n=3.
	rule := GaussRule(1, 3)
	var weightSum, fifth float64
	for q, w := range rule.Weights {
		weightSum += w
		fifth += w * math.Pow(rule.Points[q][0], 5)
	}
	assert.InDelta(t, 1.0, weightSum, 1e-14)
	assert.InDelta(t, 1.0/6, fifth, 1e-14)

	tri := GaussRule(2, 2)
	require.Equal(t, 4, tri.NumPoints())
	weightSum = 0
	var xy float64
	for q, w := range tri.Weights {
		x, y := tri.Points[q][0], tri.Points[q][1]
		assert.GreaterOrEqual(t, x, 0.0)
		assert.GreaterOrEqual(t, y, 0.0)
		assert.LessOrEqual(t, x+y, 1.0+1e-12)
		weightSum += w
		xy += w * x * y
	}
	assert.InDelta(t, 0.5, weightSum, 1e-14)
	assert.InDelta(t, 1.0/24, xy, 1e-14)

	require.Panics(t, func() { GaussRule(1, 0) })
	require.Panics(t, func() { GaussRule(3, 2) })
}

func TestContexts(t *testing.T) {
	m := NewInterval(0, 1, 2)
	rule := GaussRule(1, 2)
	batch := m.ElementContexts(rule)
	require.Len(t, batch, 4)
	// Element-major: contexts 2 and 3 belong to element 1, spanning [0.5, 1].
	ctx := batch[2]
	assert.Equal(t, 1, ctx.ElemID)
	assert.Equal(t, m.Region(1), ctx.Region)
	assert.Equal(t, rule.Points[0], ctx.Ref)
	assert.InDelta(t, 0.5+0.5*rule.Points[0][0], ctx.X[0], 1e-15)

	square := NewUnitSquare(1)
	centers := square.CenterContexts()
	require.Len(t, centers, 2)
	for e, c := range centers {
		assert.Equal(t, e, c.ElemID)
		assert.Equal(t, square.Centroid(e), c.X)
	}

	verts := square.VertexContexts()
	require.Len(t, verts, 4)
	for _, c := range verts {
		assert.Equal(t, cf.NoElement, c.ElemID)
	}

	require.Panics(t, func() { square.ElementContexts(rule) })
}
