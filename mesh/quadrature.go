// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/integrate/quad"
)

// QuadRule is a quadrature rule on the reference element: points in
// reference coordinates with matching weights. The weights sum to the
// reference measure, 1 for the unit segment and 1/2 for the unit triangle.
type QuadRule struct {
	Dim     int
	Points  [][]float64
	Weights []float64
}

// NumPoints returns the number of quadrature points.
func (r QuadRule) NumPoints() int { return len(r.Weights) }

// GaussRule returns a Gauss-Legendre rule on the reference element with n
// points per axis: exact for 1-D polynomials up to degree 2n-1. Triangle
// rules collapse the tensor-product rule onto the unit triangle, so they use
// n^2 points.
func GaussRule(dim, n int) QuadRule {
	if n < 1 {
		exceptions.Panicf("mesh.GaussRule: need at least 1 point per axis, got %d", n)
	}
	x := make([]float64, n)
	w := make([]float64, n)
	quad.Legendre{}.FixedLocations(x, w, 0, 1)
	switch dim {
	case 1:
		rule := QuadRule{Dim: 1, Points: make([][]float64, n), Weights: w}
		for i, xi := range x {
			rule.Points[i] = []float64{xi}
		}
		return rule
	case 2:
		// Duffy map (u, v) -> (u, v·(1-u)) collapses [0,1]^2 onto the unit
		// triangle with Jacobian 1-u.
		rule := QuadRule{
			Dim:     2,
			Points:  make([][]float64, 0, n*n),
			Weights: make([]float64, 0, n*n),
		}
		for i, u := range x {
			for j, v := range x {
				rule.Points = append(rule.Points, []float64{u, v * (1 - u)})
				rule.Weights = append(rule.Weights, w[i]*w[j]*(1-u))
			}
		}
		return rule
	default:
		exceptions.Panicf("mesh.GaussRule: dimension must be 1 or 2, got %d", dim)
		panic("unreachable")
	}
}
