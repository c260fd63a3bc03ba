// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"math"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
)

// ElementTransform is the affine map from the reference element onto a
// physical element: x(r) = origin + J·r, with J the constant Jacobian.
//
// The reference element is the unit segment [0, 1] in 1-D and the unit
// triangle with vertices (0,0), (1,0), (0,1) in 2-D.
type ElementTransform struct {
	dim     int
	origin  []float64
	jac     *mat.Dense
	inv     *mat.Dense
	det     float64
	measure float64
}

// refMeasure is the measure of the reference element: the unit segment or
// the unit triangle.
func refMeasure(dim int) float64 {
	if dim == 1 {
		return 1
	}
	return 0.5
}

// Transform returns the affine map from the reference element onto element e.
// It panics if the element is degenerate (zero measure).
func (m *Mesh) Transform(e int) *ElementTransform {
	m.checkElement("Transform", e)
	verts := m.elements[e]
	origin := m.vertices[verts[0]]
	jac := mat.NewDense(m.dim, m.dim, nil)
	for j := 1; j < len(verts); j++ {
		for k := 0; k < m.dim; k++ {
			jac.Set(k, j-1, m.vertices[verts[j]][k]-origin[k])
		}
	}
	det := mat.Det(jac)
	if det == 0 || math.IsNaN(det) {
		exceptions.Panicf("mesh.Transform: element %d is degenerate", e)
	}
	inv := mat.NewDense(m.dim, m.dim, nil)
	if err := inv.Inverse(jac); err != nil {
		exceptions.Panicf("mesh.Transform: element %d is degenerate: %v", e, err)
	}
	return &ElementTransform{
		dim:     m.dim,
		origin:  origin,
		jac:     jac,
		inv:     inv,
		det:     det,
		measure: math.Abs(det) * refMeasure(m.dim),
	}
}

// ToPhysical maps reference coordinates to physical coordinates, returning a
// fresh slice.
func (t *ElementTransform) ToPhysical(ref []float64) []float64 {
	if len(ref) != t.dim {
		exceptions.Panicf("ElementTransform.ToPhysical: got %d reference coordinates for a %d-D element", len(ref), t.dim)
	}
	x := make([]float64, t.dim)
	for k := 0; k < t.dim; k++ {
		x[k] = t.origin[k]
		for j := 0; j < t.dim; j++ {
			x[k] += t.jac.At(k, j) * ref[j]
		}
	}
	return x
}

// ToReference maps physical coordinates back to reference coordinates,
// returning a fresh slice. Points outside the element map outside the
// reference element.
func (t *ElementTransform) ToReference(x []float64) []float64 {
	if len(x) != t.dim {
		exceptions.Panicf("ElementTransform.ToReference: got %d coordinates for a %d-D element", len(x), t.dim)
	}
	ref := make([]float64, t.dim)
	for k := 0; k < t.dim; k++ {
		for j := 0; j < t.dim; j++ {
			ref[k] += t.inv.At(k, j) * (x[j] - t.origin[j])
		}
	}
	return ref
}

// Jacobian returns the constant Jacobian matrix J of the affine map.
func (t *ElementTransform) Jacobian() mat.Matrix { return t.jac }

// InverseJacobian returns J^-1, the Jacobian of the inverse map.
func (t *ElementTransform) InverseJacobian() mat.Matrix { return t.inv }

// Det returns the determinant of the Jacobian. It is positive for positively
// oriented elements.
func (t *ElementTransform) Det() float64 { return t.det }

// Measure returns the length (1-D) or area (2-D) of the element.
func (t *ElementTransform) Measure() float64 { return t.measure }
