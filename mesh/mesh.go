// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mesh provides small simplicial meshes -- segments in 1-D,
// triangles in 2-D -- as evaluation domains for coefficient functions:
// it turns elements and Gauss quadrature rules into batches of evaluation
// contexts (see ElementContexts) and integrates scalar coefficients over the
// domain (see Integrate).
//
// It is deliberately minimal: structured constructors only (NewUnitInterval,
// NewRectangle), no file import, no adaptivity. Elements are affine, so each
// has a constant Jacobian, see Transform.
package mesh

import (
	"github.com/gomlx/exceptions"
)

// Mesh is an immutable-after-setup simplicial mesh: segments in 1-D or
// triangles in 2-D, each element tagged with a region (material) id.
//
// Like coefficient expressions, a Mesh is built in a single-threaded setup
// phase (constructor plus SetRegion calls) and frozen afterwards: concurrent
// reads need no locking.
type Mesh struct {
	dim      int
	vertices [][]float64
	elements [][]int
	regions  []int
}

// verticesPerElement for the mesh dimension: segments or triangles.
func verticesPerElement(dim int) int { return dim + 1 }

// NewUnitInterval returns a 1-D mesh of the unit interval [0, 1] split into
// numElements equal segments.
func NewUnitInterval(numElements int) *Mesh {
	return NewInterval(0, 1, numElements)
}

// NewInterval returns a 1-D mesh of [x0, x1] split into numElements equal
// segments.
func NewInterval(x0, x1 float64, numElements int) *Mesh {
	if numElements < 1 {
		exceptions.Panicf("mesh.NewInterval: numElements must be >= 1, got %d", numElements)
	}
	if x1 <= x0 {
		exceptions.Panicf("mesh.NewInterval: empty interval [%g, %g]", x0, x1)
	}
	m := &Mesh{
		dim:      1,
		vertices: make([][]float64, numElements+1),
		elements: make([][]int, numElements),
		regions:  make([]int, numElements),
	}
	h := (x1 - x0) / float64(numElements)
	for i := range m.vertices {
		m.vertices[i] = []float64{x0 + float64(i)*h}
	}
	m.vertices[numElements][0] = x1 // Exact right endpoint.
	for e := range m.elements {
		m.elements[e] = []int{e, e + 1}
	}
	return m
}

// NewUnitSquare returns a 2-D triangulation of the unit square [0, 1]^2 with
// n x n grid cells, each split into two triangles.
func NewUnitSquare(n int) *Mesh {
	return NewRectangle(0, 0, 1, 1, n, n)
}

// NewRectangle returns a 2-D triangulation of the rectangle
// [x0, x1] x [y0, y1] with nx x ny grid cells, each split into two
// positively oriented triangles.
func NewRectangle(x0, y0, x1, y1 float64, nx, ny int) *Mesh {
	if nx < 1 || ny < 1 {
		exceptions.Panicf("mesh.NewRectangle: grid must have at least 1x1 cells, got %dx%d", nx, ny)
	}
	if x1 <= x0 || y1 <= y0 {
		exceptions.Panicf("mesh.NewRectangle: empty rectangle [%g, %g] x [%g, %g]", x0, x1, y0, y1)
	}
	m := &Mesh{
		dim:      2,
		vertices: make([][]float64, (nx+1)*(ny+1)),
		elements: make([][]int, 0, 2*nx*ny),
	}
	hx := (x1 - x0) / float64(nx)
	hy := (y1 - y0) / float64(ny)
	vertex := func(i, j int) int { return j*(nx+1) + i }
	for j := 0; j <= ny; j++ {
		y := y0 + float64(j)*hy
		if j == ny {
			y = y1
		}
		for i := 0; i <= nx; i++ {
			x := x0 + float64(i)*hx
			if i == nx {
				x = x1
			}
			m.vertices[vertex(i, j)] = []float64{x, y}
		}
	}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			v00, v10 := vertex(i, j), vertex(i+1, j)
			v01, v11 := vertex(i, j+1), vertex(i+1, j+1)
			m.elements = append(m.elements,
				[]int{v00, v10, v11},
				[]int{v00, v11, v01})
		}
	}
	m.regions = make([]int, len(m.elements))
	return m
}

// Dim returns the spatial dimension of the mesh, 1 or 2.
func (m *Mesh) Dim() int { return m.dim }

// NumVertices returns the number of vertices.
func (m *Mesh) NumVertices() int { return len(m.vertices) }

// Vertex returns the coordinates of vertex v. The returned slice is owned by
// the mesh, don't modify it.
func (m *Mesh) Vertex(v int) []float64 {
	if v < 0 || v >= len(m.vertices) {
		exceptions.Panicf("mesh.Vertex: vertex %d out of range, mesh has %d", v, len(m.vertices))
	}
	return m.vertices[v]
}

// NumElements returns the number of elements.
func (m *Mesh) NumElements() int { return len(m.elements) }

// ElementVertices returns the vertex indices of element e: 2 for segments,
// 3 for triangles. The returned slice is owned by the mesh.
func (m *Mesh) ElementVertices(e int) []int {
	m.checkElement("ElementVertices", e)
	return m.elements[e]
}

// Region returns the region (material) id of element e. Freshly built meshes
// have every element in region 0.
func (m *Mesh) Region(e int) int {
	m.checkElement("Region", e)
	return m.regions[e]
}

// SetRegion tags element e with a region (material) id. Part of the
// single-threaded mesh setup.
func (m *Mesh) SetRegion(e, region int) {
	m.checkElement("SetRegion", e)
	m.regions[e] = region
}

// SetRegions tags every element with the region returned by classify for the
// element centroid. Part of the single-threaded mesh setup.
func (m *Mesh) SetRegions(classify func(center []float64) int) {
	for e := range m.elements {
		m.regions[e] = classify(m.Centroid(e))
	}
}

// Centroid returns the centroid of element e, as a fresh slice.
func (m *Mesh) Centroid(e int) []float64 {
	m.checkElement("Centroid", e)
	center := make([]float64, m.dim)
	for _, v := range m.elements[e] {
		for k, x := range m.vertices[v] {
			center[k] += x
		}
	}
	for k := range center {
		center[k] /= float64(len(m.elements[e]))
	}
	return center
}

func (m *Mesh) checkElement(opName string, e int) {
	if e < 0 || e >= len(m.elements) {
		exceptions.Panicf("mesh.%s: element %d out of range, mesh has %d", opName, e, len(m.elements))
	}
}
