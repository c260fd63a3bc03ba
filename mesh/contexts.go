// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"github.com/gomlx/coefficients/cf"
	"github.com/gomlx/coefficients/types/xslices"
	"github.com/gomlx/exceptions"
)

// ElementContexts builds one evaluation context per (element, quadrature
// point) pair, element-major: contexts of element e occupy positions
// e*rule.NumPoints() onwards. Each context carries the physical coordinates,
// the reference coordinates, the element id and the region id.
//
// The rule must match the mesh dimension.
func (m *Mesh) ElementContexts(rule QuadRule) []*cf.Context {
	m.checkRule("ElementContexts", rule)
	batch := make([]*cf.Context, 0, m.NumElements()*rule.NumPoints())
	for e := 0; e < m.NumElements(); e++ {
		batch = m.elementContexts(e, m.Transform(e), rule, batch)
	}
	return batch
}

// elementContexts appends the quadrature contexts of element e to dst.
func (m *Mesh) elementContexts(e int, tr *ElementTransform, rule QuadRule, dst []*cf.Context) []*cf.Context {
	for _, ref := range rule.Points {
		dst = append(dst, &cf.Context{
			X:      tr.ToPhysical(ref),
			Ref:    ref,
			ElemID: e,
			Region: m.regions[e],
		})
	}
	return dst
}

// CenterContexts builds one evaluation context per element, at its centroid.
func (m *Mesh) CenterContexts() []*cf.Context {
	batch := make([]*cf.Context, m.NumElements())
	for e := range batch {
		batch[e] = &cf.Context{
			X:      m.Centroid(e),
			ElemID: e,
			Region: m.regions[e],
		}
	}
	return batch
}

// VertexContexts builds one evaluation context per mesh vertex. Vertices are
// shared between elements, so the contexts carry no element or region id.
func (m *Mesh) VertexContexts() []*cf.Context {
	return xslices.Map(m.vertices, func(x []float64) *cf.Context {
		return &cf.Context{X: x, ElemID: cf.NoElement}
	})
}

func (m *Mesh) checkRule(opName string, rule QuadRule) {
	if rule.Dim != m.dim {
		exceptions.Panicf("mesh.%s: %d-D rule on a %d-D mesh", opName, rule.Dim, m.dim)
	}
}
