// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gomlx/coefficients/cf"
	"github.com/gomlx/exceptions"
)

// integrateOptions collects the optional settings of Integrate.
type integrateOptions struct {
	workers  int
	region   int
	byRegion bool
	evalOpts []cf.EvalOption
}

// IntegrateOption configures Integrate.
type IntegrateOption func(*integrateOptions)

// WithWorkers makes Integrate split the elements across n goroutines. The
// default is 1, fully sequential. Workers share one frozen evaluator, each
// with its own batch.
func WithWorkers(n int) IntegrateOption {
	return func(o *integrateOptions) { o.workers = n }
}

// WithRegion restricts the integral to the elements of one region
// (material) id.
func WithRegion(region int) IntegrateOption {
	return func(o *integrateOptions) {
		o.region = region
		o.byRegion = true
	}
}

// WithEvalOptions forwards evaluation options, e.g. cf.WithParameter, to the
// underlying Evaluate calls.
func WithEvalOptions(opts ...cf.EvalOption) IntegrateOption {
	return func(o *integrateOptions) { o.evalOpts = append(o.evalOpts, opts...) }
}

// Integrate approximates the integral of the scalar coefficient f over the
// mesh with a Gauss rule of n points per axis (see GaussRule).
//
// It panics if f is not scalar; a failed evaluation is returned as
// *cf.EvaluationError, with the failing context counted within the batch of
// the worker that hit it.
func Integrate(f *cf.Node, m *Mesh, n int, opts ...IntegrateOption) (float64, error) {
	if f == nil {
		exceptions.Panicf("mesh.Integrate: nil coefficient")
	}
	if !f.Shape().IsScalar() {
		panic(errors.Wrapf(cf.ErrShapeMismatch, "mesh.Integrate: coefficient must be scalar, got shape %s", f.Shape()))
	}
	options := integrateOptions{workers: 1}
	for _, opt := range opts {
		opt(&options)
	}

	rule := GaussRule(m.Dim(), n)
	elements := m.selectElements(options)
	ev := cf.NewEvaluator(f)
	if options.workers <= 1 || len(elements) < 2 {
		return integrateElements(ev, m, rule, elements, options.evalOpts)
	}

	workers := min(options.workers, len(elements))
	partials := make([]float64, workers)
	var group errgroup.Group
	for w := 0; w < workers; w++ {
		from := w * len(elements) / workers
		to := (w + 1) * len(elements) / workers
		group.Go(func() error {
			partial, err := integrateElements(ev, m, rule, elements[from:to], options.evalOpts)
			partials[w] = partial
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	var total float64
	for _, partial := range partials {
		total += partial
	}
	return total, nil
}

// IntegrateByRegion approximates the integral of the scalar coefficient f
// over each region of the mesh separately: the result maps every region id
// present in the mesh to the integral over its elements. Summing the map
// values gives Integrate over the whole mesh.
//
// Validation and evaluation options follow Integrate; WithRegion and
// WithWorkers are ignored, regions are integrated one after another.
func IntegrateByRegion(f *cf.Node, m *Mesh, n int, opts ...IntegrateOption) (map[int]float64, error) {
	if f == nil {
		exceptions.Panicf("mesh.IntegrateByRegion: nil coefficient")
	}
	if !f.Shape().IsScalar() {
		panic(errors.Wrapf(cf.ErrShapeMismatch, "mesh.IntegrateByRegion: coefficient must be scalar, got shape %s", f.Shape()))
	}
	options := integrateOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	rule := GaussRule(m.Dim(), n)
	byRegion := make(map[int][]int)
	for e := 0; e < m.NumElements(); e++ {
		byRegion[m.regions[e]] = append(byRegion[m.regions[e]], e)
	}
	ev := cf.NewEvaluator(f)
	totals := make(map[int]float64, len(byRegion))
	for region, elements := range byRegion {
		total, err := integrateElements(ev, m, rule, elements, options.evalOpts)
		if err != nil {
			return nil, err
		}
		totals[region] = total
	}
	return totals, nil
}

// selectElements returns the element ids to integrate over.
func (m *Mesh) selectElements(options integrateOptions) []int {
	elements := make([]int, 0, m.NumElements())
	for e := 0; e < m.NumElements(); e++ {
		if options.byRegion && m.regions[e] != options.region {
			continue
		}
		elements = append(elements, e)
	}
	return elements
}

// integrateElements evaluates f on the quadrature points of the given
// elements in one batch and accumulates the weighted sum. The quadrature
// weights live on the reference element, so each is scaled by |det J| of its
// element.
func integrateElements(ev *cf.Evaluator, m *Mesh, rule QuadRule, elements []int, evalOpts []cf.EvalOption) (float64, error) {
	if len(elements) == 0 {
		return 0, nil
	}
	batch := make([]*cf.Context, 0, len(elements)*rule.NumPoints())
	scaled := make([]float64, 0, len(elements)*rule.NumPoints())
	for _, e := range elements {
		tr := m.Transform(e)
		batch = m.elementContexts(e, tr, rule, batch)
		jacobian := math.Abs(tr.Det())
		for _, w := range rule.Weights {
			scaled = append(scaled, w*jacobian)
		}
	}
	values, err := ev.Evaluate(batch, evalOpts...)
	if err != nil {
		return 0, err
	}
	var total float64
	for i, w := range scaled {
		total += w * values.Scalar(i)
	}
	return total, nil
}
