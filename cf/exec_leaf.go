// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cf

import (
	"github.com/pkg/errors"
)

func init() {
	nodeExecutors[OpConstant] = execConstant
	nodeExecutors[OpCoordinate] = execCoordinate
	nodeExecutors[OpFunc] = execFunc
	nodeExecutors[OpField] = execField
	nodeExecutors[OpParameter] = execParameter
	nodeExecutors[OpDomainConstant] = execDomainConstant
}

func execConstant(node *Node, _ *Context, _ *evalOptions, _ [][]float64, out []float64) error {
	copy(out, node.data.([]float64))
	return nil
}

func execCoordinate(node *Node, ctx *Context, _ *evalOptions, _ [][]float64, out []float64) error {
	out[0] = ctx.Coord(node.data.(int))
	return nil
}

func execFunc(node *Node, ctx *Context, _ *evalOptions, _ [][]float64, out []float64) error {
	fn := node.data.(*funcNode)
	if err := fn.eval(ctx, out); err != nil {
		return errors.WithMessagef(err, "rule %q", fn.name)
	}
	return nil
}

func execField(node *Node, _ *Context, _ *evalOptions, _ [][]float64, _ []float64) error {
	// Supplied field values short-circuit before the executor is reached, so
	// getting here means the Context didn't carry them.
	return errors.Errorf("field %q has no values on the Context, supply them with Context.SetValue", node.data.(*fieldNode).name)
}

func execParameter(node *Node, _ *Context, opts *evalOptions, _ [][]float64, out []float64) error {
	parameter := node.data.(*parameterNode)
	if value, found := opts.parameters[node]; found {
		out[0] = value
		return nil
	}
	out[0] = parameter.value
	return nil
}

func execDomainConstant(node *Node, ctx *Context, _ *evalOptions, _ [][]float64, out []float64) error {
	dc := node.data.(*domainConstantNode)
	value, found := dc.values[ctx.Region]
	if !found {
		return errors.Errorf("DomainConstant has no value for region %d", ctx.Region)
	}
	out[0] = value
	return nil
}
