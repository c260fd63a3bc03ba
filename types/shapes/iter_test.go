// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape_Iter(t *testing.T) {
	// Version 1: a scalar yields exactly one (empty) set of indices.
	shape := Make(dtypes.F64)
	collect := make([][]int, 0, shape.Size())
	for indices := range shape.Iter() {
		collect = append(collect, slices.Clone(indices))
	}
	require.Equal(t, [][]int{{}}, collect)

	// Version 2: all axes with dim > 1.
	shape = Make(dtypes.F64, 3, 2)
	collect = make([][]int, 0, shape.Size())
	for indices := range shape.Iter() {
		collect = append(collect, slices.Clone(indices))
	}
	want := [][]int{
		{0, 0},
		{0, 1},
		{1, 0},
		{1, 1},
		{2, 0},
		{2, 1},
	}
	require.Equal(t, want, collect)

	// Version 3: axes with dimension 1 interleaved.
	shape = Make(dtypes.F64, 3, 1, 2, 1)
	collect = make([][]int, 0, shape.Size())
	for indices := range shape.Iter() {
		collect = append(collect, slices.Clone(indices))
	}
	want = [][]int{
		{0, 0, 0, 0},
		{0, 0, 1, 0},
		{1, 0, 0, 0},
		{1, 0, 1, 0},
		{2, 0, 0, 0},
		{2, 0, 1, 0},
	}
	require.Equal(t, want, collect)
}

func TestShape_FlatIndex(t *testing.T) {
	shape := Make(dtypes.F64, 3, 2)
	require.Equal(t, 0, shape.FlatIndex(0, 0))
	require.Equal(t, 1, shape.FlatIndex(0, 1))
	require.Equal(t, 4, shape.FlatIndex(2, 0))
	require.Equal(t, 5, shape.FlatIndex(2, 1))
	require.Equal(t, 0, Make(dtypes.F64).FlatIndex())
	require.Panics(t, func() { shape.FlatIndex(0) })
	require.Panics(t, func() { shape.FlatIndex(3, 0) })

	// Iter and FlatIndex agree on ordering.
	flat := 0
	for indices := range shape.Iter() {
		require.Equal(t, flat, shape.FlatIndex(indices...))
		flat++
	}
}
