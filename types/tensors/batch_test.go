// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/coefficients/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch(t *testing.T) {
	vec3 := shapes.Make(dtypes.Float64, 3)
	b := FromShape(vec3, 4)
	require.Equal(t, 4, b.NumItems())
	require.Equal(t, 3, b.ItemSize())
	require.True(t, b.Shape().Equal(vec3))
	require.Len(t, b.Flat(), 12)

	// Items are views: writes through them land in the flat data.
	copy(b.Item(2), []float64{1, 2, 3})
	assert.Equal(t, 2.0, b.Value(2, 1))
	assert.Equal(t, 0.0, b.Value(1, 1))
	require.Panics(t, func() { b.Item(4) })
	require.Panics(t, func() { b.Scalar(0) })

	scalars := FromScalars(1, 1.5, 2)
	require.Equal(t, 3, scalars.NumItems())
	assert.Equal(t, 1.5, scalars.Scalar(1))
	assert.Equal(t, 1.5, scalars.Value(1))
}

func TestBatchFromFlatData(t *testing.T) {
	mat := shapes.Make(dtypes.Float64, 2, 2)
	b := FromFlatData(mat, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	assert.Equal(t, 4.0, b.Value(0, 1, 1))
	assert.Equal(t, 7.0, b.Value(1, 1, 0))
	require.Panics(t, func() {
		FromFlatData(mat, 2, []float64{1, 2, 3})
	})
}

func TestBatchInDelta(t *testing.T) {
	a := FromScalars(1, 2, 3)
	b := FromScalars(1, 2, 3.0001)
	require.True(t, a.InDelta(b, 1e-3))
	require.False(t, a.InDelta(b, 1e-6))
	require.False(t, a.Equal(b))
	require.True(t, a.Equal(a.Clone()))
	require.False(t, a.InDelta(FromScalars(1, 2), 1))
	require.False(t, a.InDelta(nil, 1))
}

func TestBatchString(t *testing.T) {
	b := FromScalars(1, 1.5, 2)
	assert.Equal(t, "batch[3](Float64): 1 1.5 2", b.String())

	vec := FromFlatData(shapes.Make(dtypes.Float64, 2), 2, []float64{1, 2, 3, 4})
	assert.Equal(t, "batch[2](Float64)[2]: [1 2] [3 4]", vec.String())
}
