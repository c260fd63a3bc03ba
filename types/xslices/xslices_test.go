// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopy(t *testing.T) {
	s := []float64{1, 2, 4}
	s2 := Copy(s)
	require.Equal(t, s, s2)
	s2[0] = 7
	assert.Equal(t, 1.0, s[0])
	assert.Nil(t, Copy([]int(nil)))
}

func TestIotaAndMap(t *testing.T) {
	in := Iota(1.0, 3)
	assert.Equal(t, []float64{1, 2, 3}, in)
	out := Map(in, func(v float64) float64 { return 2 * v })
	assert.Equal(t, []float64{2, 4, 6}, out)
}

func TestAtAndLast(t *testing.T) {
	s := []int{1, 3, 5, 7}
	assert.Equal(t, 1, At(s, 0))
	assert.Equal(t, 5, At(s, -2))
	assert.Equal(t, 7, Last(s))
}

func TestFillSlice(t *testing.T) {
	s := make([]float64, 7)
	FillSlice(s, 3.5)
	for _, v := range s {
		require.Equal(t, 3.5, v)
	}
}

func TestSortedKeys(t *testing.T) {
	m := map[int]string{3: "c", 1: "a", 2: "b"}
	assert.Equal(t, []int{1, 2, 3}, SortedKeys(m))
}

func TestMinMax(t *testing.T) {
	s := []float64{3, -1, 7, 2}
	assert.Equal(t, 7.0, Max(s))
	assert.Equal(t, -1.0, Min(s))
}
