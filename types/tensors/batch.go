// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Batch, the container holding the values produced
// by evaluating a coefficient function over a batch of evaluation contexts.
//
// A Batch holds N items that all share one item shape (see shapes package),
// stored contiguously in a flat []float64, row-major within each item. Batches
// are plain local memory: there is no device storage and no synchronization,
// so a Batch must not be mutated while shared between goroutines.
package tensors

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/coefficients/types/shapes"
	"github.com/gomlx/coefficients/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Batch holds the evaluated values of one coefficient function over a batch of
// evaluation contexts: NumItems() items, each with ItemShape().
//
// Use FromShape, FromFlatData or FromScalars to create one.
type Batch struct {
	itemShape shapes.Shape
	numItems  int
	flat      []float64
}

// FromShape returns a Batch of numItems items of the given shape, with the
// data initialized with zeros.
func FromShape(itemShape shapes.Shape, numItems int) *Batch {
	if !itemShape.Ok() {
		exceptions.Panicf("tensors.FromShape: invalid item shape")
	}
	if itemShape.DType != dtypes.Float64 {
		exceptions.Panicf("tensors.FromShape: item shape must be Float64, got %s", itemShape)
	}
	if numItems < 0 {
		exceptions.Panicf("tensors.FromShape(%s, %d): negative number of items", itemShape, numItems)
	}
	return &Batch{
		itemShape: itemShape.Clone(),
		numItems:  numItems,
		flat:      make([]float64, numItems*itemShape.Size()),
	}
}

// FromFlatData creates a Batch with the given item shape, filled with the
// flattened values given in data. The data is copied to the Batch.
func FromFlatData(itemShape shapes.Shape, numItems int, data []float64) *Batch {
	if len(data) != numItems*itemShape.Size() {
		exceptions.Panicf("tensors.FromFlatData(%s, %d items): data size is %d, but %d values are needed",
			itemShape, numItems, len(data), numItems*itemShape.Size())
	}
	b := FromShape(itemShape, numItems)
	copy(b.flat, data)
	return b
}

// FromScalars creates a Batch of scalar items, one per value given.
func FromScalars(values ...float64) *Batch {
	return FromFlatData(shapes.Scalar[float64](), len(values), values)
}

// ItemShape returns the shape shared by every item of the batch.
func (b *Batch) ItemShape() shapes.Shape { return b.itemShape }

// Shape returns the item shape; it implements shapes.HasShape.
func (b *Batch) Shape() shapes.Shape { return b.itemShape }

// NumItems returns the number of items in the batch.
func (b *Batch) NumItems() int { return b.numItems }

// ItemSize returns the number of float64 values in one item.
func (b *Batch) ItemSize() int { return b.itemShape.Size() }

// Flat returns the underlying flat data, all items concatenated in order.
// The slice is owned by the Batch: don't resize it.
func (b *Batch) Flat() []float64 { return b.flat }

// Item returns the flat values of item i, a view on the underlying data.
// Like slice indexing, it panics if i is out-of-range.
func (b *Batch) Item(i int) []float64 {
	if i < 0 || i >= b.numItems {
		exceptions.Panicf("Batch.Item(%d): out-of-range for batch of %d items", i, b.numItems)
	}
	size := b.ItemSize()
	return b.flat[i*size : (i+1)*size]
}

// Value returns one element of item i, addressed by one index per axis of the
// item shape. For scalar items call it as Value(i).
func (b *Batch) Value(i int, indices ...int) float64 {
	return b.Item(i)[b.itemShape.FlatIndex(indices...)]
}

// Scalar returns the value of scalar item i. It panics if the item shape is
// not a scalar.
func (b *Batch) Scalar(i int) float64 {
	b.itemShape.AssertScalar()
	return b.Item(i)[0]
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	return &Batch{
		itemShape: b.itemShape.Clone(),
		numItems:  b.numItems,
		flat:      xslices.Copy(b.flat),
	}
}

// Equal returns whether two batches have the same item shape, the same number
// of items and exactly the same values.
func (b *Batch) Equal(other *Batch) bool {
	return b.InDelta(other, 0)
}

// InDelta returns whether two batches have the same item shape, the same
// number of items, and every pair of values within delta of each other.
// If delta <= 0 it checks for exact equality.
func (b *Batch) InDelta(other *Batch, delta float64) bool {
	if other == nil || !b.itemShape.Equal(other.itemShape) || b.numItems != other.numItems {
		return false
	}
	for ii, v := range b.flat {
		o := other.flat[ii]
		if v == o {
			continue
		}
		if delta <= 0 || math.Abs(v-o) > delta {
			return false
		}
	}
	return true
}

// MaxSizeForString is the largest Batch that is fully printed when String() is requested.
var MaxSizeForString = 500

// String converts to string, if not too large. It uses b.Summary(precision=4).
func (b *Batch) String() string {
	return b.Summary(4)
}

// Summary prints the batch with the given precision. Batches larger than
// MaxSizeForString values print only their leading items.
func (b *Batch) Summary(precision int) string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "batch[%d]%s:", b.numItems, b.itemShape)
	size := b.ItemSize()
	printed := 0
	for i := 0; i < b.numItems; i++ {
		if printed+size > MaxSizeForString {
			_, _ = fmt.Fprintf(&sb, " ... (%d items omitted)", b.numItems-i)
			break
		}
		sb.WriteByte(' ')
		b.appendItem(&sb, i, precision)
		printed += size
	}
	return sb.String()
}

func (b *Batch) appendItem(sb *strings.Builder, i, precision int) {
	item := b.Item(i)
	if b.itemShape.IsScalar() {
		_, _ = fmt.Fprintf(sb, "%.*g", precision, item[0])
		return
	}
	sb.WriteByte('[')
	for ii, v := range item {
		if ii > 0 {
			sb.WriteByte(' ')
		}
		_, _ = fmt.Fprintf(sb, "%.*g", precision, v)
	}
	sb.WriteByte(']')
}
