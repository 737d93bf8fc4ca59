/*
Copyright (C) 2026 the hurricane-tools authors.
This file is part of hurricane-tools.

hurricane-tools is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hurricane-tools is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hurricane-tools.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package interpz interpolates model-level fields to constant pressure
// surfaces.
//
// The vertical bracketing search runs once, when the interpolator is
// created. Interpolating further fields on the same pressure array reuses
// the stored bracketing indices, so the per-field cost is a single linear
// pass. Grid points where a target level lies outside the column come
// back as NaN.
package interpz

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"

	"github.com/cycle13/hurricane-tools/met"
)

// ShapeError is returned when a field's shape does not match the
// pressure array the interpolator was built on.
type ShapeError struct {
	Got, Want []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("interpz: field shape %v does not match the pressure shape %v", e.Got, e.Want)
}

// An Interpolator maps fields from model levels to fixed pressure
// levels over one grid. Fields are given in storage axis order
// (bottom-top × south-north × west-east) and must share the shape of the
// pressure array the Interpolator was built on.
type Interpolator struct {
	shape  []int // required field shape, storage order
	presK  *sparse.DenseArray
	levels []float64
	idx    *sparse.DenseArray
	multi  bool
}

// New creates an Interpolator with the single target level [hPa],
// searching each column of pres [hPa] for its bracketing layer up front.
// Interp results drop the vertical axis.
func New(pres *sparse.DenseArray, level float64) (*Interpolator, error) {
	in, err := build(pres)
	if err != nil {
		return nil, err
	}
	in.levels = []float64{level}
	in.idx = met.FindLevel(in.presK, level)
	return in, nil
}

// NewMulti creates an Interpolator with a sequence of target levels
// [hPa]. Interp results carry a leading axis over the levels, in the
// given order.
func NewMulti(pres *sparse.DenseArray, levels []float64) (*Interpolator, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("interpz: no target levels given")
	}
	in, err := build(pres)
	if err != nil {
		return nil, err
	}
	in.levels = append([]float64{}, levels...)
	in.idx = met.FindLevels(in.presK, in.levels)
	in.multi = true
	return in, nil
}

func build(pres *sparse.DenseArray) (*Interpolator, error) {
	if len(pres.Shape) != 3 {
		return nil, fmt.Errorf("interpz: pressure has %d dimensions; want 3", len(pres.Shape))
	}
	if pres.Shape[0] < 2 {
		return nil, fmt.Errorf("interpz: pressure has %d vertical levels; want at least 2", pres.Shape[0])
	}
	return &Interpolator{
		shape: append([]int{}, pres.Shape...),
		presK: met.Transpose(pres),
	}, nil
}

// Levels returns the target pressure levels [hPa].
func (in *Interpolator) Levels() []float64 {
	return append([]float64{}, in.levels...)
}

// Interp interpolates each field to the target level or levels, in the
// order given. Results come back in storage axis order, NaN wherever a
// target level is outside the column.
func (in *Interpolator) Interp(vars ...*sparse.DenseArray) ([]*sparse.DenseArray, error) {
	out := make([]*sparse.DenseArray, len(vars))
	for i, v := range vars {
		if !shapeEq(v.Shape, in.shape) {
			return nil, &ShapeError{Got: v.Shape, Want: in.shape}
		}
		vK := met.Transpose(v)
		var r *sparse.DenseArray
		var err error
		if in.multi {
			r, err = met.InterpLevels(vK, in.presK, in.levels, in.idx)
		} else {
			r, err = met.InterpLevel(vK, in.presK, in.levels[0], in.idx)
		}
		if err != nil {
			return nil, err
		}
		for j, id := range in.idx.Elements {
			if id == 0 {
				r.Elements[j] = math.NaN()
			}
		}
		out[i] = met.Transpose(r)
	}
	return out, nil
}

func shapeEq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
