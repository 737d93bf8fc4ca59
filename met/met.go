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

// Package met holds the numeric kernels used to derive diagnostic
// meteorological fields from WRF model output, together with the grid
// helpers (transposition, squeezing, de-staggering) needed to move arrays
// between the storage axis convention and the kernel axis convention.
//
// Kernels operate in kernel axis order: the storage order
// (time × bottom-top × south-north × west-east) with its axes reversed, so
// that a 3-d field has shape (nx, ny, nz) and the vertical index varies
// fastest. Kernels do not validate axis order; callers transpose with
// Transpose before and after every call.
package met

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

const (
	g  = 9.81   // m/s2
	rd = 287.04 // J/kg-K, gas constant for dry air

	// temperature kernel
	p1000mb = 100000. // Pa
	cp      = 1004.5  // J/kg-K, 7*rd/2 with rd rounded to 287

	// sea-level pressure kernel
	pconst = 10000.        // Pa, reduction is anchored this far above the surface
	tc     = 273.16 + 17.5 // K, "ridiculously hot" threshold
	gamma  = 0.0065        // K/m, standard lapse rate
)

// Tk computes temperature (K) from full pressure (Pa) and full potential
// temperature (K) for a single time step. Both inputs must have the same
// shape, in kernel axis order.
func Tk(pres, theta *sparse.DenseArray) (*sparse.DenseArray, error) {
	if !shapeEq(pres.Shape, theta.Shape) {
		return nil, fmt.Errorf("met: tk: pressure shape %v does not match potential temperature shape %v",
			pres.Shape, theta.Shape)
	}
	tk := sparse.ZerosDense(pres.Shape...)
	for i, p := range pres.Elements {
		tk.Elements[i] = theta.Elements[i] * math.Pow(p/p1000mb, rd/cp)
	}
	return tk, nil
}

// TkMultiTime is the multi-time variant of Tk. Inputs have shape
// (nx, ny, nz, nt); the temperature pointwise formula is unchanged.
func TkMultiTime(pres, theta *sparse.DenseArray) (*sparse.DenseArray, error) {
	if len(pres.Shape) != 4 {
		return nil, fmt.Errorf("met: tk: expected a 4-d multi-time pressure field, got shape %v", pres.Shape)
	}
	return Tk(pres, theta)
}

// SeaLevelPressure reduces a model column to sea level, returning sea-level
// pressure in hPa with shape (nx, ny). Inputs, all in kernel axis order with
// shape (nx, ny, nz): geopotential height z (m, de-staggered to mass
// levels), temperature tk (K), full pressure p (Pa), and water vapor mixing
// ratio q (kg/kg, non-negative).
//
// The reduction anchors at the pressure pconst (100 hPa) above the surface,
// interpolates virtual temperature and height there in log pressure,
// extrapolates surface and sea-level temperatures with the standard lapse
// rate, applies the traditional correction when those temperatures are too
// hot, and integrates the lowest half-level down to sea level.
func SeaLevelPressure(z, tk, p, q *sparse.DenseArray) (*sparse.DenseArray, error) {
	for _, a := range []*sparse.DenseArray{tk, p, q} {
		if !shapeEq(z.Shape, a.Shape) {
			return nil, fmt.Errorf("met: slp: input shapes %v and %v do not match", z.Shape, a.Shape)
		}
	}
	if len(p.Shape) != 3 {
		return nil, fmt.Errorf("met: slp: expected a 3-d pressure field, got shape %v", p.Shape)
	}
	nx, ny, nz := p.Shape[0], p.Shape[1], p.Shape[2]
	slp := sparse.ZerosDense(nx, ny)
	zcol := make([]float64, nz)
	tcol := make([]float64, nz)
	pcol := make([]float64, nz)
	qcol := make([]float64, nz)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 0; k < nz; k++ {
				zcol[k] = z.Get(i, j, k)
				tcol[k] = tk.Get(i, j, k)
				pcol[k] = p.Get(i, j, k)
				qcol[k] = q.Get(i, j, k)
			}
			v, err := slpColumn(zcol, tcol, pcol, qcol)
			if err != nil {
				return nil, fmt.Errorf("met: slp at (%d,%d): %v", i, j, err)
			}
			slp.Set(v, i, j)
		}
	}
	return slp, nil
}

// SeaLevelPressureMultiTime is the multi-time variant of SeaLevelPressure.
// Inputs have shape (nx, ny, nz, nt); output has shape (nx, ny, nt).
func SeaLevelPressureMultiTime(z, tk, p, q *sparse.DenseArray) (*sparse.DenseArray, error) {
	for _, a := range []*sparse.DenseArray{tk, p, q} {
		if !shapeEq(z.Shape, a.Shape) {
			return nil, fmt.Errorf("met: slp: input shapes %v and %v do not match", z.Shape, a.Shape)
		}
	}
	if len(p.Shape) != 4 {
		return nil, fmt.Errorf("met: slp: expected a 4-d multi-time pressure field, got shape %v", p.Shape)
	}
	nx, ny, nz, nt := p.Shape[0], p.Shape[1], p.Shape[2], p.Shape[3]
	slp := sparse.ZerosDense(nx, ny, nt)
	zcol := make([]float64, nz)
	tcol := make([]float64, nz)
	pcol := make([]float64, nz)
	qcol := make([]float64, nz)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for t := 0; t < nt; t++ {
				for k := 0; k < nz; k++ {
					zcol[k] = z.Get(i, j, k, t)
					tcol[k] = tk.Get(i, j, k, t)
					pcol[k] = p.Get(i, j, k, t)
					qcol[k] = q.Get(i, j, k, t)
				}
				v, err := slpColumn(zcol, tcol, pcol, qcol)
				if err != nil {
					return nil, fmt.Errorf("met: slp at (%d,%d) time %d: %v", i, j, t, err)
				}
				slp.Set(v, i, j, t)
			}
		}
	}
	return slp, nil
}

func slpColumn(z, t, p, q []float64) (float64, error) {
	nz := len(p)
	psfc := p[0]

	// Find the lowest level more than pconst above the surface.
	level := -1
	for k := 0; k < nz; k++ {
		if p[k] < psfc-pconst {
			level = k
			break
		}
	}
	if level == -1 {
		return 0, fmt.Errorf("no level %v Pa above the surface; column may be too shallow", pconst)
	}
	klo := level - 1
	if klo < 0 {
		klo = 0
	}
	khi := klo + 1
	if khi > nz-1 {
		khi = nz - 1
	}

	plo, phi := p[klo], p[khi]
	tlo := t[klo] * (1. + 0.608*q[klo]) // virtual temperature
	thi := t[khi] * (1. + 0.608*q[khi])
	zlo, zhi := z[klo], z[khi]

	pAtPconst := psfc - pconst
	tAtPconst := thi - (thi-tlo)*math.Log(pAtPconst/phi)/math.Log(plo/phi)
	zAtPconst := zhi - (zhi-zlo)*math.Log(pAtPconst/phi)/math.Log(plo/phi)

	tSurf := tAtPconst * math.Pow(psfc/pAtPconst, gamma*rd/g)
	tSea := tAtPconst + gamma*zAtPconst

	// Traditional correction for unrealistically hot columns.
	l1 := tSea < tc
	l2 := tSurf <= tc
	l3 := !l1
	if l2 && l3 {
		tSea = tc
	} else if !l2 && l3 {
		tSea = tc - 0.005*(tSurf-tc)*(tSurf-tc)
	}

	// hPa
	return 0.01 * psfc * math.Exp(2.*g*z[0]/(rd*(tSea+tSurf))), nil
}

// FindLevel locates, for every column of a 3-d pressure field in kernel
// axis order (nx, ny, nz), the vertical layer bracketing the target level
// from above. Indices are 1-based; valid brackets are 2..nz, and 0 is the
// sentinel for a level outside the column's pressure range. Layer 1 is
// never a bracket: the index always names the upper of the two layers the
// level falls between.
func FindLevel(pres *sparse.DenseArray, level float64) *sparse.DenseArray {
	nx, ny, nz := pres.Shape[0], pres.Shape[1], pres.Shape[2]
	idx := sparse.ZerosDense(nx, ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 1; k < nz; k++ {
				p0 := pres.Get(i, j, k-1)
				p1 := pres.Get(i, j, k)
				if (p0-level)*(p1-level) <= 0 {
					idx.Set(float64(k+1), i, j)
					break
				}
			}
		}
	}
	return idx
}

// FindLevels is the sequence variant of FindLevel: one independent search
// per requested level, returning an index field with shape (nx, ny, nlev).
func FindLevels(pres *sparse.DenseArray, levels []float64) *sparse.DenseArray {
	nx, ny, nz := pres.Shape[0], pres.Shape[1], pres.Shape[2]
	idx := sparse.ZerosDense(nx, ny, len(levels))
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for n, level := range levels {
				for k := 1; k < nz; k++ {
					p0 := pres.Get(i, j, k-1)
					p1 := pres.Get(i, j, k)
					if (p0-level)*(p1-level) <= 0 {
						idx.Set(float64(k+1), i, j, n)
						break
					}
				}
			}
		}
	}
	return idx
}

// InterpLevel linearly interpolates a 3-d variable in pressure onto one
// target level, using the bracketing-index field from FindLevel for the
// same pressure field and level. Columns whose index is the sentinel are
// left at zero; masking them is the caller's responsibility. Output shape
// is (nx, ny).
func InterpLevel(v, pres *sparse.DenseArray, level float64, idx *sparse.DenseArray) (*sparse.DenseArray, error) {
	if !shapeEq(v.Shape, pres.Shape) {
		return nil, fmt.Errorf("met: interp: variable shape %v does not match pressure shape %v",
			v.Shape, pres.Shape)
	}
	nx, ny := pres.Shape[0], pres.Shape[1]
	out := sparse.ZerosDense(nx, ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			out.Set(interpColumn(v, pres, level, int(idx.Get(i, j)), i, j), i, j)
		}
	}
	return out, nil
}

// InterpLevels is the sequence variant of InterpLevel, paired with
// FindLevels. Output shape is (nx, ny, nlev).
func InterpLevels(v, pres *sparse.DenseArray, levels []float64, idx *sparse.DenseArray) (*sparse.DenseArray, error) {
	if !shapeEq(v.Shape, pres.Shape) {
		return nil, fmt.Errorf("met: interp: variable shape %v does not match pressure shape %v",
			v.Shape, pres.Shape)
	}
	nx, ny := pres.Shape[0], pres.Shape[1]
	out := sparse.ZerosDense(nx, ny, len(levels))
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for n, level := range levels {
				out.Set(interpColumn(v, pres, level, int(idx.Get(i, j, n)), i, j), i, j, n)
			}
		}
	}
	return out, nil
}

func interpColumn(v, pres *sparse.DenseArray, level float64, idx1 int, i, j int) float64 {
	if idx1 < 2 { // sentinel
		return 0
	}
	ku := idx1 - 1 // 0-based upper bracketing layer
	kl := ku - 1
	pl := pres.Get(i, j, kl)
	pu := pres.Get(i, j, ku)
	w := (level - pl) / (pu - pl)
	return v.Get(i, j, kl) + w*(v.Get(i, j, ku)-v.Get(i, j, kl))
}

// Transpose returns a copy of a with its axis order reversed, converting
// between the storage convention and the kernel convention. It is its own
// inverse.
func Transpose(a *sparse.DenseArray) *sparse.DenseArray {
	nd := len(a.Shape)
	shape := make([]int, nd)
	for i, s := range a.Shape {
		shape[nd-1-i] = s
	}
	out := sparse.ZerosDense(shape...)
	rev := make([]int, nd)
	for i1d, val := range a.Elements {
		index := a.IndexNd(i1d)
		for i, x := range index {
			rev[nd-1-i] = x
		}
		out.Set(val, rev...)
	}
	return out
}

// Squeeze returns a copy of a with all length-1 dimensions removed. A
// fully singleton array squeezes to shape (1).
func Squeeze(a *sparse.DenseArray) *sparse.DenseArray {
	var shape []int
	for _, s := range a.Shape {
		if s != 1 {
			shape = append(shape, s)
		}
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	out := sparse.ZerosDense(shape...)
	copy(out.Elements, a.Elements)
	return out
}

// Destagger averages adjacent values along dimension dim, moving a field
// from a staggered grid onto the surrounding mass grid. The output shape
// matches a except that dimension dim shrinks by one.
func Destagger(a *sparse.DenseArray, dim int) (*sparse.DenseArray, error) {
	if dim < 0 || dim >= len(a.Shape) {
		return nil, fmt.Errorf("met: destagger: dimension %d out of range for shape %v", dim, a.Shape)
	}
	if a.Shape[dim] < 2 {
		return nil, fmt.Errorf("met: destagger: dimension %d of shape %v is not staggered", dim, a.Shape)
	}
	shape := make([]int, len(a.Shape))
	copy(shape, a.Shape)
	shape[dim]--
	out := sparse.ZerosDense(shape...)
	for i1d := range out.Elements {
		index := out.IndexNd(i1d)
		lo := a.Get(index...)
		index[dim]++
		hi := a.Get(index...)
		out.Elements[i1d] = (lo + hi) / 2.
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
