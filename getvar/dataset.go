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

package getvar

import (
	"fmt"
	"os"

	"bitbucket.org/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// A DataSource provides read access to the named fields of one gridded
// model output. Fields are returned in storage axis order
// (time × bottom-top × south-north × west-east, trailing dimensions
// omitted when a field does not have them); a single-index time selection
// drops the time axis, a range keeps it.
type DataSource interface {
	// Has reports whether the named field is physically present.
	Has(name string) bool

	// NumTimes returns the length of the time dimension.
	NumTimes() (int, error)

	// Read reads the named field over the given time selection.
	Read(name string, ts TimeSel) (*sparse.DenseArray, error)

	// Close releases the underlying handle. Arrays already returned by
	// Read remain valid.
	Close() error
}

// A TimeSel selects either a single time index or a contiguous index
// range, fixed when the owning Store is created and applied uniformly to
// every raw read.
type TimeSel struct {
	single bool
	lo, hi int // hi is exclusive; hi < 0 means through the last record
}

// At selects the single time index i; the time axis is dropped on read.
func At(i int) TimeSel { return TimeSel{single: true, lo: i, hi: i + 1} }

// Span selects the contiguous index range [lo, hi); hi < 0 means through
// the last record. The time axis is kept on read.
func Span(lo, hi int) TimeSel { return TimeSel{lo: lo, hi: hi} }

// AllTimes selects every time index.
func AllTimes() TimeSel { return Span(0, -1) }

func (ts TimeSel) validate() error {
	if ts.lo < 0 {
		return fmt.Errorf("getvar: time selection starts at %d; must not be negative", ts.lo)
	}
	if ts.hi >= 0 && ts.hi <= ts.lo {
		return fmt.Errorf("getvar: empty time selection [%d, %d)", ts.lo, ts.hi)
	}
	return nil
}

// resolve turns the selection into concrete [lo, hi) bounds for a time
// dimension of length nt.
func (ts TimeSel) resolve(nt int) (lo, hi int, err error) {
	lo, hi = ts.lo, ts.hi
	if hi < 0 {
		hi = nt
	}
	if lo >= nt || hi > nt {
		return 0, 0, fmt.Errorf("getvar: time selection [%d, %d) outside the %d available records", lo, hi, nt)
	}
	return lo, hi, nil
}

// Dataset is a DataSource backed by a classic-format (NetCDF3) model
// output file.
type Dataset struct {
	f   *cdf.File
	fid *os.File
}

// OpenDataset opens the given file for reading.
func OpenDataset(filename string) (*Dataset, error) {
	fid, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("getvar: opening dataset: %v", err)
	}
	f, err := cdf.Open(fid)
	if err != nil {
		fid.Close()
		return nil, fmt.Errorf("getvar: opening dataset %s: %v", filename, err)
	}
	return &Dataset{f: f, fid: fid}, nil
}

// Has reports whether the named variable is in the file.
func (d *Dataset) Has(name string) bool {
	for _, v := range d.f.Header.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

// NumTimes returns the length of the time dimension, taken from the first
// variable in the file with more than one dimension.
func (d *Dataset) NumTimes() (int, error) {
	for _, v := range d.f.Header.Variables() {
		dims := d.f.Header.Lengths(v)
		if len(dims) > 1 && dims[0] > 0 {
			return dims[0], nil
		}
	}
	return 0, fmt.Errorf("getvar: cannot determine the time dimension length")
}

// Read reads the named variable over the given time selection, widening
// the stored values to float64.
func (d *Dataset) Read(name string, ts TimeSel) (*sparse.DenseArray, error) {
	dims := d.f.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("getvar: variable %s is not in the dataset", name)
	}
	lo, hi, err := ts.resolve(dims[0])
	if err != nil {
		return nil, fmt.Errorf("getvar: reading %s: %v", name, err)
	}

	nread := hi - lo
	for _, dim := range dims[1:] {
		nread *= dim
	}
	start := make([]int, len(dims))
	end := make([]int, len(dims))
	start[0], end[0] = lo, hi
	r := d.f.Reader(name, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("getvar: reading %s: %v", name, err)
	}

	var shape []int
	if ts.single {
		shape = dims[1:]
		if len(shape) == 0 {
			shape = []int{1}
		}
	} else {
		shape = append([]int{hi - lo}, dims[1:]...)
	}
	out := sparse.ZerosDense(shape...)
	switch b := buf.(type) {
	case []float32:
		for i, v := range b {
			out.Elements[i] = float64(v)
		}
	case []float64:
		copy(out.Elements, b)
	case []int32:
		for i, v := range b {
			out.Elements[i] = float64(v)
		}
	case []int16:
		for i, v := range b {
			out.Elements[i] = float64(v)
		}
	case []int8:
		for i, v := range b {
			out.Elements[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("getvar: variable %s has unsupported type %T", name, buf)
	}
	return out, nil
}

// Close closes the underlying file.
func (d *Dataset) Close() error {
	return d.fid.Close()
}
