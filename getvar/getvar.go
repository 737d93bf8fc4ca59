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

// Package getvar reads raw and derived fields from WRF model output.
//
// Raw fields come back in storage axis order (time × bottom-top ×
// south-north × west-east). Derived fields are computed on demand from
// their ingredients and cached, so repeated requests for the same name
// return the identical array without touching the file again.
package getvar

import (
	"fmt"

	"github.com/ctessum/sparse"

	"github.com/cycle13/hurricane-tools/met"
)

// UnknownVariableError is returned by Store.Get for a name that is
// neither in the dataset nor derivable from it.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("getvar: variable %s is not in the dataset and has no derivation", e.Name)
}

// A Store reads fields from a single data source over a fixed time
// selection, deriving diagnostic fields that the source does not carry.
//
// The derived fields are:
//
//	pres    full pressure [hPa], from P + PB
//	tk      air temperature [K], from potential temperature and pressure
//	slp     sea level pressure [hPa], following the RIP4 algorithm
//
// Every array a Store returns is shared with its cache; callers that
// modify one should work on a copy.
type Store struct {
	src   DataSource
	ts    TimeSel
	multi bool
	cache map[string]*sparse.DenseArray
}

// NewStore creates a Store reading from src over the time selection ts.
// Whether the derivations run their single-time or multi-time variants is
// fixed here and never re-examined.
func NewStore(src DataSource, ts TimeSel) (*Store, error) {
	if err := ts.validate(); err != nil {
		return nil, err
	}
	nt, err := src.NumTimes()
	if err != nil {
		return nil, err
	}
	if _, _, err := ts.resolve(nt); err != nil {
		return nil, err
	}
	return &Store{
		src:   src,
		ts:    ts,
		multi: !ts.single,
		cache: make(map[string]*sparse.DenseArray),
	}, nil
}

// Open opens the named file and creates a Store over it. Closing the
// Store closes the file.
func Open(filename string, ts TimeSel) (*Store, error) {
	d, err := OpenDataset(filename)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(d, ts)
	if err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

// Get returns the named field, reading or deriving it on first request
// and serving the cached array afterwards. Physically present fields are
// always read directly, even for names that also have a derivation.
func (s *Store) Get(name string) (*sparse.DenseArray, error) {
	if v, ok := s.cache[name]; ok {
		return v, nil
	}
	var v *sparse.DenseArray
	var err error
	switch {
	case s.src.Has(name):
		v, err = s.src.Read(name, s.ts)
	case name == "pres":
		v, err = s.calcPres()
	case name == "tk":
		v, err = s.calcTK()
	case name == "slp":
		v, err = s.calcSLP()
	default:
		return nil, &UnknownVariableError{Name: name}
	}
	if err != nil {
		return nil, err
	}
	s.cache[name] = v
	return v, nil
}

// calcPres derives full pressure [hPa] from the perturbation and base
// state components.
func (s *Store) calcPres() (*sparse.DenseArray, error) {
	p, err := s.Get("P")
	if err != nil {
		return nil, err
	}
	pb, err := s.Get("PB")
	if err != nil {
		return nil, err
	}
	pres := p.Copy()
	pres.AddDense(pb)
	pres.Scale(0.01)
	return pres, nil
}

// calcTK derives air temperature [K] from perturbation potential
// temperature and full pressure.
func (s *Store) calcTK() (*sparse.DenseArray, error) {
	pres, err := s.Get("pres")
	if err != nil {
		return nil, err
	}
	t, err := s.Get("T")
	if err != nil {
		return nil, err
	}
	presPa := pres.Copy()
	presPa.Scale(100) // hPa to Pa
	theta := t.Copy()
	for i := range theta.Elements {
		theta.Elements[i] += 300
	}
	if s.multi {
		tk, err := met.TkMultiTime(met.Transpose(presPa), met.Transpose(theta))
		if err != nil {
			return nil, err
		}
		return met.Transpose(tk), nil
	}
	tk, err := met.Tk(met.Transpose(presPa), met.Transpose(theta))
	if err != nil {
		return nil, err
	}
	return met.Transpose(tk), nil
}

// calcSLP derives sea level pressure [hPa] from geopotential height,
// temperature, pressure, and water vapor mixing ratio.
func (s *Store) calcSLP() (*sparse.DenseArray, error) {
	ph, err := s.Get("PH")
	if err != nil {
		return nil, err
	}
	phb, err := s.Get("PHB")
	if err != nil {
		return nil, err
	}
	const g = 9.81 // m/s2
	z := ph.Copy()
	z.AddDense(phb)
	z.Scale(1 / g) // geopotential to height
	z, err = met.Destagger(z, len(z.Shape)-3)
	if err != nil {
		return nil, err
	}

	tk, err := s.Get("tk")
	if err != nil {
		return nil, err
	}
	pres, err := s.Get("pres")
	if err != nil {
		return nil, err
	}
	presPa := pres.Copy()
	presPa.Scale(100)

	qv, err := s.Get("QVAPOR")
	if err != nil {
		return nil, err
	}
	q := qv.Copy()
	for i, v := range q.Elements {
		if v < 0 {
			q.Elements[i] = 0
		}
	}

	if s.multi {
		slp, err := met.SeaLevelPressureMultiTime(met.Transpose(z),
			met.Transpose(tk), met.Transpose(presPa), met.Transpose(q))
		if err != nil {
			return nil, err
		}
		return met.Transpose(slp), nil
	}
	slp, err := met.SeaLevelPressure(met.Transpose(z),
		met.Transpose(tk), met.Transpose(presPa), met.Transpose(q))
	if err != nil {
		return nil, err
	}
	return met.Transpose(slp), nil
}

// ClearCache drops every cached array. Later requests read and derive
// from scratch.
func (s *Store) ClearCache() {
	s.cache = make(map[string]*sparse.DenseArray)
}

// Close closes the underlying data source. The cache stays usable, so
// already-loaded fields can still be requested.
func (s *Store) Close() error {
	return s.src.Close()
}
