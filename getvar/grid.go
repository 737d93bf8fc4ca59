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

	"github.com/ctessum/geom/proj"
)

// WRF MAP_PROJ attribute values.
const (
	mapProjLambert  = 1
	mapProjMercator = 3
	mapProjLatLon   = 6
)

// GridInfo describes the horizontal grid of a model output file, read
// from its global attributes.
type GridInfo struct {
	Nx, Ny int     // unstaggered grid dimensions
	Dx, Dy float64 // grid spacing [m]

	CenLat, CenLon     float64
	TrueLat1, TrueLat2 float64
	StandLon           float64

	Sr *proj.SR
}

// Grid reads the grid description from the dataset's global attributes.
func (d *Dataset) Grid() (*GridInfo, error) {
	g := new(GridInfo)
	var err error
	if g.Nx, err = d.attrInt("WEST-EAST_PATCH_END_UNSTAG"); err != nil {
		return nil, err
	}
	if g.Ny, err = d.attrInt("SOUTH-NORTH_PATCH_END_UNSTAG"); err != nil {
		return nil, err
	}
	if g.Dx, err = d.attrFloat("DX"); err != nil {
		return nil, err
	}
	if g.Dy, err = d.attrFloat("DY"); err != nil {
		return nil, err
	}
	if g.CenLat, err = d.attrFloat("CEN_LAT"); err != nil {
		return nil, err
	}
	if g.CenLon, err = d.attrFloat("CEN_LON"); err != nil {
		return nil, err
	}
	if g.TrueLat1, err = d.attrFloat("TRUELAT1"); err != nil {
		return nil, err
	}
	if g.TrueLat2, err = d.attrFloat("TRUELAT2"); err != nil {
		return nil, err
	}
	if g.StandLon, err = d.attrFloat("STAND_LON"); err != nil {
		return nil, err
	}
	mp, err := d.attrInt("MAP_PROJ")
	if err != nil {
		return nil, err
	}
	if g.Sr, err = projection(mp, g); err != nil {
		return nil, err
	}
	return g, nil
}

// projection calculates the spatial projection of a model grid.
func projection(mapProj int, g *GridInfo) (*proj.SR, error) {
	const EarthRadius = 6370997.

	var name string
	switch mapProj {
	case mapProjLambert:
		name = "lcc"
	case mapProjMercator:
		name = "merc"
	case mapProjLatLon:
		name = "longlat"
	default:
		return nil, fmt.Errorf("getvar: unsupported map projection %d", mapProj)
	}
	sr := proj.NewSR()
	sr.Name = name
	sr.Lat1 = g.TrueLat1
	sr.Lat2 = g.TrueLat2
	sr.Lat0 = g.CenLat
	sr.Long0 = g.StandLon
	sr.A = EarthRadius
	sr.B = EarthRadius
	sr.ToMeter = 1.
	sr.DeriveConstants()
	return sr, nil
}

func (d *Dataset) attrInt(name string) (int, error) {
	switch v := d.f.Header.GetAttribute("", name).(type) {
	case []int32:
		if len(v) > 0 {
			return int(v[0]), nil
		}
	case []float32:
		if len(v) > 0 {
			return int(v[0]), nil
		}
	}
	return 0, fmt.Errorf("getvar: missing global attribute %s", name)
}

func (d *Dataset) attrFloat(name string) (float64, error) {
	switch v := d.f.Header.GetAttribute("", name).(type) {
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	case []float64:
		if len(v) > 0 {
			return v[0], nil
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	}
	return 0, fmt.Errorf("getvar: missing global attribute %s", name)
}
