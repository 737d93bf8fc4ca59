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

// wrfdiag reads one time step of a WRF output file, derives diagnostic
// fields, interpolates them to constant pressure surfaces, and writes
// the result to a new NetCDF file.
//
// Run it with a TOML configuration file:
//
//	wrfdiag -config=wrfdiag.toml
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"bitbucket.org/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/BurntSushi/toml"

	"github.com/cycle13/hurricane-tools/getvar"
	"github.com/cycle13/hurricane-tools/interpz"
)

type configData struct {
	// WRFOut is the model output file to read.
	WRFOut string

	// Output is the file to create.
	Output string

	// TimeIndex is the time record to process.
	TimeIndex int

	// Levels are the target pressure levels [hPa], highest pressure
	// first by convention.
	Levels []float64

	// Vars are the fields to interpolate. Raw field names and the
	// derived names pres, tk, and slp are all accepted; slp is written
	// as a surface field without interpolation.
	Vars []string
}

func main() {
	configFile := flag.String("config", "", "path to the configuration file")
	flag.Parse()
	if *configFile == "" {
		log.Fatal("wrfdiag: no configuration file; run with -config=wrfdiag.toml")
	}
	cfg, err := readConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	d, err := getvar.OpenDataset(cfg.WRFOut)
	if err != nil {
		log.Fatal(err)
	}
	grid, err := d.Grid()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("wrfdiag: %s: %d x %d grid, %s projection",
		cfg.WRFOut, grid.Nx, grid.Ny, grid.Sr.Name)

	store, err := getvar.NewStore(d, getvar.At(cfg.TimeIndex))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	pres, err := store.Get("pres")
	if err != nil {
		log.Fatal(err)
	}
	in, err := interpz.NewMulti(pres, cfg.Levels)
	if err != nil {
		log.Fatal(err)
	}

	fields := make(map[string]*sparse.DenseArray)
	for _, name := range cfg.Vars {
		v, err := store.Get(name)
		if err != nil {
			log.Fatal(err)
		}
		if len(v.Shape) == 2 {
			fields[name] = v
			continue
		}
		out, err := in.Interp(v)
		if err != nil {
			log.Fatalf("wrfdiag: interpolating %s: %v", name, err)
		}
		fields[name] = out[0]
		log.Printf("wrfdiag: interpolated %s to %d levels", name, len(cfg.Levels))
	}

	if err := writeOutput(cfg, grid, fields); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrfdiag: wrote %s", cfg.Output)
}

func readConfig(filename string) (*configData, error) {
	cfg := new(configData)
	if _, err := toml.DecodeFile(filename, cfg); err != nil {
		return nil, fmt.Errorf("wrfdiag: reading configuration: %v", err)
	}
	if cfg.WRFOut == "" || cfg.Output == "" {
		return nil, fmt.Errorf("wrfdiag: the configuration must set WRFOut and Output")
	}
	if len(cfg.Levels) == 0 {
		return nil, fmt.Errorf("wrfdiag: the configuration must set at least one pressure level")
	}
	if len(cfg.Vars) == 0 {
		return nil, fmt.Errorf("wrfdiag: the configuration must set at least one output field")
	}
	return cfg, nil
}

func writeOutput(cfg *configData, grid *getvar.GridInfo, fields map[string]*sparse.DenseArray) error {
	h := cdf.NewHeader([]string{"pres_levels", "south_north", "west_east"},
		[]int{len(cfg.Levels), grid.Ny, grid.Nx})
	h.AddAttribute("", "TITLE", "Pressure level diagnostics from "+cfg.WRFOut)
	h.AddAttribute("", "CEN_LAT", []float64{grid.CenLat})
	h.AddAttribute("", "CEN_LON", []float64{grid.CenLon})
	h.AddAttribute("", "TRUELAT1", []float64{grid.TrueLat1})
	h.AddAttribute("", "TRUELAT2", []float64{grid.TrueLat2})
	h.AddAttribute("", "STAND_LON", []float64{grid.StandLon})
	h.AddAttribute("", "DX", []float64{grid.Dx})
	h.AddAttribute("", "DY", []float64{grid.Dy})

	h.AddVariable("P_LVLS", []string{"pres_levels"}, []float32{0.})
	h.AddAttribute("P_LVLS", "units", "hPa")
	for name, v := range fields {
		switch len(v.Shape) {
		case 2:
			h.AddVariable(name, []string{"south_north", "west_east"}, []float32{0.})
		case 3:
			h.AddVariable(name, []string{"pres_levels", "south_north", "west_east"}, []float32{0.})
		default:
			return fmt.Errorf("wrfdiag: field %s has unexpected shape %v", name, v.Shape)
		}
		h.AddAttribute(name, "coordinates", "XLONG XLAT")
	}
	h.Define()
	for _, err := range h.Check() {
		if err != nil {
			return fmt.Errorf("wrfdiag: building output header: %v", err)
		}
	}

	fid, err := os.Create(cfg.Output)
	if err != nil {
		return fmt.Errorf("wrfdiag: creating output: %v", err)
	}
	defer fid.Close()
	f, err := cdf.Create(fid, h)
	if err != nil {
		return fmt.Errorf("wrfdiag: creating output: %v", err)
	}

	levels := make([]float32, len(cfg.Levels))
	for i, l := range cfg.Levels {
		levels[i] = float32(l)
	}
	if err := writeVar(f, "P_LVLS", levels); err != nil {
		return err
	}
	for name, v := range fields {
		data := make([]float32, len(v.Elements))
		for i, e := range v.Elements {
			data[i] = float32(e)
		}
		if err := writeVar(f, name, data); err != nil {
			return err
		}
	}
	return nil
}

func writeVar(f *cdf.File, name string, data []float32) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wrfdiag: writing %s: %v", name, err)
	}
	return nil
}
