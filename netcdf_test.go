/*
Copyright © 2019 the watershed authors.
This file is part of watershed.

watershed is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

watershed is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with watershed.  If not, see <http://www.gnu.org/licenses/>.
*/

package watershed

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// writeNetCDF writes a NetCDF file holding three hourly time steps of
// air temperature on a 3×4 grid with 100 m cells. crs is either an EPSG
// code such as "EPSG:26911", which is stored as a global attribute, or a
// PROJ.4 string, which is stored in a grid mapping variable. If crs is
// empty, the file records no coordinate reference system.
func writeNetCDF(t *testing.T, path, crs string) {
	t.Helper()
	writeNetCDFTime(t, path, crs, false)
}

// writeNetCDFTime is writeNetCDF with the option of making time the
// unlimited record dimension, as most CF model output does.
func writeNetCDFTime(t *testing.T, path, crs string, unlimited bool) {
	t.Helper()
	nt := 3
	if unlimited {
		nt = 0
	}
	h := cdf.NewHeader([]string{"time", "y", "x"}, []int{nt, 3, 4})
	h.AddVariable("time", []string{"time"}, []float64{})
	h.AddAttribute("time", "units", "hours since 2010-10-01 00:00:00")
	h.AddVariable("y", []string{"y"}, []float64{})
	h.AddAttribute("y", "units", "m")
	h.AddVariable("x", []string{"x"}, []float64{})
	h.AddAttribute("x", "units", "meters")
	h.AddVariable("T_a", []string{"time", "y", "x"}, []float32{})
	h.AddAttribute("T_a", "units", "C")
	switch {
	case strings.HasPrefix(crs, "EPSG:"):
		h.AddAttribute("", "epsg", crs)
	case crs != "":
		h.AddVariable("crs", []string{}, []int32{})
		h.AddAttribute("crs", "proj4", crs)
		h.AddAttribute("T_a", "grid_mapping", "crs")
	}
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	nc, err := cdf.Create(f, h)
	if err != nil {
		t.Fatal(err)
	}
	for v, w := range map[string]struct {
		data       interface{}
		begin, end []int
	}{
		"time": {[]float64{0, 1, 2}, []int{0}, []int{2}},
		"y":    {[]float64{4800050, 4800150, 4800250}, []int{0}, []int{2}},
		"x":    {[]float64{500050, 500150, 500250, 500350}, []int{0}, []int{3}},
		"T_a":  {make([]float32, 3*3*4), []int{0, 0, 0}, []int{2, 2, 3}},
	} {
		if _, err := nc.Writer(v, w.begin, w.end).Write(w.data); err != nil {
			t.Fatalf("writing %s: %v", v, err)
		}
	}
	if crs != "" && !strings.HasPrefix(crs, "EPSG:") {
		if _, err := nc.Writer("crs", nil, nil).Write([]int32{0}); err != nil {
			t.Fatal(err)
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		t.Fatal(err)
	}
}

func TestReadNetCDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dry_creek.nc")
	writeNetCDF(t, path, "EPSG:26911")

	a, err := Introspect(path, IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := &FileAttributes{
		Path:       path,
		Format:     MultidimensionalArray,
		Rows:       3,
		Cols:       4,
		XRes:       100,
		YRes:       100,
		MapUnits:   "m",
		SourceEPSG: 26911,
		Bounds: &geom.Bounds{
			Min: geom.Point{X: 500000, Y: 4800000},
			Max: geom.Point{X: 500400, Y: 4800300},
		},
		Start:               time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC),
		End:                 time.Date(2010, 10, 1, 3, 0, 0, 0, time.UTC),
		Step:                time.Hour,
		StepIndex:           -1,
		Variables:           []string{"T_a"},
		SpatialSelfReported: true,
		TimeSelfReported:    true,
	}
	if !reflect.DeepEqual(a, want) {
		t.Errorf("have %+v\nwant %+v", a, want)
	}
}

func TestReadNetCDF_unlimitedTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dry_creek.nc")
	writeNetCDFTime(t, path, "EPSG:26911", true)

	a, err := Introspect(path, IntrospectOptions{Step: 24 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC); !a.Start.Equal(want) {
		t.Errorf("start %v; want %v", a.Start, want)
	}
	if want := time.Date(2010, 10, 1, 3, 0, 0, 0, time.UTC); !a.End.Equal(want) {
		t.Errorf("end %v; want %v", a.End, want)
	}
	if a.Step != time.Hour {
		t.Errorf("step %v; want 1h", a.Step)
	}
	if !a.TimeSelfReported {
		t.Error("time should be self-reported")
	}
	if a.Rows != 3 || a.Cols != 4 || !reflect.DeepEqual(a.Variables, []string{"T_a"}) {
		t.Errorf("have %d×%d %v", a.Rows, a.Cols, a.Variables)
	}
}

func TestReadNetCDF_gridMapping(t *testing.T) {
	dir := t.TempDir()
	for _, test := range []struct {
		crs  string
		want int
	}{
		{"+proj=utm +zone=11 +datum=NAD83 +units=m +no_defs", 26911},
		{"+proj=utm +zone=12 +datum=WGS84 +units=m +no_defs", 32612},
		{"+proj=longlat +datum=WGS84 +no_defs", 4326},
		{"+proj=lcc +lat_1=33 +lat_2=45 +lat_0=40 +lon_0=-97 +x_0=0 +y_0=0 +a=6370997 +b=6370997 +units=m +no_defs", 0},
		{"", 0},
	} {
		t.Run(test.crs, func(t *testing.T) {
			path := filepath.Join(dir, "grid.nc")
			writeNetCDF(t, path, test.crs)
			a, err := Introspect(path, IntrospectOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if a.SourceEPSG != test.want {
				t.Errorf("EPSG %d; want %d", a.SourceEPSG, test.want)
			}
			if !reflect.DeepEqual(a.Variables, []string{"T_a"}) {
				t.Errorf("variables %v", a.Variables)
			}
		})
	}
}

func TestReadNetCDF_variables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.nc")
	writeNetCDF(t, path, "")

	if _, err := Introspect(path, IntrospectOptions{Variables: []string{"T_a"}}); err != nil {
		t.Error(err)
	}
	_, err := Introspect(path, IntrospectOptions{Variables: []string{"T_g"}})
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Format != MultidimensionalArray {
		t.Errorf("want NetCDF FormatError, have %v", err)
	}

	_, err = Introspect("testdata/in.0000", IntrospectOptions{Format: MultidimensionalArray})
	if !errors.As(err, &fe) {
		t.Errorf("want FormatError for IPW image read as NetCDF, have %v", err)
	}
}

func TestParseTimeUnits(t *testing.T) {
	for _, test := range []struct {
		units string
		unit  time.Duration
		ref   time.Time
		err   bool
	}{
		{"hours since 2010-10-01 00:00:00", time.Hour, time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC), false},
		{"days since 2010-10-01", 24 * time.Hour, time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC), false},
		{"seconds since 2010-10-01T06:00:00Z", time.Second, time.Date(2010, 10, 1, 6, 0, 0, 0, time.UTC), false},
		{"minutes since 2010-10-01 00:00:00 UTC", time.Minute, time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC), false},
		{"fortnights since 2010-10-01", 0, time.Time{}, true},
		{"hours", 0, time.Time{}, true},
	} {
		unit, ref, err := parseTimeUnits(test.units)
		if (err != nil) != test.err {
			t.Errorf("%q: error %v", test.units, err)
			continue
		}
		if unit != test.unit || !ref.Equal(test.ref) {
			t.Errorf("%q: have %v %v, want %v %v", test.units, unit, ref, test.unit, test.ref)
		}
	}
}

func TestEPSGFromSR(t *testing.T) {
	for _, test := range []struct {
		proj4 string
		want  int
	}{
		{"+proj=utm +zone=11 +datum=NAD83 +units=m", 26911},
		{"+proj=utm +zone=11 +datum=NAD27 +units=m", 26711},
		{"+proj=utm +zone=33 +south +datum=WGS84 +units=m", 32733},
		{"+proj=longlat +datum=NAD83", 4269},
		{"+proj=merc +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84", 0},
	} {
		sr, err := proj.Parse(test.proj4)
		if err != nil {
			t.Fatal(err)
		}
		if have := epsgFromSR(sr); have != test.want {
			t.Errorf("%s: have %d, want %d", test.proj4, have, test.want)
		}
	}
}

func TestParseEPSG(t *testing.T) {
	for s, want := range map[string]int{"EPSG:26911": 26911, "epsg:4326": 4326, " 32611 ": 32611} {
		if have, err := parseEPSG(s); err != nil || have != want {
			t.Errorf("%q: have %d (%v), want %d", s, have, err, want)
		}
	}
	for _, s := range []string{"", "EPSG:", "EPSG:-1", "UTM11"} {
		if _, err := parseEPSG(s); err == nil {
			t.Errorf("%q: want error", s)
		}
	}
}
