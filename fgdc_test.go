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
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kr/pretty"
)

func testDescriptiveConfig() DescriptiveConfig {
	return DescriptiveConfig{
		ModelRunID:  "09079630-5ef8-11e4-9803-0800200c9a66",
		ParentID:    "373ae181-a0b2-4998-ba32-e27da190f6dd",
		Begin:       time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2010, 10, 1, 1, 0, 0, 0, time.UTC),
		ProcDate:    time.Date(2015, 7, 14, 0, 0, 0, 0, time.UTC),
		Researcher:  Researcher{Name: "Test Researcher", Organization: "NWRC", Email: "researcher@example.com"},
		GeoName:     "Dry Creek",
		GeoState:    "Idaho",
		Description: "iSNOBAL inputs",
		Defaults:    Defaults{XRes: 10, YRes: 10, MapUnits: "m", Theme: "watershed", SourceEPSG: 32611},
	}
}

func TestBuildDescriptive_deterministic(t *testing.T) {
	attrs, err := Introspect("testdata/in.0000", IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	c := testDescriptiveConfig()
	d1, err := BuildDescriptive(attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := BuildDescriptive(attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	x1, err := d1.XML()
	if err != nil {
		t.Fatal(err)
	}
	x2, err := d2.XML()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(x1, x2) {
		t.Errorf("output differs between runs:\n%s\n%s", x1, x2)
	}
}

func TestBuildDescriptive_missingContext(t *testing.T) {
	attrs, err := Introspect("testdata/in.0000", IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name  string
		param string
		edit  func(*DescriptiveConfig)
	}{
		{"begin", "begin", func(c *DescriptiveConfig) { c.Begin = time.Time{} }},
		{"model run", "model_run_id", func(c *DescriptiveConfig) { c.ModelRunID = "" }},
		{"processing date", "proc_date", func(c *DescriptiveConfig) { c.ProcDate = time.Time{} }},
		{"resolution", "resolution", func(c *DescriptiveConfig) { c.Defaults.XRes = 0 }},
		{"units", "map_units", func(c *DescriptiveConfig) { c.Defaults.MapUnits = "" }},
		{"theme", "theme", func(c *DescriptiveConfig) { c.Defaults.Theme = "" }},
		{"reversed", "end", func(c *DescriptiveConfig) { c.End = c.Begin.Add(-time.Hour) }},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := testDescriptiveConfig()
			test.edit(&c)
			d, err := BuildDescriptive(attrs, c)
			var ce *ContextError
			if !errors.As(err, &ce) {
				t.Fatalf("want *ContextError, have %v", err)
			}
			if ce.Param != test.param {
				t.Errorf("param %q; want %q", ce.Param, test.param)
			}
			if d != nil {
				t.Error("no metadata should be returned")
			}
		})
	}
}

func TestBuildDescriptive_defaultEnd(t *testing.T) {
	attrs, err := Introspect("testdata/in.0000", IntrospectOptions{Step: 3 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	c := testDescriptiveConfig()
	c.End = time.Time{}
	d, err := BuildDescriptive(attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	if want := c.Begin.Add(3 * time.Hour); !d.End.Equal(want) {
		t.Errorf("end %v; want %v", d.End, want)
	}
}

// Values read from a file take precedence over configured defaults, and
// explicit overrides take precedence over both.
func TestBuildDescriptive_precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dry_creek.nc")
	writeNetCDF(t, path, "EPSG:26911")
	attrs, err := Introspect(path, IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	c := testDescriptiveConfig()
	c.Begin, c.End = time.Time{}, time.Time{}
	d, err := BuildDescriptive(attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	if d.EPSG != 26911 {
		t.Errorf("EPSG %d; want the file's 26911 rather than the default", d.EPSG)
	}
	if d.XRes != 100 || d.YRes != 100 {
		t.Errorf("resolution %g×%g; want the file's 100×100", d.XRes, d.YRes)
	}
	if !d.Begin.Equal(attrs.Start) || !d.End.Equal(attrs.End) {
		t.Errorf("time period %v–%v; want %v–%v", d.Begin, d.End, attrs.Start, attrs.End)
	}
	doc, err := d.XML()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(doc, []byte("<gridsysn>EPSG:26911</gridsysn>")) {
		t.Errorf("document doesn't record EPSG:26911:\n%s", doc)
	}

	c.Overrides = SpatialOverrides{XRes: 30, YRes: 30, SourceEPSG: 26912}
	d, err = BuildDescriptive(attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	if d.EPSG != 26912 || d.XRes != 30 || d.YRes != 30 {
		t.Errorf("overrides not applied: EPSG %d, resolution %g×%g", d.EPSG, d.XRes, d.YRes)
	}

	// IPW images without a geo header fall back to the defaults.
	attrs, err = Introspect("testdata/in.0000", IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	c = testDescriptiveConfig()
	d, err = BuildDescriptive(attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	if d.EPSG != 32611 || d.XRes != 10 || d.MapUnits != "m" {
		t.Errorf("defaults not applied: EPSG %d, resolution %g %s", d.EPSG, d.XRes, d.MapUnits)
	}
}

func TestBuildDescriptive_unknownVariable(t *testing.T) {
	attrs, err := Introspect("testdata/grid.ipw", IntrospectOptions{Variables: []string{"T_a", "e_a", "q_x"}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = BuildDescriptive(attrs, testDescriptiveConfig())
	var uv *UnknownVariableError
	if !errors.As(err, &uv) || uv.Code != "q_x" {
		t.Errorf("want UnknownVariableError for q_x, have %v", err)
	}
}

func TestParseDescriptive(t *testing.T) {
	attrs, err := Introspect("testdata/in.0010", IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want, err := BuildDescriptive(attrs, testDescriptiveConfig())
	if err != nil {
		t.Fatal(err)
	}
	doc, err := want.XML()
	if err != nil {
		t.Fatal(err)
	}

	have, err := ParseDescriptive(doc)
	if err != nil {
		t.Fatal(err)
	}
	out, err := have.XML()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, doc) {
		t.Error("parsed document doesn't serialize back unchanged")
	}
	have.raw = nil
	if !reflect.DeepEqual(have, want) {
		t.Error(pretty.Diff(have, want))
	}

	if _, err := ParseDescriptive([]byte("mo garbage")); err == nil {
		t.Error("want error for malformed document")
	}
}
