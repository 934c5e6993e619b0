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
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func testEnvelopeConfig() EnvelopeConfig {
	dc := testDescriptiveConfig()
	defaults := DefaultConfig().Defaults
	defaults.XRes, defaults.YRes = 10, 10
	return EnvelopeConfig{
		ModelRunID:    dc.ModelRunID,
		ParentID:      dc.ParentID,
		Description:   dc.Description,
		GeoName:       dc.GeoName,
		GeoState:      dc.GeoState,
		Begin:         dc.Begin,
		End:           dc.End,
		ProcDate:      dc.ProcDate,
		Researcher:    dc.Researcher,
		RepositoryURL: "https://vwp-dev.unm.edu/",
		Defaults:      defaults,
	}
}

func TestBuildEnvelope(t *testing.T) {
	attrs, err := Introspect("testdata/in.0010", IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	c := testEnvelopeConfig()
	c.SourceEPSG = 26911
	c.TargetEPSG = 4326
	e, err := BuildEnvelope(nil, attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "in.0010" || e.Ext != "bin" || e.MimeType != "application/x-binary" {
		t.Errorf("file fields %q %q %q", e.Name, e.Ext, e.MimeType)
	}
	if e.ModelVars != "I_lw,T_a,e_a,u,T_g,S_n" {
		t.Errorf("model_vars %q", e.ModelVars)
	}
	if len(e.Variables) != 6 || e.Variables[5].Name != "net solar radiation" {
		t.Errorf("variables %+v", e.Variables)
	}
	want := Spatial{
		EPSG: 4326, OrigEPSG: 26911, Rows: 4, Cols: 3, XRes: 2.5, YRes: 2.5, Units: "m",
		BBox: []float64{500000, 4800000, 500007.5, 4800010},
	}
	if !reflect.DeepEqual(e.Spatial, want) {
		t.Errorf("spatial %+v; want %+v", e.Spatial, want)
	}
	if e.Temporal != (Temporal{Start: "2010-10-01 00:00:00", End: "2010-10-01 01:00:00"}) {
		t.Errorf("temporal %+v", e.Temporal)
	}
	wantURL := "https://vwp-dev.unm.edu/apps/vwp/datasets/09079630-5ef8-11e4-9803-0800200c9a66/in.0010"
	if len(e.Downloads) != 1 || e.Downloads[0]["bin"] != wantURL {
		t.Errorf("downloads %v", e.Downloads)
	}
	if e.ModelName != "isnobal" || e.Taxonomy != "geoimage" {
		t.Errorf("repository fields not defaulted: %q %q", e.ModelName, e.Taxonomy)
	}
	wantStd := []Standard{{Name: "FGDC Content Standard for Digital Geospatial Metadata", Version: "FGDC-STD-001-1998"}}
	if !reflect.DeepEqual(e.Standards, wantStd) {
		t.Errorf("standards %+v; want %+v", e.Standards, wantStd)
	}

	// The embedded document is valid descriptive metadata for the same file.
	d, err := ParseDescriptive([]byte(e.Metadata.XML))
	if err != nil {
		t.Fatal(err)
	}
	if d.DatasetName != e.Name || d.ModelRunID != e.ModelRunUUID || d.ParentID != e.ParentModelRunUUID {
		t.Errorf("identity mismatch: %q %q %q", d.DatasetName, d.ModelRunID, d.ParentID)
	}
}

func TestBuildEnvelope_sharedDescriptive(t *testing.T) {
	attrs, err := Introspect("testdata/in.0000", IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	dc := testDescriptiveConfig()
	desc, err := BuildDescriptive(attrs, dc)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := desc.XML()
	if err != nil {
		t.Fatal(err)
	}
	c := testEnvelopeConfig()
	c.Begin, c.End = time.Time{}, time.Time{}
	e, err := BuildEnvelope(desc, attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	if e.Metadata.XML != string(doc) {
		t.Error("descriptive metadata was not embedded unchanged")
	}
	if e.Temporal.Start != "2010-10-01 00:00:00" {
		t.Errorf("start %q", e.Temporal.Start)
	}
	if e.Spatial.OrigEPSG != 32611 || e.Spatial.EPSG != 32611 {
		t.Errorf("EPSG %d → %d; want 32611 from the descriptive metadata", e.Spatial.OrigEPSG, e.Spatial.EPSG)
	}
}

func TestBuildEnvelope_extMismatch(t *testing.T) {
	attrs, err := Introspect("testdata/in.0000", IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, ext := range []string{"tif", "nc", "csv"} {
		c := testEnvelopeConfig()
		c.FileExt = ext
		e, err := BuildEnvelope(nil, attrs, c)
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("%s: want *FormatError, have %v", ext, err)
		}
		if e != nil {
			t.Errorf("%s: no envelope should be returned", ext)
		}
	}
	c := testEnvelopeConfig()
	c.FileExt = ".bin"
	if _, err := BuildEnvelope(nil, attrs, c); err != nil {
		t.Error(err)
	}
}

func TestBuildEnvelope_unknownVariable(t *testing.T) {
	attrs, err := Introspect("testdata/in.0000", IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	c := testEnvelopeConfig()
	c.Variables = []string{"I_lw", "T_a", "e_a", "u", "swe"}
	e, err := BuildEnvelope(nil, attrs, c)
	var uv *UnknownVariableError
	if !errors.As(err, &uv) || uv.Code != "swe" {
		t.Errorf("want UnknownVariableError for swe, have %v", err)
	}
	if e != nil {
		t.Error("no envelope should be returned")
	}

	c.Dictionary = DefaultDictionary().Merge(Variable{Code: "swe", Name: "snow water equivalent", Units: "mm"})
	e, err = BuildEnvelope(nil, attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	if e.ModelVars != "I_lw,T_a,e_a,u,swe" {
		t.Errorf("model_vars %q", e.ModelVars)
	}
	if attrs.Variables[4] != "T_g" {
		t.Error("variable override modified the file attributes")
	}
}

func TestEnvelopeJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.0010.I_lw.tif")
	writeTIFF(t, path, geoTIFFFields(26911, "2010:10:01 10:00:00")...)
	attrs, err := Introspect(path, IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	c := testEnvelopeConfig()
	c.Begin, c.End = time.Time{}, time.Time{}
	e, err := BuildEnvelope(nil, attrs, c)
	if err != nil {
		t.Fatal(err)
	}
	b1, err := e.JSON()
	if err != nil {
		t.Fatal(err)
	}
	b2, err := e.JSON()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("output differs between calls")
	}
	if bytes.Contains(b1, []byte(`\u003c`)) {
		t.Error("embedded XML should not be HTML-escaped")
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b1, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"name", "model_run_uuid", "parent_model_run_uuid", "spatial", "temporal",
		"metadata", "standards", "downloads", "variables", "model_vars"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %q", k)
		}
	}
	if m["ext"] != "tif" || m["mimetype"] != "image/tiff" {
		t.Errorf("ext %v, mimetype %v", m["ext"], m["mimetype"])
	}
	temporal := m["temporal"].(map[string]interface{})
	if temporal["start"] != "2010-10-01 10:00:00" || temporal["end"] != "2010-10-01 11:00:00" {
		t.Errorf("temporal %v", temporal)
	}
}

func TestDownloadURL(t *testing.T) {
	for _, test := range []struct{ base, want string }{
		{"https://vwp-dev.unm.edu", "https://vwp-dev.unm.edu/apps/vwp/datasets/abc/in.0000"},
		{"https://vwp-dev.unm.edu/", "https://vwp-dev.unm.edu/apps/vwp/datasets/abc/in.0000"},
		{"", "/apps/vwp/datasets/abc/in.0000"},
	} {
		if have := DownloadURL(test.base, "abc", "in.0000"); have != test.want {
			t.Errorf("%q: have %q, want %q", test.base, have, test.want)
		}
	}
}
