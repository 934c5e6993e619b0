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

package wsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/spatialmodel/watershed"
	"github.com/spf13/viper"
)

func TestReadConfig(t *testing.T) {
	v := viper.New()
	v.Set("Connection.URL", "https://vwp-dev.unm.edu")
	v.Set("Connection.User", "tester")
	v.Set("Connection.Password", "secret")
	v.Set("Connection.Timeout", "30s")
	v.Set("Connection.MaxRetries", "2")
	v.Set("Researcher.Name", "Test Researcher")
	v.Set("Researcher.Organization", "NWRC")
	v.Set("Researcher.Email", "researcher@example.com")
	v.Set("Defaults.XRes", "10")
	v.Set("Defaults.YRes", 10.0)
	v.Set("Defaults.SourceEPSG", "32611")
	v.Set("Defaults.Theme", "snow")
	v.Set("Timing.RunStart", "2010-10-01 00:00:00")
	v.Set("Timing.Step", "1d")
	v.Set("ObjectStore.Bucket", "minio://datasets")
	v.Set("ObjectStore.Endpoint", "localhost:9000")
	v.Set("ObjectStore.UseSSL", "true")

	c, cc, err := ReadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	want := watershed.DefaultConfig()
	want.RepositoryURL = "https://vwp-dev.unm.edu"
	want.Researcher = watershed.Researcher{
		Name:         "Test Researcher",
		Organization: "NWRC",
		Email:        "researcher@example.com",
	}
	want.Defaults.XRes = 10
	want.Defaults.YRes = 10
	want.Defaults.SourceEPSG = 32611
	want.Defaults.Theme = "snow"
	want.Timing = watershed.Timing{
		RunStart: time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC),
		Step:     24 * time.Hour,
	}
	if diff := pretty.Diff(c, want); len(diff) > 0 {
		t.Errorf("configuration differs: %v", diff)
	}

	if cc.URL != "https://vwp-dev.unm.edu" || cc.User != "tester" || cc.Password != "secret" {
		t.Errorf("wrong connection: %+v", cc)
	}
	if cc.Timeout != 30*time.Second || cc.MaxRetries != 2 {
		t.Errorf("timeout %v, retries %d", cc.Timeout, cc.MaxRetries)
	}
	if cc.ObjectStore.Bucket != "minio://datasets" || cc.ObjectStore.Endpoint != "localhost:9000" || !cc.ObjectStore.UseSSL {
		t.Errorf("wrong object store: %+v", cc.ObjectStore)
	}
}

func TestReadConfig_errors(t *testing.T) {
	for _, test := range []struct{ key, val string }{
		{"Defaults.XRes", "ten"},
		{"Defaults.XRes", "-1"},
		{"Defaults.SourceEPSG", "utm"},
		{"Timing.RunStart", "yesterday"},
		{"Timing.Step", "hourly"},
		{"Connection.URL", "ftp://vwp-dev.unm.edu"},
		{"Connection.Timeout", "soon"},
		{"Dictionary.File", "does-not-exist.toml"},
	} {
		t.Run(test.key+"="+test.val, func(t *testing.T) {
			v := viper.New()
			v.Set(test.key, test.val)
			if _, _, err := ReadConfig(v); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func writeDictionary(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictionary.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadConfig_dictionary(t *testing.T) {
	v := viper.New()
	v.Set("Dictionary.File", writeDictionary(t, `
[[variable]]
code = "swe"
name = "snow water equivalent"
units = "mm"

[[variable]]
code = "T_a"
name = "air temperature"
units = "K"
`))
	c, _, err := ReadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []watershed.Variable{
		{Code: "swe", Name: "snow water equivalent", Units: "mm"},
		{Code: "T_a", Name: "air temperature", Units: "K"},
		{Code: "e_a", Name: "vapor pressure", Units: "Pa"},
	} {
		have, err := c.Dictionary.Lookup(want.Code)
		if err != nil {
			t.Fatal(err)
		}
		if have != want {
			t.Errorf("%s: have %+v; want %+v", want.Code, have, want)
		}
	}
	if _, err := watershed.LookupVariable("swe"); err == nil {
		t.Error("built-in dictionary was modified")
	}
}

func TestReadDictionary_invalid(t *testing.T) {
	for name, contents := range map[string]string{
		"unknown key": "[[variable]]\ncode = \"swe\"\nname = \"snow water equivalent\"\nunit = \"mm\"\n",
		"no name":     "[[variable]]\ncode = \"swe\"\n",
		"syntax":      "[[variable]\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadDictionary(writeDictionary(t, contents)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"3d", 72 * time.Hour, true},
		{"1.5d", 36 * time.Hour, true},
		{"90m", 90 * time.Minute, true},
		{" 1h30m ", 90 * time.Minute, true},
		{"d", 0, false},
		{"3 days", 0, false},
		{"", 0, false},
	}
	for _, test := range tests {
		have, err := ParseDuration(test.in)
		if test.ok && err != nil {
			t.Errorf("%q: %v", test.in, err)
		} else if !test.ok && err == nil {
			t.Errorf("%q: expected an error", test.in)
		}
		if have != test.want {
			t.Errorf("%q: have %v; want %v", test.in, have, test.want)
		}
	}
}

func TestSynthesisConfig(t *testing.T) {
	v := viper.New()
	v.Set("modelrun", "09079630-5ef8-11e4-9803-0800200c9a66")
	v.Set("parent", "373ae181-a0b2-4998-ba32-e27da190f6dd")
	v.Set("description", "unittest for download")
	v.Set("Defaults.GeoName", "Dry Creek")
	v.Set("Defaults.GeoState", "Idaho")
	v.Set("dt", "3d")
	v.Set("begin", "2010-10-01 00:00:00")
	v.Set("procdate", "2015-07-14")
	v.Set("variables", []string{"T_a,e_a", "u"})
	v.Set("format", "bin")
	v.Set("theme", "snow")

	have, err := SynthesisConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	want := watershed.Synthesis{
		ModelRunID:  "09079630-5ef8-11e4-9803-0800200c9a66",
		ParentID:    "373ae181-a0b2-4998-ba32-e27da190f6dd",
		Description: "unittest for download",
		GeoName:     "Dry Creek",
		GeoState:    "Idaho",
		DT:          72 * time.Hour,
		Overrides: watershed.Overrides{
			Format:    watershed.FlatBinaryGrid,
			Variables: []string{"T_a", "e_a", "u"},
			Begin:     time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC),
			ProcDate:  time.Date(2015, 7, 14, 0, 0, 0, 0, time.UTC),
			Theme:     "snow",
		},
	}
	if diff := pretty.Diff(have, want); len(diff) > 0 {
		t.Errorf("synthesis differs: %v", diff)
	}

	t.Run("descriptive", func(t *testing.T) {
		v := viper.New()
		v.Set("descriptive", "../testdata/in.0000.golden.xml")
		s, err := SynthesisConfig(v)
		if err != nil {
			t.Fatal(err)
		}
		if d := s.Overrides.Descriptive; d == nil || d.DatasetName != "in.0000" {
			t.Errorf("descriptive metadata wasn't read: %+v", d)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, kv := range [][2]string{{"dt", "long"}, {"end", "later"}, {"format", "xls"}, {"descriptive", "missing.xml"}} {
			v := viper.New()
			v.Set(kv[0], kv[1])
			if _, err := SynthesisConfig(v); err == nil {
				t.Errorf("%s=%s: expected an error", kv[0], kv[1])
			}
		}
	})
}

func TestReadConfig_environment(t *testing.T) {
	t.Setenv("WATERSHED_DEFAULTS_TAXONOMY", "envtaxonomy")
	c, _, err := ReadConfig(Cfg)
	if err != nil {
		t.Fatal(err)
	}
	if c.Defaults.Taxonomy != "envtaxonomy" {
		t.Errorf("taxonomy %q; want it from the environment", c.Defaults.Taxonomy)
	}
}
