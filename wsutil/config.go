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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/watershed"
	"github.com/spatialmodel/watershed/cloud"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ReadConfig creates the metadata and repository client configurations
// from cfg. The metadata configuration is validated; the client
// configuration is validated when a client is created from it.
func ReadConfig(cfg *viper.Viper) (*watershed.Config, *cloud.ClientConfig, error) {
	c := watershed.DefaultConfig()
	c.RepositoryURL = os.ExpandEnv(cfg.GetString("Connection.URL"))
	c.Researcher = watershed.Researcher{
		Name:         cfg.GetString("Researcher.Name"),
		Organization: cfg.GetString("Researcher.Organization"),
		Email:        cfg.GetString("Researcher.Email"),
	}

	var err error
	d := &c.Defaults
	if d.XRes, err = cast.ToFloat64E(cfg.Get("Defaults.XRes")); err != nil {
		return nil, nil, fmt.Errorf("watershed: reading configuration 'Defaults.XRes': %v", err)
	}
	if d.YRes, err = cast.ToFloat64E(cfg.Get("Defaults.YRes")); err != nil {
		return nil, nil, fmt.Errorf("watershed: reading configuration 'Defaults.YRes': %v", err)
	}
	if d.SourceEPSG, err = cast.ToIntE(cfg.Get("Defaults.SourceEPSG")); err != nil {
		return nil, nil, fmt.Errorf("watershed: reading configuration 'Defaults.SourceEPSG': %v", err)
	}
	if d.TargetEPSG, err = cast.ToIntE(cfg.Get("Defaults.TargetEPSG")); err != nil {
		return nil, nil, fmt.Errorf("watershed: reading configuration 'Defaults.TargetEPSG': %v", err)
	}
	setString(&d.MapUnits, cfg, "Defaults.MapUnits")
	setString(&d.Theme, cfg, "Defaults.Theme")
	setString(&d.ModelName, cfg, "Defaults.ModelName")
	setString(&d.ModelSet, cfg, "Defaults.ModelSet")
	setString(&d.ModelSetType, cfg, "Defaults.ModelSetType")
	setString(&d.ModelSetTaxonomy, cfg, "Defaults.ModelSetTaxonomy")
	setString(&d.Taxonomy, cfg, "Defaults.Taxonomy")

	if s := cfg.GetString("Timing.RunStart"); s != "" {
		if c.Timing.RunStart, err = parseTime(s); err != nil {
			return nil, nil, fmt.Errorf("watershed: reading configuration 'Timing.RunStart': %v", err)
		}
	}
	if s := cfg.GetString("Timing.Step"); s != "" {
		if c.Timing.Step, err = ParseDuration(s); err != nil {
			return nil, nil, fmt.Errorf("watershed: reading configuration 'Timing.Step': %v", err)
		}
	}
	if f := os.ExpandEnv(cfg.GetString("Dictionary.File")); f != "" {
		vars, err := ReadDictionary(f)
		if err != nil {
			return nil, nil, err
		}
		c.Dictionary = watershed.DefaultDictionary().Merge(vars...)
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	cc := &cloud.ClientConfig{
		URL:      c.RepositoryURL,
		User:     cfg.GetString("Connection.User"),
		Password: cfg.GetString("Connection.Password"),
		ObjectStore: cloud.ObjectStoreConfig{
			Bucket:    os.ExpandEnv(cfg.GetString("ObjectStore.Bucket")),
			Endpoint:  cfg.GetString("ObjectStore.Endpoint"),
			AccessKey: cfg.GetString("ObjectStore.AccessKey"),
			SecretKey: cfg.GetString("ObjectStore.SecretKey"),
			Region:    cfg.GetString("ObjectStore.Region"),
		},
		Logger: logrus.StandardLogger(),
	}
	if cc.ObjectStore.UseSSL, err = cast.ToBoolE(cfg.Get("ObjectStore.UseSSL")); err != nil {
		return nil, nil, fmt.Errorf("watershed: reading configuration 'ObjectStore.UseSSL': %v", err)
	}
	if cc.MaxRetries, err = cast.ToIntE(cfg.Get("Connection.MaxRetries")); err != nil {
		return nil, nil, fmt.Errorf("watershed: reading configuration 'Connection.MaxRetries': %v", err)
	}
	if s := cfg.GetString("Connection.Timeout"); s != "" {
		if cc.Timeout, err = ParseDuration(s); err != nil {
			return nil, nil, fmt.Errorf("watershed: reading configuration 'Connection.Timeout': %v", err)
		}
	}
	if s := cfg.GetString("Connection.SettleTimeout"); s != "" {
		if cc.SettleTimeout, err = ParseDuration(s); err != nil {
			return nil, nil, fmt.Errorf("watershed: reading configuration 'Connection.SettleTimeout': %v", err)
		}
	}
	return c, cc, nil
}

// setString sets *s to the value of the given configuration variable,
// if it isn't empty.
func setString(s *string, cfg *viper.Viper, name string) {
	if v := cfg.GetString(name); v != "" {
		*s = v
	}
}

// SynthesisConfig reads the model run context and the overrides for
// the synthesize command from cfg.
func SynthesisConfig(cfg *viper.Viper) (watershed.Synthesis, error) {
	s := watershed.Synthesis{
		ModelRunID:  cfg.GetString("modelrun"),
		ParentID:    cfg.GetString("parent"),
		Description: cfg.GetString("description"),
		GeoName:     cfg.GetString("Defaults.GeoName"),
		GeoState:    cfg.GetString("Defaults.GeoState"),
	}
	o := &s.Overrides
	var err error
	if v := cfg.GetString("dt"); v != "" {
		if s.DT, err = ParseDuration(v); err != nil {
			return s, fmt.Errorf("watershed: reading 'dt': %v", err)
		}
	}
	for _, t := range []struct {
		name string
		dst  *time.Time
	}{
		{"begin", &o.Begin},
		{"end", &o.End},
		{"procdate", &o.ProcDate},
	} {
		if v := cfg.GetString(t.name); v != "" {
			if *t.dst, err = parseTime(v); err != nil {
				return s, fmt.Errorf("watershed: reading '%s': %v", t.name, err)
			}
		}
	}
	if v := cfg.Get("variables"); v != nil {
		vars, err := cast.ToStringSliceE(v)
		if err != nil {
			return s, fmt.Errorf("watershed: reading 'variables': %v", err)
		}
		for _, v := range vars {
			for _, code := range strings.Split(v, ",") {
				if code = strings.TrimSpace(code); code != "" {
					o.Variables = append(o.Variables, code)
				}
			}
		}
	}
	if v := cfg.GetString("format"); v != "" {
		if o.Format, err = watershed.FormatFromExt(v); err != nil {
			return s, err
		}
	}
	o.Theme = cfg.GetString("theme")
	if f := os.ExpandEnv(cfg.GetString("descriptive")); f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return s, fmt.Errorf("watershed: reading descriptive metadata: %v", err)
		}
		if o.Descriptive, err = watershed.ParseDescriptive(b); err != nil {
			return s, err
		}
	}
	return s, nil
}

// dictionaryFile is the layout of a variable dictionary file:
//
//	[[variable]]
//	code = "swe"
//	name = "snow water equivalent"
//	units = "mm"
type dictionaryFile struct {
	Variable []watershed.Variable `toml:"variable"`
}

// ReadDictionary reads the variables in the TOML file at path.
func ReadDictionary(path string) ([]watershed.Variable, error) {
	var d dictionaryFile
	md, err := toml.DecodeFile(path, &d)
	if err != nil {
		return nil, fmt.Errorf("watershed: reading variable dictionary: %v", err)
	}
	if u := md.Undecoded(); len(u) > 0 {
		return nil, fmt.Errorf("watershed: reading variable dictionary %s: unknown keys %v", path, u)
	}
	for i, v := range d.Variable {
		if v.Code == "" || v.Name == "" {
			return nil, fmt.Errorf("watershed: reading variable dictionary %s: variable %d requires a code and a name", path, i)
		}
	}
	return d.Variable, nil
}

// ParseDuration parses a duration such as "90m" or "1h30m". It also
// accepts a number of days, such as "3d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// parseTime parses a time such as "2010-10-01 00:00:00",
// "2010-10-01T00:00:00Z", or "2010-10-01". Times without a zone are UTC.
func parseTime(s string) (time.Time, error) {
	t, err := cast.ToTimeE(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
