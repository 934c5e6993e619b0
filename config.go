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
	"fmt"
	"strings"
	"time"
)

// Config holds site and operator settings that are used to fill in
// metadata fields that neither the caller nor the data file supplies.
type Config struct {
	Researcher Researcher
	Defaults   Defaults
	Timing     Timing

	// RepositoryURL is the base URL of the remote repository. It is
	// used to construct download path hints.
	RepositoryURL string

	// Dictionary resolves variable codes. If nil, the built-in
	// dictionary is used.
	Dictionary Dictionary
}

// Researcher identifies the person responsible for the data.
type Researcher struct {
	Name         string
	Organization string
	Email        string
}

// Defaults are fallback values for metadata fields.
// Values derived from a data file always take precedence over them.
type Defaults struct {
	// XRes and YRes are the grid cell sizes in MapUnits.
	XRes, YRes float64
	MapUnits   string

	// Theme is the descriptive metadata theme keyword.
	Theme string

	// SourceEPSG is the coordinate reference system of files that
	// don't record their own, and TargetEPSG is the system the
	// repository should serve the data in.
	SourceEPSG, TargetEPSG int

	ModelName        string
	ModelSet         string
	ModelSetType     string
	ModelSetTaxonomy string
	Taxonomy         string
}

// Timing describes the time axis of a model run.
type Timing struct {
	// RunStart is the time of the first time step of the model run.
	// When set, files named by the iSNOBAL time step convention
	// (e.g., in.0010) are placed on the time axis by their index.
	RunStart time.Time

	// Step is the native duration of one model time step.
	Step time.Duration
}

// DefaultConfig returns a configuration with the defaults used for
// iSNOBAL output.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			MapUnits:         "m",
			Theme:            "watershed",
			ModelName:        "isnobal",
			ModelSet:         "inputs",
			ModelSetType:     "grid",
			ModelSetTaxonomy: "grid",
			Taxonomy:         "geoimage",
		},
		Timing: Timing{Step: time.Hour},
	}
}

// Validate checks the configuration for values that would result in
// invalid metadata.
func (c *Config) Validate() error {
	if c.Defaults.XRes < 0 || c.Defaults.YRes < 0 {
		return fmt.Errorf("watershed: default resolution must not be negative: x=%g, y=%g",
			c.Defaults.XRes, c.Defaults.YRes)
	}
	if c.Defaults.SourceEPSG < 0 || c.Defaults.TargetEPSG < 0 {
		return fmt.Errorf("watershed: EPSG codes must not be negative: source=%d, target=%d",
			c.Defaults.SourceEPSG, c.Defaults.TargetEPSG)
	}
	if c.Timing.Step < 0 {
		return fmt.Errorf("watershed: time step must not be negative: %v", c.Timing.Step)
	}
	if c.RepositoryURL != "" && !strings.HasPrefix(c.RepositoryURL, "http://") &&
		!strings.HasPrefix(c.RepositoryURL, "https://") {
		return fmt.Errorf("watershed: repository URL %q must start with http:// or https://", c.RepositoryURL)
	}
	return nil
}

func (c *Config) dictionary() Dictionary {
	if c == nil || c.Dictionary == nil {
		return defaultDictionary
	}
	return c.Dictionary
}

func (c *Config) step() time.Duration {
	if c == nil || c.Timing.Step <= 0 {
		return time.Hour
	}
	return c.Timing.Step
}
