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

import "time"

// Synthesis is the model-run context of a data file.
type Synthesis struct {
	ParentID    string
	ModelRunID  string
	Description string
	GeoName     string
	GeoState    string

	// DT is the interval the data represent when it differs from the
	// native time step of the file, for instance after hourly data has
	// been aggregated to daily values. When it is set, the end of the
	// time period is its beginning plus DT.
	DT time.Duration

	Overrides Overrides
}

// Overrides replace values that would otherwise be read from the data
// file or taken from the configuration. Zero values are ignored.
type Overrides struct {
	Format    Format
	Variables []string

	Begin, End time.Time
	ProcDate   time.Time
	Theme      string

	Rows, Cols int
	XRes, YRes float64
	MapUnits   string

	SourceEPSG, TargetEPSG int

	ModelName        string
	ModelSet         string
	ModelSetType     string
	ModelSetTaxonomy string
	Taxonomy         string

	// FileExt is the declared extension of the file. It must match the
	// format of the file.
	FileExt string

	// Descriptive is precomputed descriptive metadata to embed instead
	// of building it from the file.
	Descriptive *DescriptiveMetadata
}

// Synthesize reads the data file at path and creates its envelope. If
// cfg is nil, DefaultConfig is used. No envelope is returned if any step
// fails.
func Synthesize(path string, s Synthesis, cfg *Config) (*Envelope, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := s.Overrides
	attrs, err := Introspect(path, IntrospectOptions{
		Format:    o.Format,
		Variables: o.Variables,
		Step:      cfg.step(),
	})
	if err != nil {
		return nil, err
	}

	begin, end := o.Begin, o.End
	if begin.IsZero() {
		switch {
		case attrs.TimeSelfReported:
			if s.DT > 0 {
				begin = attrs.Start
			}
		case attrs.StepIndex >= 0 && !cfg.Timing.RunStart.IsZero():
			begin = cfg.Timing.RunStart.Add(time.Duration(attrs.StepIndex) * cfg.step())
		}
	}
	if s.DT > 0 && end.IsZero() && !begin.IsZero() {
		end = begin.Add(s.DT)
	}

	procDate := o.ProcDate
	if procDate.IsZero() {
		procDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	desc := o.Descriptive
	if desc == nil {
		desc, err = BuildDescriptive(attrs, DescriptiveConfig{
			ModelRunID:  s.ModelRunID,
			ParentID:    s.ParentID,
			Begin:       begin,
			End:         end,
			ProcDate:    procDate,
			Theme:       o.Theme,
			Researcher:  cfg.Researcher,
			GeoName:     s.GeoName,
			GeoState:    s.GeoState,
			Description: s.Description,
			Defaults:    cfg.Defaults,
			Overrides: SpatialOverrides{
				Rows:       o.Rows,
				Cols:       o.Cols,
				XRes:       o.XRes,
				YRes:       o.YRes,
				MapUnits:   o.MapUnits,
				SourceEPSG: o.SourceEPSG,
			},
			Dictionary: cfg.dictionary(),
		})
		if err != nil {
			return nil, err
		}
	}

	return BuildEnvelope(desc, attrs, EnvelopeConfig{
		ModelRunID:       s.ModelRunID,
		ParentID:         s.ParentID,
		Description:      s.Description,
		GeoName:          s.GeoName,
		GeoState:         s.GeoState,
		ModelName:        o.ModelName,
		ModelSet:         o.ModelSet,
		ModelSetType:     o.ModelSetType,
		ModelSetTaxonomy: o.ModelSetTaxonomy,
		Taxonomy:         o.Taxonomy,
		SourceEPSG:       o.SourceEPSG,
		TargetEPSG:       o.TargetEPSG,
		FileExt:          o.FileExt,
		Begin:            begin,
		End:              end,
		RepositoryURL:    cfg.RepositoryURL,
		ProcDate:         procDate,
		Researcher:       cfg.Researcher,
		Theme:            o.Theme,
		Defaults:         cfg.Defaults,
		Dictionary:       cfg.dictionary(),
	})
}
