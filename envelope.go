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
	"fmt"
	"net/url"
	"strings"
	"time"
)

// EnvelopeTimeLayout is the layout of the times in an envelope.
const EnvelopeTimeLayout = "2006-01-02 15:04:05"

// Envelope is the metadata record the repository stores for each data
// file.
type Envelope struct {
	Description        string              `json:"description"`
	Name               string              `json:"name"`
	ModelRunUUID       string              `json:"model_run_uuid"`
	ParentModelRunUUID string              `json:"parent_model_run_uuid"`
	ModelName          string              `json:"model_name"`
	ModelSet           string              `json:"model_set"`
	ModelSetType       string              `json:"model_set_type"`
	ModelSetTaxonomy   string              `json:"model_set_taxonomy"`
	Taxonomy           string              `json:"taxonomy"`
	Ext                string              `json:"ext"`
	MimeType           string              `json:"mimetype"`
	ModelVars          string              `json:"model_vars"`
	Variables          []Variable          `json:"variables"`
	Watershed          string              `json:"watershed"`
	State              string              `json:"state"`
	Spatial            Spatial             `json:"spatial"`
	Temporal           Temporal            `json:"temporal"`
	Metadata           Metadata            `json:"metadata"`
	Standards          []Standard          `json:"standards"`
	Downloads          []map[string]string `json:"downloads"`
}

// Spatial is the spatial extent of an envelope.
type Spatial struct {
	EPSG     int       `json:"epsg"`
	OrigEPSG int       `json:"orig_epsg"`
	Rows     int       `json:"rows"`
	Cols     int       `json:"cols"`
	XRes     float64   `json:"xres"`
	YRes     float64   `json:"yres"`
	Units    string    `json:"units"`
	BBox     []float64 `json:"bbox,omitempty"`
}

// Temporal is the time period of an envelope.
type Temporal struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Metadata holds the descriptive metadata embedded in an envelope.
type Metadata struct {
	XML string `json:"xml"`
}

// Standard names a metadata standard an envelope conforms to.
type Standard struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// EnvelopeConfig holds the model-run context and repository fields for
// building an envelope.
type EnvelopeConfig struct {
	ModelRunID  string
	ParentID    string
	Description string
	GeoName     string
	GeoState    string

	ModelName        string
	ModelSet         string
	ModelSetType     string
	ModelSetTaxonomy string
	Taxonomy         string

	// SourceEPSG overrides the coordinate reference system of the
	// data. TargetEPSG defaults to the source.
	SourceEPSG, TargetEPSG int

	// FileExt is the declared extension of the data file. If it is set,
	// it must match the format of the file.
	FileExt string

	// Variables override the variable codes of the file.
	Variables []string

	// Begin and End override the time period of the data.
	Begin, End time.Time

	// RepositoryURL is the base of the download path hints.
	RepositoryURL string

	// ProcDate, Researcher and Theme are only used to build minimal
	// descriptive metadata.
	ProcDate   time.Time
	Researcher Researcher
	Theme      string

	Defaults   Defaults
	Dictionary Dictionary
}

// BuildEnvelope creates the envelope for the file described by attrs.
// If desc is nil, minimal descriptive metadata is built from attrs and
// c. Otherwise desc is embedded unchanged, which allows one descriptive
// document to be shared by several envelopes.
func BuildEnvelope(desc *DescriptiveMetadata, attrs *FileAttributes, c EnvelopeConfig) (*Envelope, error) {
	if c.ModelRunID == "" {
		return nil, &ContextError{Param: "model_run_id"}
	}
	if c.FileExt != "" {
		f, err := FormatFromExt(c.FileExt)
		if err != nil || f != attrs.Format {
			return nil, formatErrorf(attrs.Path, attrs.Format,
				"declared extension %q doesn't match the file format", c.FileExt)
		}
	}
	dict := c.Dictionary
	if dict == nil {
		dict = defaultDictionary
	}
	if len(c.Variables) > 0 {
		a := *attrs
		a.Variables = c.Variables
		attrs = &a
	}
	vars, err := dict.Resolve(attrs.Variables)
	if err != nil {
		return nil, err
	}

	if desc == nil {
		desc, err = BuildDescriptive(attrs, DescriptiveConfig{
			ModelRunID:  c.ModelRunID,
			ParentID:    c.ParentID,
			Begin:       c.Begin,
			End:         c.End,
			ProcDate:    c.ProcDate,
			Theme:       c.Theme,
			Researcher:  c.Researcher,
			GeoName:     c.GeoName,
			GeoState:    c.GeoState,
			Description: c.Description,
			Defaults:    c.Defaults,
			Overrides:   SpatialOverrides{SourceEPSG: c.SourceEPSG},
			Dictionary:  dict,
		})
		if err != nil {
			return nil, err
		}
	}
	doc, err := desc.XML()
	if err != nil {
		return nil, err
	}

	begin, end := desc.Begin, desc.End
	if !c.Begin.IsZero() {
		begin = c.Begin
	}
	if !c.End.IsZero() {
		end = c.End
	}
	if begin.IsZero() || end.IsZero() {
		return nil, &ContextError{Param: "begin/end", Reason: "descriptive metadata has no time period"}
	}

	orig := firstInt(c.SourceEPSG, attrs.SourceEPSG, desc.EPSG, c.Defaults.SourceEPSG)
	e := &Envelope{
		Description:        c.Description,
		Name:               attrs.Name(),
		ModelRunUUID:       c.ModelRunID,
		ParentModelRunUUID: c.ParentID,
		ModelName:          firstString(c.ModelName, c.Defaults.ModelName),
		ModelSet:           firstString(c.ModelSet, c.Defaults.ModelSet),
		ModelSetType:       firstString(c.ModelSetType, c.Defaults.ModelSetType),
		ModelSetTaxonomy:   firstString(c.ModelSetTaxonomy, c.Defaults.ModelSetTaxonomy),
		Taxonomy:           firstString(c.Taxonomy, c.Defaults.Taxonomy),
		Ext:                attrs.Format.Ext(),
		MimeType:           attrs.Format.MimeType(),
		ModelVars:          strings.Join(attrs.Variables, ","),
		Variables:          vars,
		Watershed:          c.GeoName,
		State:              c.GeoState,
		Spatial: Spatial{
			EPSG:     firstInt(c.TargetEPSG, c.Defaults.TargetEPSG, orig),
			OrigEPSG: orig,
			Rows:     desc.Rows,
			Cols:     desc.Cols,
			XRes:     desc.XRes,
			YRes:     desc.YRes,
			Units:    desc.MapUnits,
		},
		Temporal: Temporal{
			Start: begin.Format(EnvelopeTimeLayout),
			End:   end.Format(EnvelopeTimeLayout),
		},
		Metadata:  Metadata{XML: string(doc)},
		Standards: []Standard{{Name: metadataStandard, Version: metadataStandardVersion}},
		Downloads: []map[string]string{
			{attrs.Format.Ext(): DownloadURL(c.RepositoryURL, c.ModelRunID, attrs.Name())},
		},
	}
	if b := attrs.Bounds; b != nil && !b.Empty() {
		e.Spatial.BBox = []float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y}
	}
	if e.Variables == nil {
		e.Variables = []Variable{}
	}
	return e, nil
}

// DownloadURL returns the location the repository serves the file
// name of the given model run from.
func DownloadURL(repositoryURL, modelRunID, name string) string {
	return strings.TrimSuffix(repositoryURL, "/") + "/apps/vwp/datasets/" +
		url.PathEscape(modelRunID) + "/" + url.PathEscape(name)
}

// JSON returns e as an indented JSON document. The output only depends on
// the contents of e.
func (e *Envelope) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("watershed: marshaling envelope: %v", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
