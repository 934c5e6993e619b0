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
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
)

// Layouts of dates and times in descriptive metadata.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

const (
	metadataStandard        = "FGDC Content Standard for Digital Geospatial Metadata"
	metadataStandardVersion = "FGDC-STD-001-1998"
)

// DescriptiveMetadata is an FGDC-style description of the spatial,
// temporal and thematic content of a data file.
type DescriptiveMetadata struct {
	// ModelRunID, ParentID and DatasetName identify the data file.
	ModelRunID  string
	ParentID    string
	DatasetName string

	ProcDate   time.Time
	Begin, End time.Time

	GeoName, GeoState string

	Rows, Cols int
	XRes, YRes float64
	MapUnits   string

	// EPSG is the coordinate reference system of the data, or zero.
	EPSG int

	Theme       string
	Researcher  Researcher
	Description string

	// FileExt is the repository file extension of the data file.
	FileExt   string
	Variables []Variable

	// raw holds the document when it was parsed rather than built.
	raw []byte
}

// SpatialOverrides replace the grid dimensions, resolution and units
// read from a data file. Zero values are ignored.
type SpatialOverrides struct {
	Rows, Cols int
	XRes, YRes float64
	MapUnits   string
	SourceEPSG int
}

// DescriptiveConfig holds the model-run context for building
// descriptive metadata.
type DescriptiveConfig struct {
	ModelRunID string
	ParentID   string

	// Begin and End are the time period of the data. They are only
	// required when the file doesn't record its own time period.
	Begin, End time.Time

	// ProcDate is the date the data were processed.
	ProcDate time.Time

	// Theme is the theme keyword. Defaults.Theme is used if it is empty.
	Theme string

	Researcher  Researcher
	GeoName     string
	GeoState    string
	Description string

	Defaults   Defaults
	Overrides  SpatialOverrides
	Dictionary Dictionary
}

// BuildDescriptive creates descriptive metadata for the file described
// by attrs. Values from c.Overrides take precedence over values read
// from the file, which take precedence over c.Defaults.
func BuildDescriptive(attrs *FileAttributes, c DescriptiveConfig) (*DescriptiveMetadata, error) {
	if c.ModelRunID == "" {
		return nil, &ContextError{Param: "model_run_id"}
	}
	if c.ProcDate.IsZero() {
		return nil, &ContextError{Param: "proc_date"}
	}
	d := &DescriptiveMetadata{
		ModelRunID:  c.ModelRunID,
		ParentID:    c.ParentID,
		DatasetName: attrs.Name(),
		ProcDate:    c.ProcDate,
		GeoName:     c.GeoName,
		GeoState:    c.GeoState,
		Researcher:  c.Researcher,
		Description: c.Description,
		FileExt:     attrs.Format.Ext(),
	}
	var err error
	if d.Begin, d.End, err = timePeriod(attrs, c.Begin, c.End); err != nil {
		return nil, err
	}

	d.Rows = firstInt(c.Overrides.Rows, attrs.Rows)
	d.Cols = firstInt(c.Overrides.Cols, attrs.Cols)
	if d.Rows <= 0 || d.Cols <= 0 {
		return nil, &ContextError{Param: "rows/cols", Reason: "grid size is unknown"}
	}
	var fileXRes, fileYRes float64
	var fileUnits string
	if attrs.SpatialSelfReported {
		fileXRes, fileYRes, fileUnits = attrs.XRes, attrs.YRes, attrs.MapUnits
	}
	d.XRes = firstFloat(c.Overrides.XRes, fileXRes, c.Defaults.XRes)
	d.YRes = firstFloat(c.Overrides.YRes, fileYRes, c.Defaults.YRes)
	if d.XRes <= 0 || d.YRes <= 0 {
		return nil, &ContextError{Param: "resolution", Reason: "not recorded in file and no default configured"}
	}
	d.MapUnits = firstString(c.Overrides.MapUnits, fileUnits, attrs.MapUnits, c.Defaults.MapUnits)
	if d.MapUnits == "" {
		return nil, &ContextError{Param: "map_units", Reason: "not recorded in file and no default configured"}
	}
	d.EPSG = firstInt(c.Overrides.SourceEPSG, attrs.SourceEPSG, c.Defaults.SourceEPSG)
	d.Theme = firstString(c.Theme, c.Defaults.Theme)
	if d.Theme == "" {
		return nil, &ContextError{Param: "theme"}
	}

	dict := c.Dictionary
	if dict == nil {
		dict = defaultDictionary
	}
	if d.Variables, err = dict.Resolve(attrs.Variables); err != nil {
		return nil, err
	}
	return d, nil
}

// timePeriod returns the time period of the data: explicit values first,
// then the file's own time period, then the explicit begin plus one
// native time step.
func timePeriod(attrs *FileAttributes, begin, end time.Time) (time.Time, time.Time, error) {
	if begin.IsZero() {
		if !attrs.TimeSelfReported {
			return begin, end, &ContextError{Param: "begin",
				Reason: fmt.Sprintf("%s files don't record their time period", attrs.Format)}
		}
		begin = attrs.Start
		if end.IsZero() {
			end = attrs.End
		}
	}
	if end.IsZero() {
		if attrs.Step <= 0 {
			return begin, end, &ContextError{Param: "end"}
		}
		end = begin.Add(attrs.Step)
	}
	if end.Before(begin) {
		return begin, end, &ContextError{Param: "end", Reason: "end is before begin"}
	}
	return begin, end, nil
}

func firstInt(v ...int) int {
	for _, x := range v {
		if x > 0 {
			return x
		}
	}
	return 0
}

func firstFloat(v ...float64) float64 {
	for _, x := range v {
		if x > 0 {
			return x
		}
	}
	return 0
}

func firstString(v ...string) string {
	for _, x := range v {
		if x != "" {
			return x
		}
	}
	return ""
}

// formatFloat formats x with the fewest digits that represent it
// exactly.
func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

// XML returns d as an FGDC-style XML document. The output only depends
// on the contents of d. Documents created by ParseDescriptive are
// returned unchanged.
func (d *DescriptiveMetadata) XML() ([]byte, error) {
	if d.raw != nil {
		return append([]byte(nil), d.raw...), nil
	}
	var contact *fgdcContact
	if d.Researcher != (Researcher{}) {
		contact = &fgdcContact{
			Person:       d.Researcher.Name,
			Organization: d.Researcher.Organization,
			Email:        d.Researcher.Email,
		}
	}
	doc := fgdcMetadata{
		IDInfo: fgdcIDInfo{
			Citation: fgdcCitation{
				Origin:   firstString(d.Researcher.Name, "Unknown"),
				PubDate:  d.ProcDate.Format(DateLayout),
				Title:    d.DatasetName,
				GeoForm:  "raster digital data",
				OtherCit: d.ModelRunID,
			},
			Abstract: firstString(d.Description, "Data set "+d.DatasetName),
			Purpose:  "model run data",
			Begin:    d.Begin.Format(DateLayout),
			BeginT:   d.Begin.Format(TimeLayout),
			End:      d.End.Format(DateLayout),
			EndT:     d.End.Format(TimeLayout),
			Current:  "ground condition",
			Progress: "Complete",
			Update:   "As needed",
			Theme:    fgdcTheme{Thesaurus: "None", Key: d.Theme},
			Contact:  contact,
		},
		SpatialDataOrg: fgdcSpatialDataOrg{
			Direct:   "Raster",
			RastType: "Grid Cell",
			Rows:     d.Rows,
			Cols:     d.Cols,
		},
		SpatialRef: fgdcSpatialRef{
			PlanarEncoding: "row and column",
			AbsRes:         formatFloat(d.XRes),
			OrdRes:         formatFloat(d.YRes),
			Units:          d.MapUnits,
		},
		Distribution: fgdcDistribution{
			FormName: d.FileExt,
		},
		MetaInfo: fgdcMetaInfo{
			Date:     d.ProcDate.Format(DateLayout),
			Contact:  contact,
			Standard: metadataStandard,
			Version:  metadataStandardVersion,
		},
	}
	if d.EPSG > 0 {
		doc.SpatialRef.GridSystem = &fgdcGridSystem{Name: "EPSG:" + strconv.Itoa(d.EPSG)}
	}
	if d.ParentID != "" {
		doc.IDInfo.Citation.LargerWork = &fgdcLargerWork{Title: d.ParentID}
	}
	for _, p := range []string{d.GeoName, d.GeoState} {
		if p == "" {
			continue
		}
		if doc.IDInfo.Place == nil {
			doc.IDInfo.Place = &fgdcPlace{Thesaurus: "None"}
		}
		doc.IDInfo.Place.Keys = append(doc.IDInfo.Place.Keys, p)
	}
	if len(d.Variables) > 0 {
		doc.EntityInfo = &fgdcEntityInfo{
			Label:      d.DatasetName,
			Definition: "Variables in " + d.DatasetName,
		}
		for _, v := range d.Variables {
			doc.EntityInfo.Attributes = append(doc.EntityInfo.Attributes,
				fgdcAttribute{Label: v.Code, Definition: v.Name, Units: v.Units})
		}
	}

	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("watershed: marshaling descriptive metadata: %v", err)
	}
	return append([]byte(xml.Header), b...), nil
}

type fgdcMetadata struct {
	XMLName        xml.Name           `xml:"metadata"`
	IDInfo         fgdcIDInfo         `xml:"idinfo"`
	SpatialDataOrg fgdcSpatialDataOrg `xml:"spdoinfo"`
	SpatialRef     fgdcSpatialRef     `xml:"spref"`
	EntityInfo     *fgdcEntityInfo    `xml:"eainfo>detailed,omitempty"`
	Distribution   fgdcDistribution   `xml:"distinfo"`
	MetaInfo       fgdcMetaInfo       `xml:"metainfo"`
}

type fgdcIDInfo struct {
	Citation fgdcCitation `xml:"citation>citeinfo"`
	Abstract string       `xml:"descript>abstract"`
	Purpose  string       `xml:"descript>purpose"`
	Begin    string       `xml:"timeperd>timeinfo>rngdates>begdate"`
	BeginT   string       `xml:"timeperd>timeinfo>rngdates>begtime"`
	End      string       `xml:"timeperd>timeinfo>rngdates>enddate"`
	EndT     string       `xml:"timeperd>timeinfo>rngdates>endtime"`
	Current  string       `xml:"timeperd>current"`
	Progress string       `xml:"status>progress"`
	Update   string       `xml:"status>update"`
	Theme    fgdcTheme    `xml:"keywords>theme"`
	Place    *fgdcPlace   `xml:"keywords>place,omitempty"`
	Contact  *fgdcContact `xml:"ptcontac>cntinfo,omitempty"`
}

type fgdcTheme struct {
	Thesaurus string `xml:"themekt"`
	Key       string `xml:"themekey"`
}

type fgdcPlace struct {
	Thesaurus string   `xml:"placekt"`
	Keys      []string `xml:"placekey"`
}

type fgdcCitation struct {
	Origin     string          `xml:"origin"`
	PubDate    string          `xml:"pubdate"`
	Title      string          `xml:"title"`
	GeoForm    string          `xml:"geoform"`
	OtherCit   string          `xml:"othercit"`
	LargerWork *fgdcLargerWork `xml:"lworkcit>citeinfo,omitempty"`
}

type fgdcLargerWork struct {
	Title string `xml:"title"`
}

type fgdcContact struct {
	Person       string `xml:"cntperp>cntper"`
	Organization string `xml:"cntperp>cntorg,omitempty"`
	Email        string `xml:"cntemail,omitempty"`
}

type fgdcSpatialDataOrg struct {
	Direct   string `xml:"direct"`
	RastType string `xml:"rastinfo>rasttype"`
	Rows     int    `xml:"rastinfo>rowcount"`
	Cols     int    `xml:"rastinfo>colcount"`
}

type fgdcSpatialRef struct {
	GridSystem     *fgdcGridSystem `xml:"horizsys>planar>gridsys,omitempty"`
	PlanarEncoding string          `xml:"horizsys>planar>planci>plance"`
	AbsRes         string          `xml:"horizsys>planar>planci>coordrep>absres"`
	OrdRes         string          `xml:"horizsys>planar>planci>coordrep>ordres"`
	Units          string          `xml:"horizsys>planar>planci>plandu"`
}

type fgdcGridSystem struct {
	Name string `xml:"gridsysn"`
}

type fgdcEntityInfo struct {
	Label      string          `xml:"enttyp>enttypl"`
	Definition string          `xml:"enttyp>enttypd"`
	Attributes []fgdcAttribute `xml:"attr"`
}

type fgdcAttribute struct {
	Label      string `xml:"attrlabl"`
	Definition string `xml:"attrdef"`
	Units      string `xml:"attrdomv>rdom>attrunit"`
}

type fgdcDistribution struct {
	FormName string `xml:"stdorder>digform>digtinfo>formname"`
}

type fgdcMetaInfo struct {
	Date     string       `xml:"metd"`
	Contact  *fgdcContact `xml:"metc>cntinfo,omitempty"`
	Standard string       `xml:"metstdn"`
	Version  string       `xml:"metstdv"`
}

// ParseDescriptive reads a precomputed FGDC-style document. The
// returned metadata serializes back to raw unchanged.
func ParseDescriptive(raw []byte) (*DescriptiveMetadata, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("watershed: parsing descriptive metadata: %v", err)
	}
	if n, err := xmlquery.Query(doc, "/metadata"); err != nil || n == nil {
		return nil, fmt.Errorf("watershed: parsing descriptive metadata: missing metadata element")
	}
	text := func(expr string) string {
		n, err := xmlquery.Query(doc, expr)
		if err != nil || n == nil {
			return ""
		}
		return strings.TrimSpace(n.InnerText())
	}

	d := &DescriptiveMetadata{
		ModelRunID:  text("/metadata/idinfo/citation/citeinfo/othercit"),
		ParentID:    text("/metadata/idinfo/citation/citeinfo/lworkcit/citeinfo/title"),
		DatasetName: text("/metadata/idinfo/citation/citeinfo/title"),
		Theme:       text("/metadata/idinfo/keywords/theme/themekey"),
		Description: text("/metadata/idinfo/descript/abstract"),
		MapUnits:    text("/metadata/spref/horizsys/planar/planci/plandu"),
		FileExt:     text("/metadata/distinfo/stdorder/digform/digtinfo/formname"),
		Researcher: Researcher{
			Name:         text("/metadata/idinfo/ptcontac/cntinfo/cntperp/cntper"),
			Organization: text("/metadata/idinfo/ptcontac/cntinfo/cntperp/cntorg"),
			Email:        text("/metadata/idinfo/ptcontac/cntinfo/cntemail"),
		},
		raw: append([]byte(nil), raw...),
	}
	places, err := xmlquery.QueryAll(doc, "/metadata/idinfo/keywords/place/placekey")
	if err != nil {
		return nil, fmt.Errorf("watershed: parsing descriptive metadata: %v", err)
	}
	if len(places) > 0 {
		d.GeoName = strings.TrimSpace(places[0].InnerText())
	}
	if len(places) > 1 {
		d.GeoState = strings.TrimSpace(places[1].InnerText())
	}

	parseTime := func(date, clock string) (time.Time, error) {
		if date == "" {
			return time.Time{}, nil
		}
		if clock == "" {
			return time.Parse(DateLayout, date)
		}
		return time.Parse(DateLayout+" "+TimeLayout, date+" "+clock)
	}
	const period = "/metadata/idinfo/timeperd/timeinfo/rngdates/"
	if d.Begin, err = parseTime(text(period+"begdate"), text(period+"begtime")); err != nil {
		return nil, fmt.Errorf("watershed: parsing descriptive metadata: begin: %v", err)
	}
	if d.End, err = parseTime(text(period+"enddate"), text(period+"endtime")); err != nil {
		return nil, fmt.Errorf("watershed: parsing descriptive metadata: end: %v", err)
	}
	if d.ProcDate, err = parseTime(text("/metadata/idinfo/citation/citeinfo/pubdate"), ""); err != nil {
		return nil, fmt.Errorf("watershed: parsing descriptive metadata: processing date: %v", err)
	}

	const raster = "/metadata/spdoinfo/rastinfo/"
	if s := text(raster + "rowcount"); s != "" {
		if d.Rows, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("watershed: parsing descriptive metadata: row count: %v", err)
		}
	}
	if s := text(raster + "colcount"); s != "" {
		if d.Cols, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("watershed: parsing descriptive metadata: column count: %v", err)
		}
	}
	if s := text("/metadata/spref/horizsys/planar/gridsys/gridsysn"); s != "" {
		if d.EPSG, err = parseEPSG(s); err != nil {
			return nil, fmt.Errorf("watershed: parsing descriptive metadata: %v", err)
		}
	}
	const coordrep = "/metadata/spref/horizsys/planar/planci/coordrep/"
	if s := text(coordrep + "absres"); s != "" {
		if d.XRes, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("watershed: parsing descriptive metadata: x resolution: %v", err)
		}
	}
	if s := text(coordrep + "ordres"); s != "" {
		if d.YRes, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("watershed: parsing descriptive metadata: y resolution: %v", err)
		}
	}

	attrs, err := xmlquery.QueryAll(doc, "/metadata/eainfo/detailed/attr")
	if err != nil {
		return nil, fmt.Errorf("watershed: parsing descriptive metadata: %v", err)
	}
	for _, a := range attrs {
		v := Variable{}
		if n := a.SelectElement("attrlabl"); n != nil {
			v.Code = strings.TrimSpace(n.InnerText())
		}
		if n := a.SelectElement("attrdef"); n != nil {
			v.Name = strings.TrimSpace(n.InnerText())
		}
		if n := xmlquery.FindOne(a, "attrdomv/rdom/attrunit"); n != nil {
			v.Units = strings.TrimSpace(n.InnerText())
		}
		d.Variables = append(d.Variables, v)
	}
	return d, nil
}
