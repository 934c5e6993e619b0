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
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// Recognized dimension names.
var (
	yDimNames = []string{"y", "lat", "latitude", "south_north", "northing"}
	xDimNames = []string{"x", "lon", "longitude", "west_east", "easting"}
	tDimNames = []string{"time", "t", "Time"}
)

// Variables that conventionally hold the grid mapping of a file.
var gridMappingNames = []string{"crs", "spatial_ref", "transverse_mercator", "projection"}

// readNetCDF reads the attributes of a NetCDF classic file from its
// header and coordinate variables.
func readNetCDF(path string, opts IntrospectOptions) (*FileAttributes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("watershed: opening %s: %v", path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("watershed: opening %s: %v", path, err)
	}
	nc, err := cdf.Open(f)
	if err != nil {
		return nil, &FormatError{Path: path, Format: MultidimensionalArray, Err: err}
	}
	if errs := nc.Header.Check(); len(errs) > 0 {
		return nil, &FormatError{Path: path, Format: MultidimensionalArray, Err: errs[0]}
	}
	r := &ncReader{nc: nc, nrec: int(nc.Header.NumRecs(fi.Size()))}

	dims := nc.Header.Dimensions("")
	lengths := nc.Header.Lengths("")
	ydim, rows := findDim(dims, lengths, yDimNames)
	xdim, cols := findDim(dims, lengths, xDimNames)
	if ydim == "" || xdim == "" {
		return nil, formatErrorf(path, MultidimensionalArray, "no recognized spatial dimensions in %v", dims)
	}
	a := &FileAttributes{Rows: rows, Cols: cols, Step: opts.Step}

	if err := r.readSpace(a, xdim, ydim); err != nil {
		return nil, &FormatError{Path: path, Format: MultidimensionalArray, Err: err}
	}
	if a.SourceEPSG, err = r.epsg(); err != nil {
		return nil, &FormatError{Path: path, Format: MultidimensionalArray, Err: err}
	}
	if tdim, _ := findDim(dims, lengths, tDimNames); tdim != "" {
		if err := r.readTime(a, tdim); err != nil {
			return nil, &FormatError{Path: path, Format: MultidimensionalArray, Err: err}
		}
	}

	if len(opts.Variables) > 0 {
		for _, v := range opts.Variables {
			if nc.Header.Dimensions(v) == nil {
				return nil, formatErrorf(path, MultidimensionalArray, "no variable %q in file", v)
			}
		}
		a.Variables = append([]string(nil), opts.Variables...)
		return a, nil
	}
	// Data variables are the ones that vary over the spatial grid.
	for _, v := range nc.Header.Variables() {
		d := nc.Header.Dimensions(v)
		if len(d) >= 2 && d[len(d)-2] == ydim && d[len(d)-1] == xdim {
			a.Variables = append(a.Variables, v)
		}
	}
	return a, nil
}

// findDim returns the first dimension whose name is in names, and its
// length.
func findDim(dims []string, lengths []int, names []string) (string, int) {
	for _, n := range names {
		for i, d := range dims {
			if d == n {
				return d, lengths[i]
			}
		}
	}
	return "", 0
}

type ncReader struct {
	nc   *cdf.File
	nrec int
}

// readSpace reads the resolution and extent of the grid from the
// coordinate variables of the spatial dimensions.
func (r *ncReader) readSpace(a *FileAttributes, xdim, ydim string) error {
	xs, err := r.coordinate(xdim)
	if err != nil {
		return err
	}
	ys, err := r.coordinate(ydim)
	if err != nil {
		return err
	}
	if len(xs) < 2 || len(ys) < 2 {
		return nil
	}
	a.XRes = math.Abs(xs[1] - xs[0])
	a.YRes = math.Abs(ys[1] - ys[0])
	a.Bounds = geom.NewBounds()
	for _, x := range []float64{xs[0], xs[len(xs)-1]} {
		for _, y := range []float64{ys[0], ys[len(ys)-1]} {
			a.Bounds.Extend(geom.NewBoundsPoint(geom.Point{X: x, Y: y}))
		}
	}
	// Coordinates are cell centers.
	a.Bounds.Min.X -= a.XRes / 2
	a.Bounds.Max.X += a.XRes / 2
	a.Bounds.Min.Y -= a.YRes / 2
	a.Bounds.Max.Y += a.YRes / 2
	a.MapUnits = mapUnits(r.stringAttribute(xdim, "units"))
	a.SpatialSelfReported = true
	return nil
}

// coordinate returns the values of the coordinate variable of dim, or
// nil if there is none.
func (r *ncReader) coordinate(dim string) ([]float64, error) {
	d := r.nc.Header.Dimensions(dim)
	if len(d) != 1 || d[0] != dim {
		return nil, nil
	}
	return r.floats(dim)
}

// floats reads a one-dimensional numeric variable.
func (r *ncReader) floats(v string) ([]float64, error) {
	var rd cdf.Reader
	var n int
	if r.nc.Header.IsRecordVariable(v) {
		n = r.nrec
		if n <= 0 {
			return nil, nil
		}
		rd = r.nc.Reader(v, []int{0}, []int{n - 1})
	} else {
		n = r.nc.Header.Lengths(v)[0]
		rd = r.nc.Reader(v, nil, nil)
	}
	buf := rd.Zero(n)
	if _, err := rd.Read(buf); err != nil {
		return nil, fmt.Errorf("reading variable %s: %v", v, err)
	}
	o := make([]float64, n)
	switch d := buf.(type) {
	case []float64:
		copy(o, d)
	case []float32:
		for i, x := range d {
			o[i] = float64(x)
		}
	case []int32:
		for i, x := range d {
			o[i] = float64(x)
		}
	case []int16:
		for i, x := range d {
			o[i] = float64(x)
		}
	default:
		return nil, fmt.Errorf("variable %s has non-numeric type %T", v, buf)
	}
	return o, nil
}

// stringAttribute returns the value of a text attribute, or "".
func (r *ncReader) stringAttribute(v, a string) string {
	s, _ := r.nc.Header.GetAttribute(v, a).(string)
	return strings.TrimRight(s, "\x00")
}

// epsgAttribute returns the value of an integer or text attribute that
// holds an EPSG code.
func (r *ncReader) epsgAttribute(v, a string) (int, error) {
	switch x := r.nc.Header.GetAttribute(v, a).(type) {
	case nil:
		return 0, nil
	case []int32:
		if len(x) == 1 {
			return int(x[0]), nil
		}
	case []int16:
		if len(x) == 1 {
			return int(x[0]), nil
		}
	case string:
		return parseEPSG(strings.TrimRight(x, "\x00"))
	}
	return 0, fmt.Errorf("invalid EPSG attribute %s:%s", v, a)
}

// epsg returns the EPSG code of the coordinate reference system the file
// records, or zero.
func (r *ncReader) epsg() (int, error) {
	if code, err := r.epsgAttribute("", "epsg"); code != 0 || err != nil {
		return code, err
	}
	for _, v := range r.gridMappings() {
		for _, a := range []string{"epsg_code", "epsg"} {
			if code, err := r.epsgAttribute(v, a); code != 0 || err != nil {
				return code, err
			}
		}
		for _, a := range []string{"proj4", "proj4text", "proj4_params"} {
			if s := r.stringAttribute(v, a); s != "" {
				sr, err := proj.Parse(s)
				if err != nil {
					return 0, fmt.Errorf("invalid %s:%s attribute: %v", v, a, err)
				}
				return epsgFromSR(sr), nil
			}
		}
	}
	return 0, nil
}

// gridMappings returns the names of the variables that may describe the
// grid mapping.
func (r *ncReader) gridMappings() []string {
	var o []string
	seen := make(map[string]bool)
	for _, v := range r.nc.Header.Variables() {
		if gm := r.stringAttribute(v, "grid_mapping"); gm != "" && !seen[gm] {
			o = append(o, gm)
			seen[gm] = true
		}
	}
	for _, gm := range gridMappingNames {
		if !seen[gm] && r.nc.Header.Dimensions(gm) != nil {
			o = append(o, gm)
		}
	}
	return o
}

// readTime reads the time period of the file from the CF-style time
// coordinate variable of tdim.
func (r *ncReader) readTime(a *FileAttributes, tdim string) error {
	units := r.stringAttribute(tdim, "units")
	if units == "" {
		return nil
	}
	unit, ref, err := parseTimeUnits(units)
	if err != nil {
		return err
	}
	t, err := r.coordinate(tdim)
	if err != nil || len(t) == 0 {
		return err
	}
	if len(t) > 1 {
		a.Step = time.Duration((t[1] - t[0]) * float64(unit))
	}
	a.Start = ref.Add(time.Duration(t[0] * float64(unit)))
	a.End = ref.Add(time.Duration(t[len(t)-1] * float64(unit))).Add(a.Step)
	a.TimeSelfReported = true
	return nil
}

var timeUnits = map[string]time.Duration{
	"seconds": time.Second, "second": time.Second, "secs": time.Second, "sec": time.Second, "s": time.Second,
	"minutes": time.Minute, "minute": time.Minute, "mins": time.Minute, "min": time.Minute,
	"hours": time.Hour, "hour": time.Hour, "hrs": time.Hour, "hr": time.Hour, "h": time.Hour,
	"days": 24 * time.Hour, "day": 24 * time.Hour, "d": 24 * time.Hour,
}

var refTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimeUnits parses a CF time units string such as
// "hours since 2010-10-01 00:00:00".
func parseTimeUnits(s string) (time.Duration, time.Time, error) {
	parts := strings.SplitN(s, " since ", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("invalid time units %q", s)
	}
	unit, ok := timeUnits[strings.ToLower(strings.TrimSpace(parts[0]))]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unsupported time unit in %q", s)
	}
	ref := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), "UTC"))
	for _, layout := range refTimeLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return unit, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("invalid reference time in %q", s)
}

// mapUnits normalizes CF coordinate units to map unit labels.
func mapUnits(u string) string {
	switch strings.ToLower(u) {
	case "m", "meter", "meters", "metre", "metres":
		return "m"
	case "km", "kilometer", "kilometers", "kilometre", "kilometres":
		return "km"
	case "degrees_east", "degrees_north", "degree_east", "degree_north", "degrees", "degree":
		return "degrees"
	}
	return u
}

// parseEPSG parses EPSG codes written as "EPSG:26911" or "26911".
func parseEPSG(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ":"); i >= 0 && strings.EqualFold(s[:i], "epsg") {
		s = s[i+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("invalid EPSG code %q", s)
	}
	return code, nil
}

// epsgFromSR returns the EPSG code of common geographic and UTM
// coordinate reference systems, or zero.
func epsgFromSR(sr *proj.SR) int {
	datum := strings.ToLower(sr.DatumCode)
	if datum == "" {
		datum = strings.ToLower(sr.Ellps)
	}
	switch strings.ToLower(sr.Name) {
	case "utm":
		zone := int(sr.Zone)
		if math.IsNaN(sr.Zone) || zone < 1 || zone > 60 {
			return 0
		}
		switch datum {
		case "nad83", "grs80":
			if sr.UTMSouth {
				return 0
			}
			return 26900 + zone
		case "nad27", "clrk66":
			if sr.UTMSouth {
				return 0
			}
			return 26700 + zone
		case "wgs84":
			if sr.UTMSouth {
				return 32700 + zone
			}
			return 32600 + zone
		}
	case "longlat", "latlong", "lonlat", "latlon":
		switch datum {
		case "wgs84", "":
			return 4326
		case "nad83", "grs80":
			return 4269
		case "nad27", "clrk66":
			return 4267
		}
	}
	return 0
}
