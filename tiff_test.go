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
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/ctessum/geom"
)

type tiffField struct {
	tag, typ uint16
	count    uint32
	data     func(binary.ByteOrder) []byte
}

func tiffShorts(tag uint16, v ...uint16) tiffField {
	return tiffField{tag: tag, typ: tiffShort, count: uint32(len(v)), data: func(bo binary.ByteOrder) []byte {
		b := make([]byte, 2*len(v))
		for i, x := range v {
			bo.PutUint16(b[2*i:], x)
		}
		return b
	}}
}

func tiffDoubles(tag uint16, v ...float64) tiffField {
	return tiffField{tag: tag, typ: tiffDouble, count: uint32(len(v)), data: func(bo binary.ByteOrder) []byte {
		b := make([]byte, 8*len(v))
		for i, x := range v {
			bo.PutUint64(b[8*i:], math.Float64bits(x))
		}
		return b
	}}
}

func tiffText(tag uint16, s string) tiffField {
	b := append([]byte(s), 0)
	return tiffField{tag: tag, typ: tiffASCII, count: uint32(len(b)), data: func(binary.ByteOrder) []byte { return b }}
}

// writeTIFF writes a little-endian TIFF file holding a single IFD with
// the given fields and no image data.
func writeTIFF(t *testing.T, path string, fields ...tiffField) {
	t.Helper()
	writeTIFFOrder(t, path, binary.LittleEndian, fields...)
}

func writeTIFFOrder(t *testing.T, path string, bo binary.ByteOrder, fields ...tiffField) {
	t.Helper()
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })
	dataStart := 8 + 2 + 12*len(fields) + 4
	var ifd, data bytes.Buffer
	binary.Write(&ifd, bo, uint16(len(fields)))
	for _, f := range fields {
		binary.Write(&ifd, bo, f.tag)
		binary.Write(&ifd, bo, f.typ)
		binary.Write(&ifd, bo, f.count)
		v := f.data(bo)
		if len(v) <= 4 {
			var inline [4]byte
			copy(inline[:], v)
			ifd.Write(inline[:])
			continue
		}
		binary.Write(&ifd, bo, uint32(dataStart+data.Len()))
		data.Write(v)
		if data.Len()%2 == 1 {
			data.WriteByte(0)
		}
	}
	binary.Write(&ifd, bo, uint32(0))

	var b bytes.Buffer
	if bo == binary.ByteOrder(binary.BigEndian) {
		b.WriteString("MM")
	} else {
		b.WriteString("II")
	}
	binary.Write(&b, bo, uint16(42))
	binary.Write(&b, bo, uint32(8))
	b.Write(ifd.Bytes())
	b.Write(data.Bytes())
	if err := os.WriteFile(path, b.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

// geoTIFFFields returns the fields of a 124×170 single-band GeoTIFF
// with 2.5 m cells in the given projected coordinate system.
func geoTIFFFields(epsg uint16, datetime string) []tiffField {
	f := []tiffField{
		tiffShorts(tagImageWidth, 124),
		tiffShorts(tagImageLength, 170),
		tiffShorts(tagSamplesPerPixel, 1),
		tiffDoubles(tagPixelScale, 2.5, 2.5, 0),
		tiffDoubles(tagTiepoint, 0, 0, 0, 500000, 4800000, 0),
		tiffShorts(tagGeoKeyDirectory,
			1, 1, 0, 2,
			1024, 0, 1, 1,
			keyProjectedCSType, 0, 1, epsg,
		),
	}
	if datetime != "" {
		f = append(f, tiffText(tagDateTime, datetime))
	}
	return f
}

func TestReadTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.0010.I_lw.tif")
	writeTIFF(t, path, geoTIFFFields(26911, "2010:10:01 10:00:00")...)

	a, err := Introspect(path, IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := &FileAttributes{
		Path:       path,
		Format:     TaggedRaster,
		Rows:       170,
		Cols:       124,
		XRes:       2.5,
		YRes:       2.5,
		MapUnits:   "m",
		SourceEPSG: 26911,
		Bounds: &geom.Bounds{
			Min: geom.Point{X: 500000, Y: 4799575},
			Max: geom.Point{X: 500310, Y: 4800000},
		},
		Start:               time.Date(2010, 10, 1, 10, 0, 0, 0, time.UTC),
		End:                 time.Date(2010, 10, 1, 11, 0, 0, 0, time.UTC),
		Step:                time.Hour,
		StepIndex:           10,
		Variables:           []string{"I_lw"},
		SpatialSelfReported: true,
		TimeSelfReported:    true,
	}
	if !reflect.DeepEqual(a, want) {
		t.Errorf("have %+v\nwant %+v", a, want)
	}
}

func TestReadTIFF_bigEndianGeographic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dem.tif")
	writeTIFFOrder(t, path, binary.BigEndian,
		tiffShorts(tagImageWidth, 124),
		tiffShorts(tagImageLength, 170),
		tiffDoubles(tagPixelScale, 0.5, 0.25, 0),
		tiffDoubles(tagTiepoint, 0, 0, 0, -116, 44, 0),
		tiffShorts(tagGeoKeyDirectory,
			1, 1, 0, 2,
			1024, 0, 1, 2,
			keyGeographicType, 0, 1, 4326,
		),
	)

	a, err := Introspect(path, IntrospectOptions{Variables: []string{"alt"}})
	if err != nil {
		t.Fatal(err)
	}
	if a.Rows != 170 || a.Cols != 124 {
		t.Errorf("size %d×%d; want 170×124", a.Rows, a.Cols)
	}
	if a.XRes != 0.5 || a.YRes != 0.25 {
		t.Errorf("resolution %g, %g; want 0.5, 0.25", a.XRes, a.YRes)
	}
	if a.SourceEPSG != 4326 || a.MapUnits != "degrees" {
		t.Errorf("crs %d %s; want 4326 degrees", a.SourceEPSG, a.MapUnits)
	}
	want := &geom.Bounds{
		Min: geom.Point{X: -116, Y: 1.5},
		Max: geom.Point{X: -54, Y: 44},
	}
	if !reflect.DeepEqual(a.Bounds, want) {
		t.Errorf("bounds %+v; want %+v", a.Bounds, want)
	}
}

func TestReadTIFF_variables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dem.tif")
	writeTIFF(t, path, geoTIFFFields(26911, "")...)

	a, err := Introspect(path, IntrospectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Variables) != 0 {
		t.Errorf("variables %v; want none", a.Variables)
	}
	if a.TimeSelfReported {
		t.Error("time should not be self-reported")
	}

	a, err = Introspect(path, IntrospectOptions{Variables: []string{"alt"}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Variables, []string{"alt"}) {
		t.Errorf("variables %v", a.Variables)
	}

	_, err = Introspect(path, IntrospectOptions{Variables: []string{"alt", "z"}})
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Format != TaggedRaster {
		t.Errorf("want tagged raster FormatError, have %v", err)
	}
}

func TestReadTIFF_invalid(t *testing.T) {
	dir := t.TempDir()
	for name, b := range map[string][]byte{
		"empty.tif":   {},
		"text.tif":    []byte("this is not a tiff file"),
		"bigtiff.tif": {'I', 'I', 43, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, b, 0644); err != nil {
			t.Fatal(err)
		}
		_, err := Introspect(path, IntrospectOptions{})
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("%s: want *FormatError, have %v", name, err)
		}
	}

	// A NetCDF file is not a tagged raster.
	path := filepath.Join(dir, "grid.nc")
	writeNetCDF(t, path, "")
	_, err := Introspect(path, IntrospectOptions{Format: TaggedRaster})
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Errorf("want *FormatError, have %v", err)
	}
}
