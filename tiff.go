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
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/google/tiff"
)

// TIFF and GeoTIFF tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagSamplesPerPixel = 277
	tagDateTime        = 306
	tagPixelScale      = 33550
	tagTiepoint        = 33922
	tagGeoKeyDirectory = 34735
)

// GeoTIFF keys.
const (
	keyGeographicType  = 2048
	keyGeogAngularUnit = 2054
	keyProjectedCSType = 3072
	keyProjLinearUnits = 3076

	userDefined = 32767
)

// TIFF field types.
const (
	tiffByte     = 1
	tiffASCII    = 2
	tiffShort    = 3
	tiffLong     = 4
	tiffRational = 5
	tiffDouble   = 12
)

var tiffTypeSize = map[uint16]int{
	tiffByte:     1,
	tiffASCII:    1,
	tiffShort:    2,
	tiffLong:     4,
	tiffRational: 8,
	tiffDouble:   8,
}

// unitNames are the labels of the EPSG unit of measure codes that
// appear in GeoTIFF files.
var unitNames = map[uint64]string{
	9001: "m",
	9002: "ft",
	9003: "ft",
	9101: "radians",
	9102: "degrees",
}

const tiffTimeLayout = "2006:01:02 15:04:05"

// tiffReader reads tag values from the first image file directory.
type tiffReader struct {
	ifd tiff.IFD
}

// readTIFF reads the attributes of a GeoTIFF file from the tags of its
// first image.
func readTIFF(path string, opts IntrospectOptions) (*FileAttributes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("watershed: opening %s: %v", path, err)
	}
	defer f.Close()

	tf, err := tiff.Parse(f, nil, nil)
	if err != nil {
		return nil, &FormatError{Path: path, Format: TaggedRaster, Err: err}
	}
	if m := tf.Version(); m != 42 {
		return nil, formatErrorf(path, TaggedRaster, "unsupported TIFF version %d", m)
	}
	ifds := tf.IFDs()
	if len(ifds) == 0 {
		return nil, formatErrorf(path, TaggedRaster, "no image file directory")
	}
	t := &tiffReader{ifd: ifds[0]}

	a := &FileAttributes{Step: opts.Step}
	if a.Cols, err = t.scalar(tagImageWidth); err != nil {
		return nil, &FormatError{Path: path, Format: TaggedRaster, Err: err}
	}
	if a.Rows, err = t.scalar(tagImageLength); err != nil {
		return nil, &FormatError{Path: path, Format: TaggedRaster, Err: err}
	}
	bands := 1
	if t.has(tagSamplesPerPixel) {
		if bands, err = t.scalar(tagSamplesPerPixel); err != nil {
			return nil, &FormatError{Path: path, Format: TaggedRaster, Err: err}
		}
	}

	if err := t.readGeoreference(a); err != nil {
		return nil, &FormatError{Path: path, Format: TaggedRaster, Err: err}
	}

	if t.has(tagDateTime) {
		s, err := t.ascii(tagDateTime)
		if err != nil {
			return nil, &FormatError{Path: path, Format: TaggedRaster, Err: err}
		}
		start, err := time.Parse(tiffTimeLayout, s)
		if err != nil {
			return nil, formatErrorf(path, TaggedRaster, "invalid DateTime tag %q", s)
		}
		a.Start = start
		a.End = start.Add(a.Step)
		a.TimeSelfReported = true
	}

	switch {
	case len(opts.Variables) > 0:
		if len(opts.Variables) != bands {
			return nil, formatErrorf(path, TaggedRaster, "%d variables supplied for %d bands",
				len(opts.Variables), bands)
		}
		a.Variables = append([]string(nil), opts.Variables...)
	default:
		// in.0010.I_lw.tif holds the variable I_lw.
		segs := nameSegments(path)
		if len(segs) >= 3 {
			v := segs[len(segs)-2]
			if strings.TrimLeft(v, "0123456789") != "" {
				a.Variables = []string{v}
			}
		}
	}
	return a, nil
}

func (t *tiffReader) has(tag uint16) bool {
	return t.ifd.HasField(tag)
}

// value returns the field type, the number of values and the raw value
// bytes of the given tag.
func (t *tiffReader) value(tag uint16) (uint16, int, tiff.FieldValue, error) {
	if !t.ifd.HasField(tag) {
		return 0, 0, nil, fmt.Errorf("missing tag %d", tag)
	}
	f := t.ifd.GetField(tag)
	typ := f.Type().ID()
	sz, ok := tiffTypeSize[typ]
	if !ok {
		return 0, 0, nil, fmt.Errorf("tag %d has unsupported field type %d", tag, typ)
	}
	v := f.Value()
	return typ, len(v.Bytes()) / sz, v, nil
}

// uints returns the values of an integer-valued tag.
func (t *tiffReader) uints(tag uint16) ([]uint64, error) {
	typ, n, v, err := t.value(tag)
	if err != nil {
		return nil, err
	}
	b, bo := v.Bytes(), v.Order()
	o := make([]uint64, n)
	for i := range o {
		switch typ {
		case tiffByte:
			o[i] = uint64(b[i])
		case tiffShort:
			o[i] = uint64(bo.Uint16(b[2*i:]))
		case tiffLong:
			o[i] = uint64(bo.Uint32(b[4*i:]))
		default:
			return nil, fmt.Errorf("tag %d has non-integer field type %d", tag, typ)
		}
	}
	return o, nil
}

func (t *tiffReader) scalar(tag uint16) (int, error) {
	v, err := t.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("tag %d has %d values; want 1", tag, len(v))
	}
	return int(v[0]), nil
}

// floats returns the values of a numeric tag.
func (t *tiffReader) floats(tag uint16) ([]float64, error) {
	typ, n, v, err := t.value(tag)
	if err != nil {
		return nil, err
	}
	b, bo := v.Bytes(), v.Order()
	o := make([]float64, n)
	for i := range o {
		switch typ {
		case tiffDouble:
			o[i] = math.Float64frombits(bo.Uint64(b[8*i:]))
		case tiffRational:
			num, den := bo.Uint32(b[8*i:]), bo.Uint32(b[8*i+4:])
			if den == 0 {
				return nil, fmt.Errorf("tag %d has zero denominator", tag)
			}
			o[i] = float64(num) / float64(den)
		case tiffShort:
			o[i] = float64(bo.Uint16(b[2*i:]))
		case tiffLong:
			o[i] = float64(bo.Uint32(b[4*i:]))
		default:
			return nil, fmt.Errorf("tag %d has non-numeric field type %d", tag, typ)
		}
	}
	return o, nil
}

func (t *tiffReader) ascii(tag uint16) (string, error) {
	typ, _, v, err := t.value(tag)
	if err != nil {
		return "", err
	}
	if typ != tiffASCII {
		return "", fmt.Errorf("tag %d has non-ASCII field type %d", tag, typ)
	}
	return strings.TrimRight(string(v.Bytes()), "\x00 "), nil
}

// geoKeys returns the GeoKeys whose values are stored directly in the
// key directory.
func (t *tiffReader) geoKeys() (map[uint64]uint64, error) {
	if !t.has(tagGeoKeyDirectory) {
		return nil, nil
	}
	d, err := t.uints(tagGeoKeyDirectory)
	if err != nil {
		return nil, err
	}
	if len(d) < 4 || uint64(len(d)) < 4+4*d[3] {
		return nil, fmt.Errorf("truncated GeoKey directory")
	}
	keys := make(map[uint64]uint64, d[3])
	for i := uint64(0); i < d[3]; i++ {
		k := d[4+4*i : 8+4*i]
		if k[1] == 0 {
			keys[k[0]] = k[3]
		}
	}
	return keys, nil
}

// readGeoreference fills in the resolution, extent and coordinate
// reference system of a.
func (t *tiffReader) readGeoreference(a *FileAttributes) error {
	if t.has(tagPixelScale) {
		scale, err := t.floats(tagPixelScale)
		if err != nil {
			return err
		}
		if len(scale) < 2 {
			return fmt.Errorf("ModelPixelScale has %d values; want 3", len(scale))
		}
		a.XRes, a.YRes = scale[0], scale[1]
		a.SpatialSelfReported = true

		if t.has(tagTiepoint) {
			tp, err := t.floats(tagTiepoint)
			if err != nil {
				return err
			}
			if len(tp) < 6 {
				return fmt.Errorf("ModelTiepoint has %d values; want 6", len(tp))
			}
			west := tp[3] - tp[0]*a.XRes
			north := tp[4] + tp[1]*a.YRes
			a.Bounds = &geom.Bounds{
				Min: geom.Point{X: west, Y: north - float64(a.Rows)*a.YRes},
				Max: geom.Point{X: west + float64(a.Cols)*a.XRes, Y: north},
			}
		}
	}

	keys, err := t.geoKeys()
	if err != nil {
		return err
	}
	if cs, ok := keys[keyProjectedCSType]; ok && cs != userDefined {
		a.SourceEPSG = int(cs)
		if u, ok := unitNames[keys[keyProjLinearUnits]]; ok {
			a.MapUnits = u
		} else if isUTM(a.SourceEPSG) {
			a.MapUnits = "m"
		}
	} else if gs, ok := keys[keyGeographicType]; ok && gs != userDefined {
		a.SourceEPSG = int(gs)
		a.MapUnits = "degrees"
		if u, ok := unitNames[keys[keyGeogAngularUnit]]; ok {
			a.MapUnits = u
		}
	} else if u, ok := unitNames[keys[keyProjLinearUnits]]; ok {
		a.MapUnits = u
	}
	return nil
}

// isUTM reports whether code is a NAD27, NAD83 or WGS 84 UTM zone.
func isUTM(code int) bool {
	return (code > 26700 && code <= 26722) || (code > 26900 && code <= 26923) ||
		(code > 32600 && code <= 32660) || (code > 32700 && code <= 32760)
}
