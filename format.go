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
	"path/filepath"
	"regexp"
	"strings"
)

// Format is the layout family of a model data file.
type Format int

// These are the supported format families.
const (
	UnknownFormat Format = iota

	// TaggedRaster is a GeoTIFF image with embedded geospatial tags.
	TaggedRaster

	// FlatBinaryGrid is an IPW image as read and written by iSNOBAL:
	// an ASCII header followed by raw band-interleaved samples.
	FlatBinaryGrid

	// MultidimensionalArray is a NetCDF classic file.
	MultidimensionalArray
)

func (f Format) String() string {
	switch f {
	case TaggedRaster:
		return "tagged raster"
	case FlatBinaryGrid:
		return "flat binary grid"
	case MultidimensionalArray:
		return "multidimensional array"
	default:
		return "unknown format"
	}
}

// Ext returns the file extension the repository uses for files of
// format f.
func (f Format) Ext() string {
	switch f {
	case TaggedRaster:
		return "tif"
	case FlatBinaryGrid:
		return "bin"
	case MultidimensionalArray:
		return "nc"
	default:
		return ""
	}
}

// MimeType returns the media type recorded for files of format f.
func (f Format) MimeType() string {
	switch f {
	case TaggedRaster:
		return "image/tiff"
	case FlatBinaryGrid:
		return "application/x-binary"
	case MultidimensionalArray:
		return "application/x-netcdf"
	default:
		return "application/octet-stream"
	}
}

// FormatFromExt returns the format that matches the given
// extension, which may or may not include the leading period.
func FormatFromExt(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "tif", "tiff", "geotiff":
		return TaggedRaster, nil
	case "bin", "ipw", "binary":
		return FlatBinaryGrid, nil
	case "nc", "ncf", "cdf", "netcdf":
		return MultidimensionalArray, nil
	}
	return UnknownFormat, fmt.Errorf("watershed: unsupported file extension %q", ext)
}

// isnobalName matches iSNOBAL time step file names such as in.0000
// or em.0120, which carry no extension.
var isnobalName = regexp.MustCompile(`^[A-Za-z_]+\.[0-9]+$`)

// FormatFromPath infers the format of the file at path from its name.
// iSNOBAL time step files without an extension are flat binary grids.
func FormatFromPath(path string) (Format, error) {
	base := filepath.Base(path)
	if isnobalName.MatchString(base) {
		return FlatBinaryGrid, nil
	}
	f, err := FormatFromExt(filepath.Ext(base))
	if err != nil {
		return UnknownFormat, &FormatError{Path: path, Err: err}
	}
	return f, nil
}
