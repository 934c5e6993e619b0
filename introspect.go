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
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"
)

// FileAttributes holds the spatial, temporal and variable information
// extracted from a data file.
type FileAttributes struct {
	Path   string
	Format Format

	// Rows and Cols are the grid dimensions.
	Rows, Cols int

	// XRes and YRes are the grid cell sizes in MapUnits.
	// They are zero when the file doesn't record them.
	XRes, YRes float64
	MapUnits   string

	// Bounds is the spatial extent of the grid, or nil if the file
	// doesn't record it.
	Bounds *geom.Bounds

	// SourceEPSG is the EPSG code of the coordinate reference system
	// recorded in the file, or zero.
	SourceEPSG int

	// Start and End are the time period covered by the file. They are
	// zero when the file doesn't record them.
	Start, End time.Time

	// Step is the native duration of one time step in the file.
	Step time.Duration

	// StepIndex is the time step number in iSNOBAL-style file names
	// such as in.0010, or -1.
	StepIndex int

	// Variables are the variable codes stored in the file, in band
	// order where that applies.
	Variables []string

	// BandRanges are the [min, max] physical value ranges of each band
	// of a flat binary grid.
	BandRanges [][2]float64

	// SpatialSelfReported and TimeSelfReported record whether the
	// file carried its own georeferencing and time information.
	SpatialSelfReported bool
	TimeSelfReported    bool
}

// Name returns the base name of the file.
func (a *FileAttributes) Name() string {
	return filepath.Base(a.Path)
}

// IntrospectOptions supply information that can't necessarily be read
// from the file itself.
type IntrospectOptions struct {
	// Format is the format family of the file. If it is UnknownFormat,
	// it is inferred from the file name.
	Format Format

	// Variables are the variable codes in the file, in band order.
	// They are required for flat binary grids whose names don't follow
	// the iSNOBAL conventions.
	Variables []string

	// Step is the native time step duration used when the file
	// doesn't record one.
	Step time.Duration
}

// Introspect reads the header of the data file at path and returns its
// attributes. Files whose layout doesn't match the format family
// result in a *FormatError.
func Introspect(path string, opts IntrospectOptions) (*FileAttributes, error) {
	f := opts.Format
	if f == UnknownFormat {
		var err error
		f, err = FormatFromPath(path)
		if err != nil {
			return nil, err
		}
	}
	if opts.Step <= 0 {
		opts.Step = time.Hour
	}

	var a *FileAttributes
	var err error
	switch f {
	case TaggedRaster:
		a, err = readTIFF(path, opts)
	case FlatBinaryGrid:
		a, err = readIPW(path, opts)
	case MultidimensionalArray:
		a, err = readNetCDF(path, opts)
	default:
		return nil, formatErrorf(path, f, "unsupported format family")
	}
	if err != nil {
		return nil, err
	}
	a.Path = path
	a.Format = f
	a.StepIndex = stepIndex(path)
	return a, nil
}

// nameSegments splits a file name such as in.0010.I_lw.tif into its
// period-separated parts.
func nameSegments(path string) []string {
	return strings.Split(filepath.Base(path), ".")
}

// stepIndex returns the first all-digit segment of the file name at
// path, or -1.
func stepIndex(path string) int {
	for _, s := range nameSegments(path)[1:] {
		if s == "" || strings.TrimLeft(s, "0123456789") != "" {
			continue
		}
		i, err := strconv.Atoi(s)
		if err == nil {
			return i
		}
	}
	return -1
}

// namePrefix returns the first segment of the file name at path.
func namePrefix(path string) string {
	return nameSegments(path)[0]
}
