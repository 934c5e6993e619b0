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
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
)

const ipwHeaderPrefix = "!<header>"

// Limits on header values, which are checked before anything is
// allocated from them.
const (
	maxIPWBands       = 1024
	maxIPWSampleBytes = 8
)

// ipwHeader holds the parsed header blocks of an IPW image.
type ipwHeader struct {
	byteorder      string
	nlines, nsamps int
	nbands         int
	bytes          []int
	bits           []int
	maps           [][]float64 // lq map values by band
	units          []string    // lq units by band
	geo            bool
	bline, bsamp   float64
	dline, dsamp   float64
	geoUnits       string
	size           int64 // header length in bytes
}

// readIPW reads the header of an IPW image, the flat binary format
// iSNOBAL reads and writes.
func readIPW(path string, opts IntrospectOptions) (*FileAttributes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("watershed: opening %s: %v", path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("watershed: opening %s: %v", path, err)
	}

	h, err := parseIPWHeader(bufio.NewReader(f))
	if err != nil {
		return nil, &FormatError{Path: path, Format: FlatBinaryGrid, Err: err}
	}
	sampleBytes := 0
	for _, b := range h.bytes {
		sampleBytes += b
	}
	// Sizes are compared by division so that huge header values can't
	// overflow.
	data := fi.Size() - h.size
	line := int64(h.nsamps) * int64(sampleBytes)
	if int64(h.nsamps) > data || data%line != 0 || data/line != int64(h.nlines) {
		return nil, formatErrorf(path, FlatBinaryGrid,
			"image data is %d bytes; header specifies %d lines of %d %d-byte samples",
			data, h.nlines, h.nsamps, sampleBytes)
	}

	a := &FileAttributes{
		Rows:       h.nlines,
		Cols:       h.nsamps,
		Step:       opts.Step,
		BandRanges: make([][2]float64, h.nbands),
	}
	for i := range a.BandRanges {
		a.BandRanges[i] = h.bandRange(i)
	}
	if h.geo {
		a.XRes, a.YRes = math.Abs(h.dsamp), math.Abs(h.dline)
		a.MapUnits = h.geoUnits
		x0, x1 := h.bsamp, h.bsamp+float64(h.nsamps)*h.dsamp
		y0, y1 := h.bline, h.bline+float64(h.nlines)*h.dline
		a.Bounds = &geom.Bounds{
			Min: geom.Point{X: math.Min(x0, x1), Y: math.Min(y0, y1)},
			Max: geom.Point{X: math.Max(x0, x1), Y: math.Max(y0, y1)},
		}
		a.SpatialSelfReported = true
	}

	switch {
	case len(opts.Variables) > 0:
		if len(opts.Variables) != h.nbands {
			return nil, formatErrorf(path, FlatBinaryGrid, "%d variables supplied for %d bands",
				len(opts.Variables), h.nbands)
		}
		a.Variables = append([]string(nil), opts.Variables...)
	default:
		v, ok := BandLayout(namePrefix(path), h.nbands)
		if !ok {
			return nil, formatErrorf(path, FlatBinaryGrid,
				"variables must be supplied for a %d-band image that doesn't follow iSNOBAL naming", h.nbands)
		}
		a.Variables = v
	}
	return a, nil
}

// parseIPWHeader reads header blocks up to and including the image
// block that precedes the sample data.
func parseIPWHeader(r *bufio.Reader) (*ipwHeader, error) {
	h := new(ipwHeader)
	var block string
	band := -1
	first := true
	for {
		line, err := r.ReadString('\n')
		h.size += int64(len(line))
		if err == io.EOF {
			return nil, fmt.Errorf("header ends before image block")
		} else if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, ipwHeaderPrefix) {
			f := strings.Fields(line)
			if len(f) < 3 {
				return nil, fmt.Errorf("invalid header block line %q", line)
			}
			block = f[1]
			if band, err = strconv.Atoi(f[2]); err != nil {
				return nil, fmt.Errorf("invalid band number in %q", line)
			}
			if first {
				if block != "basic_image_i" {
					return nil, fmt.Errorf("first header block is %q; want basic_image_i", block)
				}
				first = false
				continue
			}
			if h.nbands <= 0 {
				return nil, fmt.Errorf("basic_image_i block doesn't specify nbands")
			}
			if block == "image" {
				break
			}
			if band >= h.nbands {
				return nil, fmt.Errorf("%s block for band %d of %d", block, band, h.nbands)
			}
			continue
		}
		if first {
			return nil, fmt.Errorf("missing %s line", ipwHeaderPrefix)
		}
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid header line %q", line)
		}
		if err := h.set(block, band, strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])); err != nil {
			return nil, err
		}
	}

	// The image block is followed by a form feed line.
	if b, err := r.Peek(2); err == nil && string(b) == "\f\n" {
		r.Discard(2)
		h.size += 2
	}

	if h.nlines <= 0 || h.nsamps <= 0 {
		return nil, fmt.Errorf("invalid image size %d×%d", h.nlines, h.nsamps)
	}
	for i, b := range h.bytes {
		if b <= 0 {
			return nil, fmt.Errorf("missing sample size for band %d", i)
		}
	}
	return h, nil
}

// set records the header value key = val from the given block.
func (h *ipwHeader) set(block string, band int, key, val string) error {
	if band < 0 && block != "basic_image_i" {
		return fmt.Errorf("%s block requires a band number", block)
	}
	var err error
	switch block {
	case "basic_image_i":
		switch key {
		case "byteorder":
			h.byteorder = val
		case "nlines":
			h.nlines, err = strconv.Atoi(val)
		case "nsamps":
			h.nsamps, err = strconv.Atoi(val)
		case "nbands":
			h.nbands, err = strconv.Atoi(val)
			if err == nil && h.nbands > maxIPWBands {
				return fmt.Errorf("nbands %d exceeds the limit of %d", h.nbands, maxIPWBands)
			}
			if err == nil && h.nbands > 0 {
				h.bytes = make([]int, h.nbands)
				h.bits = make([]int, h.nbands)
				h.maps = make([][]float64, h.nbands)
				h.units = make([]string, h.nbands)
			}
		}
	case "basic_image":
		switch key {
		case "bytes":
			h.bytes[band], err = strconv.Atoi(val)
			if err == nil && h.bytes[band] > maxIPWSampleBytes {
				return fmt.Errorf("band %d sample size %d exceeds the limit of %d bytes",
					band, h.bytes[band], maxIPWSampleBytes)
			}
		case "bits":
			h.bits[band], err = strconv.Atoi(val)
		}
	case "lq":
		switch key {
		case "map":
			f := strings.Fields(val)
			if len(f) != 2 {
				return fmt.Errorf("invalid lq map %q", val)
			}
			var v float64
			v, err = strconv.ParseFloat(f[1], 64)
			h.maps[band] = append(h.maps[band], v)
		case "units":
			h.units[band] = val
		}
	case "geo":
		h.geo = true
		switch key {
		case "bline":
			h.bline, err = strconv.ParseFloat(val, 64)
		case "bsamp":
			h.bsamp, err = strconv.ParseFloat(val, 64)
		case "dline":
			h.dline, err = strconv.ParseFloat(val, 64)
		case "dsamp":
			h.dsamp, err = strconv.ParseFloat(val, 64)
		case "units":
			h.geoUnits = val
		}
	}
	if err != nil {
		return fmt.Errorf("invalid %s value %q in %s block: %v", key, val, block, err)
	}
	return nil
}

// bandRange returns the range of physical values of band i: the
// linear quantization map if there is one, otherwise the range of the
// raw integer samples.
func (h *ipwHeader) bandRange(i int) [2]float64 {
	if m := h.maps[i]; len(m) > 0 {
		r := [2]float64{math.Inf(1), math.Inf(-1)}
		for _, v := range m {
			r[0] = math.Min(r[0], v)
			r[1] = math.Max(r[1], v)
		}
		return r
	}
	bits := h.bits[i]
	if bits <= 0 {
		bits = 8 * h.bytes[i]
	}
	return [2]float64{0, math.Exp2(float64(bits)) - 1}
}
