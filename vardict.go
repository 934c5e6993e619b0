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

import "sort"

// Variable describes a physical quantity stored in a model data file.
type Variable struct {
	// Code is the short name used inside data files, e.g. "T_a".
	Code string `json:"code" toml:"code"`

	// Name is the canonical long name, e.g. "air temperature".
	Name string `json:"name" toml:"name"`

	// Units are the physical units of the quantity.
	Units string `json:"units" toml:"units"`
}

// Dictionary maps variable codes to their descriptions.
type Dictionary map[string]Variable

var defaultDictionary = newDictionary(
	// Input forcing.
	Variable{"I_lw", "incoming thermal (long-wave) radiation", "W/m^2"},
	Variable{"T_a", "air temperature", "C"},
	Variable{"e_a", "vapor pressure", "Pa"},
	Variable{"u", "wind speed", "m/s"},
	Variable{"T_g", "soil temperature at 0.5 m depth", "C"},
	Variable{"S_n", "net solar radiation", "W/m^2"},

	// Energy and mass balance output.
	Variable{"R_n", "average net all-wave radiation", "W/m^2"},
	Variable{"H", "average sensible heat transfer", "W/m^2"},
	Variable{"L_v_E", "average latent heat exchange", "W/m^2"},
	Variable{"G", "average snow/soil heat exchange", "W/m^2"},
	Variable{"M", "average advected heat from precipitation", "W/m^2"},
	Variable{"delta_Q", "average sum of energy balance terms for snowcover", "W/m^2"},
	Variable{"E_s", "total evaporation", "kg/m^2"},
	Variable{"melt", "total melt", "kg/m^2"},
	Variable{"ro_predict", "total predicted runoff", "kg/m^2"},
	Variable{"cc_s", "snowcover cold content", "J/m^2"},

	// Snowpack state.
	Variable{"z_s", "predicted snow depth", "m"},
	Variable{"rho", "predicted average snow density", "kg/m^3"},
	Variable{"m_s", "predicted specific mass of snowcover", "kg/m^2"},
	Variable{"h2o", "predicted liquid water in snowcover", "kg/m^2"},
	Variable{"T_s_0", "predicted temperature of surface layer", "C"},
	Variable{"T_s_l", "predicted temperature of lower layer", "C"},
	Variable{"T_s", "predicted average temperature of snowcover", "C"},
	Variable{"z_s_l", "predicted depth of lower layer", "m"},
	Variable{"h2o_sat", "predicted percentage of liquid water saturation", "%"},

	// Initial conditions and static inputs.
	Variable{"z", "elevation", "m"},
	Variable{"z_0", "roughness length", "m"},
	Variable{"alt", "altitude", "m"},
	Variable{"mask", "basin mask", "1"},

	// Precipitation.
	Variable{"m_pp", "total precipitation mass", "kg/m^2"},
	Variable{"percent_snow", "percentage of precipitation mass that was snow", "%"},
	Variable{"rho_snow", "density of snowfall", "kg/m^3"},
	Variable{"T_pp", "average precipitation temperature", "C"},
)

func newDictionary(vars ...Variable) Dictionary {
	d := make(Dictionary, len(vars))
	for _, v := range vars {
		d[v.Code] = v
	}
	return d
}

// DefaultDictionary returns a copy of the built-in iSNOBAL variable
// dictionary.
func DefaultDictionary() Dictionary {
	return defaultDictionary.Merge()
}

// LookupVariable returns the built-in description of the variable
// with the given code.
func LookupVariable(code string) (Variable, error) {
	return defaultDictionary.Lookup(code)
}

// Lookup returns the description of the variable with the given code,
// or an *UnknownVariableError if there is none.
func (d Dictionary) Lookup(code string) (Variable, error) {
	v, ok := d[code]
	if !ok {
		return Variable{}, &UnknownVariableError{Code: code}
	}
	return v, nil
}

// Resolve looks up each of the given codes, in order.
func (d Dictionary) Resolve(codes []string) ([]Variable, error) {
	o := make([]Variable, len(codes))
	for i, c := range codes {
		v, err := d.Lookup(c)
		if err != nil {
			return nil, err
		}
		o[i] = v
	}
	return o, nil
}

// Merge returns a new dictionary holding the entries of d plus vars.
// Entries in vars replace entries in d with the same code.
// d is not modified.
func (d Dictionary) Merge(vars ...Variable) Dictionary {
	o := make(Dictionary, len(d)+len(vars))
	for k, v := range d {
		o[k] = v
	}
	for _, v := range vars {
		o[v.Code] = v
	}
	return o
}

// Codes returns the sorted variable codes in d.
func (d Dictionary) Codes() []string {
	o := make([]string, 0, len(d))
	for k := range d {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// bandLayouts holds the band order of the images iSNOBAL reads and
// writes, keyed by file name prefix.
var bandLayouts = map[string][]string{
	"in":     {"I_lw", "T_a", "e_a", "u", "T_g", "S_n"},
	"em":     {"R_n", "H", "L_v_E", "G", "M", "delta_Q", "E_s", "melt", "ro_predict", "cc_s"},
	"snow":   {"z_s", "rho", "m_s", "h2o", "T_s_0", "T_s_l", "T_s", "z_s_l", "h2o_sat"},
	"init":   {"z", "z_0", "z_s", "rho", "T_s_0", "T_s_l", "T_s", "h2o_sat"},
	"precip": {"m_pp", "percent_snow", "rho_snow", "T_pp"},
	"mask":   {"mask"},
	"dem":    {"alt"},
}

// BandLayout returns the variable codes, in band order, of an iSNOBAL
// image with the given file name prefix and number of bands.
// Input images omit net solar radiation at night, and initial condition
// images may omit the lower layer temperature.
func BandLayout(prefix string, nbands int) ([]string, bool) {
	layout, ok := bandLayouts[prefix]
	if !ok {
		return nil, false
	}
	switch {
	case nbands == len(layout):
		return append([]string(nil), layout...), true
	case prefix == "in" && nbands == len(layout)-1:
		return append([]string(nil), layout[:nbands]...), true
	case prefix == "init" && nbands == len(layout)-1:
		o := append([]string(nil), layout[:5]...)
		return append(o, layout[6:]...), true
	}
	return nil, false
}
