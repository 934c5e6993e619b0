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

import "fmt"

// ContextError is returned when a parameter that is required to
// synthesize metadata was neither supplied nor available from the file.
type ContextError struct {
	Param  string
	Reason string
}

func (e *ContextError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("watershed: missing required parameter %s", e.Param)
	}
	return fmt.Sprintf("watershed: missing required parameter %s: %s", e.Param, e.Reason)
}

// FormatError is returned when a file does not match its declared
// format family or its layout cannot be read.
type FormatError struct {
	Path   string
	Format Format
	Err    error
}

func (e *FormatError) Error() string {
	if e.Format == UnknownFormat {
		return fmt.Sprintf("watershed: reading %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("watershed: reading %s as %s: %v", e.Path, e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// UnknownVariableError is returned when a variable code has no entry
// in the variable dictionary.
type UnknownVariableError struct {
	Code string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("watershed: unknown variable code %q", e.Code)
}

// formatErrorf is shorthand for creating a FormatError.
func formatErrorf(path string, f Format, format string, a ...interface{}) error {
	return &FormatError{Path: path, Format: f, Err: fmt.Errorf(format, a...)}
}
