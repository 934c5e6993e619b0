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

package cloud

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Errors that requests to the repository can match with errors.Is.
var (
	// ErrAuthentication is returned when the repository rejects the
	// client's credentials or session.
	ErrAuthentication = errors.New("cloud: authentication failed")

	// ErrConflict is returned when a request conflicts with the state
	// of the repository, for instance when a model run name is already
	// in use.
	ErrConflict = errors.New("cloud: conflict")

	// ErrNotFound is returned when the requested resource doesn't exist.
	ErrNotFound = errors.New("cloud: not found")
)

// StatusError is returned when the repository responds to a request
// with an unsuccessful HTTP status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("cloud: %s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	if b := strings.TrimSpace(e.Body); b != "" {
		if len(b) > 200 {
			b = b[:200] + "..."
		}
		msg += ": " + b
	}
	return msg
}

// Unwrap returns the sentinel error that matches the status code, if
// any.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthentication
	case http.StatusConflict:
		return ErrConflict
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	}
	return nil
}

// TransferError is returned when a file can't be transferred to or
// from the repository.
type TransferError struct {
	URL  string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("cloud: transferring %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("cloud: transferring %s to %s: %v", e.URL, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

func statusError(op string, code int, body []byte) error {
	return &StatusError{Op: op, StatusCode: code, Body: string(body)}
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }
