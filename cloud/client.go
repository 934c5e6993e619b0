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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/watershed"
	"golang.org/x/net/publicsuffix"
)

// Repository endpoints.
const (
	loginPath          = "/apilogin"
	newModelRunPath    = "/apps/vwp/newmodelrun"
	modelRunSearchPath = "/apps/vwp/search/modelruns.json"
	modelRunPath       = "/apps/vwp/modelruns/"
	uploadPath         = "/apps/vwp/data"
	swiftRegisterPath  = "/apps/vwp/swift/register"
	datasetsPath       = "/apps/vwp/datasets"
	datasetSearchPath  = "/apps/vwp/search/datasets.json"
)

// Client is a session with a remote watershed data repository.
// A Client is safe for concurrent use.
type Client struct {
	cfg   ClientConfig
	base  string
	http  *http.Client
	log   logrus.FieldLogger
	store ObjectStore

	// transfer has no overall timeout, for bodies of any size.
	transfer *http.Client
}

// NewClient logs in to the repository specified by cfg and returns
// a client that uses the resulting session. Rejected credentials
// result in an error matching ErrAuthentication.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cloud: creating cookie jar: %v", err)
	}
	c := &Client{
		cfg:  cfg,
		base: cfg.baseURL(),
		http: &http.Client{
			Jar:       jar,
			Timeout:   cfg.timeout(),
			Transport: cfg.Transport,
		},
		transfer: &http.Client{
			Jar:       jar,
			Transport: cfg.Transport,
		},
		log:   cfg.logger(),
		store: cfg.Store,
	}
	if c.store == nil && cfg.ObjectStore.Bucket != "" {
		if c.store, err = OpenObjectStore(ctx, cfg.ObjectStore); err != nil {
			return nil, err
		}
	}
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+loginPath, nil)
	if err != nil {
		return fmt.Errorf("cloud: login: %v", err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud: login: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !isSuccess(resp.StatusCode) {
		return statusError("login", resp.StatusCode, body)
	}
	c.log.WithFields(logrus.Fields{"user": c.cfg.User, "url": c.base}).Info("logged in to repository")
	return nil
}

// Close releases the resources held by the client.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	c.transfer.CloseIdleConnections()
	if c.store != nil && c.cfg.Store == nil {
		return c.store.Close()
	}
	return nil
}

// retryable reports whether requests with the given method may be
// repeated after a transient failure.
func retryable(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodDelete
}

// errTransientStatus marks a server error response that may succeed
// if the request is repeated.
type errTransientStatus struct{ status string }

func (e errTransientStatus) Error() string { return e.status }

// newBackOff returns the retry schedule for a single request.
func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.cfg.timeout()
	return backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.maxRetries()), ctx)
}

// do sends a request to the repository and returns the response status
// code and body. Requests with retryable methods are repeated after
// transport errors and server errors; these requests must not have a
// body. An error is only returned if no response was received.
func (c *Client) do(ctx context.Context, op, method, target string, body io.Reader, contentType string) (int, []byte, error) {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.base + target
	}
	retry := retryable(method)
	log := c.log.WithFields(logrus.Fields{"op": op, "method": method})
	var code int
	var respBody []byte
	err := backoff.RetryNotify(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, target, body)
			if err != nil {
				return backoff.Permanent(err)
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			req.Header.Set("Accept", "application/json")
			resp, err := c.http.Do(req)
			if err != nil {
				if !retry {
					return backoff.Permanent(err)
				}
				return err
			}
			defer resp.Body.Close()
			code = resp.StatusCode
			if respBody, err = io.ReadAll(resp.Body); err != nil {
				if !retry {
					return backoff.Permanent(err)
				}
				return err
			}
			if retry && code >= 500 {
				return errTransientStatus{status: resp.Status}
			}
			return nil
		},
		c.newBackOff(ctx),
		func(err error, d time.Duration) {
			log.WithError(err).Warnf("retrying in %v", d)
		},
	)
	var ts errTransientStatus
	if err != nil && !errors.As(err, &ts) {
		return 0, nil, fmt.Errorf("cloud: %s: %w", op, err)
	}
	log.WithField("status", code).Debug("request complete")
	return code, respBody, nil
}

// getJSON sends a GET request and decodes the JSON response into v.
func (c *Client) getJSON(ctx context.Context, op, target string, v interface{}) error {
	code, body, err := c.do(ctx, op, http.MethodGet, target, nil, "")
	if err != nil {
		return err
	}
	if !isSuccess(code) {
		return statusError(op, code, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("cloud: %s: decoding response: %v", op, err)
	}
	return nil
}

// ModelRunRequest describes a new model run.
type ModelRunRequest struct {
	Name        string
	Researcher  string
	Description string
	Keywords    []string

	// ParentUUID is the identifier of the model run this one is
	// derived from, if any.
	ParentUUID string
}

// InitializeModelRun creates a new model run and returns its
// identifier. If the name is already used by an active model run, the
// returned error matches ErrConflict.
func (c *Client) InitializeModelRun(ctx context.Context, r ModelRunRequest) (string, error) {
	if r.Name == "" {
		return "", fmt.Errorf("cloud: initialize model run: name is required")
	}
	b, err := json.Marshal(map[string]string{
		"model_run_name":        r.Name,
		"researcher_name":       r.Researcher,
		"description":           r.Description,
		"model_keywords":        strings.Join(r.Keywords, ","),
		"parent_model_run_uuid": r.ParentUUID,
	})
	if err != nil {
		return "", fmt.Errorf("cloud: initialize model run: %v", err)
	}
	code, body, err := c.do(ctx, "initialize model run", http.MethodPut, newModelRunPath,
		bytes.NewReader(b), "application/json")
	if err != nil {
		return "", err
	}
	if !isSuccess(code) {
		return "", statusError("initialize model run", code, body)
	}
	id := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("cloud: initialize model run: invalid model run identifier %q: %v", id, err)
	}
	c.log.WithFields(logrus.Fields{"model_run": id, "name": r.Name}).Info("initialized model run")
	return id, nil
}

// ModelRunRecord is a model run search result.
type ModelRunRecord struct {
	UUID        string `json:"Model Run UUID"`
	ParentUUID  string `json:"Parent Model Run UUID,omitempty"`
	Name        string `json:"Model Run Name"`
	Description string `json:"Description"`
	Researcher  string `json:"Researcher Name"`

	// Keywords is a comma-separated list.
	Keywords string `json:"Keywords"`

	// Created is assigned by the repository.
	Created time.Time `json:"Created"`
}

// ModelRunResults holds the results of a model run search.
type ModelRunResults struct {
	Total   int              `json:"total"`
	Records []ModelRunRecord `json:"results"`
}

// ModelRunQuery filters a model run search. The zero value matches
// all model runs.
type ModelRunQuery struct {
	Name string
}

// ModelRunSearch lists the active model runs.
func (c *Client) ModelRunSearch(ctx context.Context, q ModelRunQuery) (*ModelRunResults, error) {
	v := url.Values{}
	if q.Name != "" {
		v.Set("model_run_name", q.Name)
	}
	target := modelRunSearchPath
	if len(v) > 0 {
		target += "?" + v.Encode()
	}
	r := new(ModelRunResults)
	if err := c.getJSON(ctx, "model run search", target, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteModelRun deletes a model run and its datasets. It returns false
// if the model run didn't exist.
func (c *Client) DeleteModelRun(ctx context.Context, id string) (bool, error) {
	code, body, err := c.do(ctx, "delete model run", http.MethodDelete, modelRunPath+url.PathEscape(id), nil, "")
	if err != nil {
		return false, err
	}
	switch {
	case isSuccess(code):
		c.log.WithField("model_run", id).Info("deleted model run")
		return true, nil
	case code == http.StatusNotFound:
		return false, nil
	}
	return false, statusError("delete model run", code, body)
}

// InsertResponse is the repository's response to a metadata insertion.
type InsertResponse struct {
	StatusCode int
	Body       string
}

// OK reports whether the document was accepted.
func (r *InsertResponse) OK() bool { return isSuccess(r.StatusCode) }

// Err returns a *StatusError if the document was rejected, and nil
// otherwise.
func (r *InsertResponse) Err() error {
	if r.OK() {
		return nil
	}
	return statusError("insert metadata", r.StatusCode, []byte(r.Body))
}

// InsertMetadata registers a dataset envelope with the repository. doc
// is a *watershed.Envelope, or a JSON document as a []byte or string.
// The repository's validation result is returned in the response rather
// than as an error, so an error is only returned if doc can't be
// encoded or no response was received.
func (c *Client) InsertMetadata(ctx context.Context, doc interface{}) (*InsertResponse, error) {
	var b []byte
	switch d := doc.(type) {
	case *watershed.Envelope:
		var err error
		if b, err = d.JSON(); err != nil {
			return nil, err
		}
	case []byte:
		b = d
	case json.RawMessage:
		b = d
	case string:
		b = []byte(d)
	default:
		return nil, fmt.Errorf("cloud: insert metadata: unsupported document type %T", doc)
	}
	code, body, err := c.do(ctx, "insert metadata", http.MethodPut, datasetsPath,
		bytes.NewReader(b), "application/json")
	if err != nil {
		return nil, err
	}
	r := &InsertResponse{StatusCode: code, Body: string(body)}
	log := c.log.WithField("status", code)
	if e, ok := doc.(*watershed.Envelope); ok {
		log = log.WithFields(logrus.Fields{"model_run": e.ModelRunUUID, "name": e.Name})
	}
	if r.OK() {
		log.Info("inserted metadata")
	} else {
		log.Warn("metadata rejected")
	}
	return r, nil
}

// InsertMetadataBatch inserts each of docs in turn. Rejected documents
// don't stop the batch; their status is in the corresponding response.
// If no response is received for a document, the responses so far are
// returned along with the error.
func (c *Client) InsertMetadataBatch(ctx context.Context, docs []interface{}) ([]*InsertResponse, error) {
	o := make([]*InsertResponse, 0, len(docs))
	for i, d := range docs {
		r, err := c.InsertMetadata(ctx, d)
		if err != nil {
			return o, fmt.Errorf("cloud: inserting document %d: %w", i, err)
		}
		o = append(o, r)
	}
	return o, nil
}

// DatasetQuery filters a dataset search.
type DatasetQuery struct {
	// ModelRunUUID restricts the search to one model run.
	ModelRunUUID string

	// Limit and Offset select a page of the results. Zero Limit
	// means no limit.
	Limit, Offset int
}

// DatasetResults holds the results of a dataset search.
type DatasetResults struct {
	// Total is the number of datasets that match the query,
	// regardless of the page size.
	Total int `json:"total"`

	Records []watershed.Envelope `json:"results"`
}

// DatasetSearch searches the registered datasets.
func (c *Client) DatasetSearch(ctx context.Context, q DatasetQuery) (*DatasetResults, error) {
	v := url.Values{}
	if q.ModelRunUUID != "" {
		v.Set("model_run_uuid", q.ModelRunUUID)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	target := datasetSearchPath
	if len(v) > 0 {
		target += "?" + v.Encode()
	}
	r := new(DatasetResults)
	if err := c.getJSON(ctx, "dataset search", target, r); err != nil {
		return nil, err
	}
	return r, nil
}

// WaitForDatasets polls the repository until at least n datasets are
// registered for the model run, for up to the configured settle
// timeout. Newly inserted datasets may take a moment to become
// searchable.
func (c *Client) WaitForDatasets(ctx context.Context, id string, n int) (*DatasetResults, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = c.cfg.settleTimeout()
	var r *DatasetResults
	err := backoff.Retry(func() error {
		var err error
		r, err = c.DatasetSearch(ctx, DatasetQuery{ModelRunUUID: id})
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.Total < n {
			return fmt.Errorf("cloud: model run %s has %d of %d datasets after %v",
				id, r.Total, n, c.cfg.settleTimeout())
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}
	return r, nil
}
