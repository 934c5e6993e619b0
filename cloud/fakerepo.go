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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spatialmodel/watershed"
)

const sessionCookie = "sessionid"

// FakeRepository is an in-memory repository server for testing.
// It implements the same HTTP interface as a real repository.
type FakeRepository struct {
	*httptest.Server

	User, Password string

	// store holds the object store tier. It may be nil.
	store ObjectStore

	mu       sync.Mutex
	sessions map[string]bool
	runs     []ModelRunRecord
	datasets []fakeDataset
	files    map[string][]byte // contents by model run id and file name
	objects  map[string]string // object keys by model run id and file name
	failures int
	failCode int
	requests map[string]int
}

type fakeDataset struct {
	runID, name string
	doc         json.RawMessage
}

// NewFakeRepository starts a repository server that accepts the given
// credentials. Files uploaded to the object store tier are expected to
// be in store, which may be nil if that tier isn't used.
// The server should be closed after use.
func NewFakeRepository(user, password string, store ObjectStore) *FakeRepository {
	f := &FakeRepository{
		User:     user,
		Password: password,
		store:    store,
		sessions: make(map[string]bool),
		files:    make(map[string][]byte),
		objects:  make(map[string]string),
		requests: make(map[string]int),
	}
	f.Server = httptest.NewServer(f)
	return f
}

// InjectFailures causes the next n requests, other than logins, to
// fail with the given status code.
func (f *FakeRepository) InjectFailures(n, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures, f.failCode = n, code
}

// Requests returns the number of requests received with the given
// method and path.
func (f *FakeRepository) Requests(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[method+" "+path]
}

// ClientConfig returns a configuration for a client of f.
func (f *FakeRepository) ClientConfig() ClientConfig {
	return ClientConfig{
		URL:      f.URL,
		User:     f.User,
		Password: f.Password,
		Store:    f.store,
	}
}

func (f *FakeRepository) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	f.mu.Lock()
	f.requests[r.Method+" "+p]++
	if f.failures > 0 && p != loginPath {
		f.failures--
		code := f.failCode
		f.mu.Unlock()
		http.Error(w, "injected failure", code)
		return
	}
	f.mu.Unlock()

	if p == loginPath {
		f.login(w, r)
		return
	}
	if !f.authorized(r) {
		http.Error(w, "not logged in", http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodPut && p == newModelRunPath:
		f.newModelRun(w, r)
	case r.Method == http.MethodGet && p == modelRunSearchPath:
		f.modelRunSearch(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(p, modelRunPath):
		f.deleteModelRun(w, strings.TrimPrefix(p, modelRunPath))
	case r.Method == http.MethodPost && p == uploadPath:
		f.upload(w, r)
	case r.Method == http.MethodPost && p == swiftRegisterPath:
		f.register(w, r)
	case r.Method == http.MethodPut && p == datasetsPath:
		f.insert(w, r)
	case r.Method == http.MethodGet && p == datasetSearchPath:
		f.datasetSearch(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(p, datasetsPath+"/"):
		f.download(w, r, strings.TrimPrefix(p, datasetsPath+"/"))
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeRepository) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != f.User || pass != f.Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	id := uuid.New().String()
	f.mu.Lock()
	f.sessions[id] = true
	f.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/", HttpOnly: true})
	fmt.Fprintln(w, "logged in")
}

func (f *FakeRepository) authorized(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[c.Value]
}

// run returns the index of the model run with the given id, or -1.
// The caller must hold f.mu.
func (f *FakeRepository) run(id string) int {
	for i, r := range f.runs {
		if r.UUID == id {
			return i
		}
	}
	return -1
}

func (f *FakeRepository) newModelRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"model_run_name"`
		Researcher  string `json:"researcher_name"`
		Description string `json:"description"`
		Keywords    string `json:"model_keywords"`
		Parent      string `json:"parent_model_run_uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "model_run_name is required", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.Name == req.Name {
			http.Error(w, fmt.Sprintf("model run %q already exists", req.Name), http.StatusConflict)
			return
		}
	}
	if req.Parent != "" && f.run(req.Parent) < 0 {
		http.Error(w, "no such parent model run", http.StatusNotFound)
		return
	}
	id := uuid.New().String()
	f.runs = append(f.runs, ModelRunRecord{
		UUID:        id,
		ParentUUID:  req.Parent,
		Name:        req.Name,
		Description: req.Description,
		Researcher:  req.Researcher,
		Keywords:    req.Keywords,
		Created:     time.Now().UTC().Truncate(time.Second),
	})
	w.WriteHeader(http.StatusCreated)
	fmt.Fprint(w, id)
}

func (f *FakeRepository) modelRunSearch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("model_run_name")
	f.mu.Lock()
	res := ModelRunResults{Records: []ModelRunRecord{}}
	for _, run := range f.runs {
		if name == "" || run.Name == name {
			res.Records = append(res.Records, run)
		}
	}
	f.mu.Unlock()
	res.Total = len(res.Records)
	writeJSON(w, res)
}

func (f *FakeRepository) deleteModelRun(w http.ResponseWriter, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.run(id)
	if i < 0 {
		http.Error(w, "no such model run", http.StatusNotFound)
		return
	}
	f.runs = append(f.runs[:i], f.runs[i+1:]...)

	datasets := f.datasets[:0]
	for _, d := range f.datasets {
		if d.runID != id {
			datasets = append(datasets, d)
		}
	}
	f.datasets = datasets
	prefix := id + "/"
	for k := range f.files {
		if strings.HasPrefix(k, prefix) {
			delete(f.files, k)
		}
	}
	for k, key := range f.objects {
		if strings.HasPrefix(k, prefix) {
			if f.store != nil {
				if err := f.store.Delete(context.Background(), key); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			delete(f.objects, k)
		}
	}
	fmt.Fprintln(w, "deleted")
}

func (f *FakeRepository) upload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var id, name, sum string
	var data []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, err := io.ReadAll(part)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch part.FormName() {
		case "modelid":
			id = string(b)
		case "file":
			name, data = part.FileName(), b
		case "sha256":
			sum = string(b)
		}
	}
	if name == "" {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	if h := sha256.Sum256(data); hex.EncodeToString(h[:]) != sum {
		http.Error(w, "checksum mismatch", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.run(id) < 0 {
		http.Error(w, "no such model run", http.StatusNotFound)
		return
	}
	f.files[id+"/"+name] = data
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintln(w, "uploaded")
}

func (f *FakeRepository) register(w http.ResponseWriter, r *http.Request) {
	var reg swiftRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.store == nil {
		http.Error(w, "no object store", http.StatusNotImplemented)
		return
	}
	rc, err := f.store.Get(r.Context(), reg.Key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h := sha256.New()
	n, err := io.Copy(h, rc)
	rc.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n != reg.Size || hex.EncodeToString(h.Sum(nil)) != reg.SHA256 {
		http.Error(w, "object doesn't match registration", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.run(reg.ModelRunUUID) < 0 {
		http.Error(w, "no such model run", http.StatusNotFound)
		return
	}
	f.objects[reg.ModelRunUUID+"/"+reg.Name] = reg.Key
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintln(w, "registered")
}

// insert validates and stores a dataset envelope. Invalid documents
// are rejected with status 500, as the repository does.
func (f *FakeRepository) insert(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var e watershed.Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		http.Error(w, "invalid document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if e.ModelRunUUID == "" || e.Name == "" {
		http.Error(w, "invalid document: model_run_uuid and name are required", http.StatusInternalServerError)
		return
	}
	if _, err := watershed.ParseDescriptive([]byte(e.Metadata.XML)); err != nil {
		http.Error(w, "invalid metadata: "+err.Error(), http.StatusInternalServerError)
		return
	}
	var doc bytes.Buffer
	if err := json.Compact(&doc, b); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.run(e.ModelRunUUID) < 0 {
		http.Error(w, "no such model run", http.StatusNotFound)
		return
	}
	d := fakeDataset{runID: e.ModelRunUUID, name: e.Name, doc: doc.Bytes()}
	for i, old := range f.datasets {
		if old.runID == d.runID && old.name == d.name {
			f.datasets[i] = d
			fmt.Fprintln(w, "updated")
			return
		}
	}
	f.datasets = append(f.datasets, d)
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintln(w, "inserted")
}

func (f *FakeRepository) datasetSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("model_run_uuid")
	limit, offset := -1, 0
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
	}

	f.mu.Lock()
	var match []json.RawMessage
	for _, d := range f.datasets {
		if id == "" || d.runID == id {
			match = append(match, d.doc)
		}
	}
	f.mu.Unlock()

	res := struct {
		Total    int               `json:"total"`
		Subtotal int               `json:"subtotal"`
		Results  []json.RawMessage `json:"results"`
	}{Total: len(match), Results: []json.RawMessage{}}
	if offset < len(match) {
		page := match[offset:]
		if limit >= 0 && limit < len(page) {
			page = page[:limit]
		}
		res.Results = page
	}
	res.Subtotal = len(res.Results)
	writeJSON(w, res)
}

func (f *FakeRepository) download(w http.ResponseWriter, r *http.Request, k string) {
	f.mu.Lock()
	data, isFile := f.files[k]
	key, isObject := f.objects[k]
	f.mu.Unlock()
	switch {
	case isFile:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	case isObject:
		rc, err := f.store.Get(r.Context(), key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		io.Copy(w, rc)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
