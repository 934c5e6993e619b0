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
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/watershed"
)

// Upload sends the file at path to the repository's primary storage
// tier as part of the model run with the given id. The file is streamed
// rather than loaded into memory, and its SHA-256 checksum is sent after
// its contents so the repository can verify the transfer.
func (c *Client) Upload(ctx context.Context, id, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &TransferError{Path: path, Err: err}
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, id, path, f))
	}()

	target := c.base + uploadPath
	code, body, err := c.do(ctx, "upload", http.MethodPost, target, pr, mw.FormDataContentType())
	pr.Close()
	if err != nil {
		return &TransferError{URL: target, Path: path, Err: err}
	}
	if !isSuccess(code) {
		return &TransferError{URL: target, Path: path, Err: statusError("upload", code, body)}
	}
	c.log.WithFields(logrus.Fields{"model_run": id, "file": filepath.Base(path)}).Info("uploaded file")
	return nil
}

// writeUploadForm writes the multipart upload form for the file r.
func writeUploadForm(mw *multipart.Writer, id, path string, r io.Reader) error {
	if err := mw.WriteField("modelid", id); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	h := sha256.New()
	if _, err := io.Copy(fw, io.TeeReader(r, h)); err != nil {
		return err
	}
	if err := mw.WriteField("sha256", hex.EncodeToString(h.Sum(nil))); err != nil {
		return err
	}
	return mw.Close()
}

// swiftRegistration tells the repository about a file in the object
// store tier.
type swiftRegistration struct {
	ModelRunUUID string `json:"model_run_uuid"`
	Name         string `json:"name"`
	Key          string `json:"key"`
	SHA256       string `json:"sha256"`
	Size         int64  `json:"size"`
}

// ObjectKey returns the object store key of the file name in the model
// run with the given id.
func ObjectKey(id, name string) string {
	return id + "/" + name
}

// SwiftUpload stores the file at path in the object store tier and
// registers it with the repository as part of the model run with the
// given id. The client must have been configured with an object store.
func (c *Client) SwiftUpload(ctx context.Context, id, path string) error {
	if c.store == nil {
		return &TransferError{Path: path, Err: fmt.Errorf("no object store is configured")}
	}
	f, err := os.Open(path)
	if err != nil {
		return &TransferError{Path: path, Err: err}
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return &TransferError{Path: path, Err: err}
	}

	name := filepath.Base(path)
	key := ObjectKey(id, name)
	contentType := "application/octet-stream"
	if format, err := watershed.FormatFromPath(path); err == nil {
		contentType = format.MimeType()
	}
	h := sha256.New()
	if err := c.store.Put(ctx, key, io.TeeReader(f, h), fi.Size(), contentType); err != nil {
		return &TransferError{URL: key, Path: path, Err: err}
	}

	b, err := json.Marshal(swiftRegistration{
		ModelRunUUID: id,
		Name:         name,
		Key:          key,
		SHA256:       hex.EncodeToString(h.Sum(nil)),
		Size:         fi.Size(),
	})
	if err != nil {
		return &TransferError{URL: key, Path: path, Err: err}
	}
	target := c.base + swiftRegisterPath
	code, body, err := c.do(ctx, "register object", http.MethodPost, target,
		bytes.NewReader(b), "application/json")
	if err == nil && !isSuccess(code) {
		err = statusError("register object", code, body)
	}
	if err != nil {
		if derr := c.store.Delete(ctx, key); derr != nil {
			c.log.WithError(derr).WithField("key", key).Warn("removing unregistered object")
		}
		return &TransferError{URL: target, Path: path, Err: err}
	}
	c.log.WithFields(logrus.Fields{"model_run": id, "key": key, "size": fi.Size()}).Info("stored object")
	return nil
}

// Download saves the resource at url to the file dest. The file is
// written under a temporary name and only renamed to dest once the
// transfer is complete, so dest is left untouched if the download fails.
// A response status other than 2xx results in a *TransferError.
// The client timeout only applies until the response headers arrive;
// the body is read for as long as ctx allows.
func (c *Client) Download(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &TransferError{URL: url, Path: dest, Err: err}
	}
	timer := time.AfterFunc(c.cfg.timeout(), cancel)
	resp, err := c.transfer.Do(req)
	if !timer.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		return &TransferError{URL: url, Path: dest,
			Err: fmt.Errorf("no response within %v", c.cfg.timeout())}
	}
	if err != nil {
		return &TransferError{URL: url, Path: dest, Err: err}
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransferError{URL: url, Path: dest, Err: statusError("download", resp.StatusCode, body)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return &TransferError{URL: url, Path: dest, Err: err}
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return &TransferError{URL: url, Path: dest, Err: err}
	}
	c.log.WithFields(logrus.Fields{"url": url, "bytes": n}).Info("downloaded file")
	return nil
}
