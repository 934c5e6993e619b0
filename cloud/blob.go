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
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// blobStore is an ObjectStore backed by a gocloud.dev bucket.
type blobStore struct {
	bucket *blob.Bucket
}

func (s *blobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("cloud: creating writer for blob %s: %v", key, err)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return fmt.Errorf("cloud: copying blob %s: %v", key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob %s: %v", key, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("cloud: wrote %d bytes to blob %s; want %d", n, key, size)
	}
	return nil
}

func (s *blobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("cloud: reading blob %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("cloud: reading blob %s: %v", key, err)
	}
	return r, nil
}

func (s *blobStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("cloud: deleting blob %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("cloud: deleting blob %s: %v", key, err)
	}
	return nil
}

func (s *blobStore) Close() error { return s.bucket.Close() }
