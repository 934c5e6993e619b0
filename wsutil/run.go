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

package wsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/watershed"
	"github.com/spatialmodel/watershed/cloud"
)

// Synthesize creates the envelopes of the given data files. Each
// envelope is written as JSON to outDir/<file name>.json or, if outDir
// is empty, to w. No envelopes are written unless all are created
// successfully.
func Synthesize(w io.Writer, cfg *watershed.Config, s watershed.Synthesis, files []string, outDir string) ([]*watershed.Envelope, error) {
	envelopes := make([]*watershed.Envelope, len(files))
	docs := make([][]byte, len(files))
	for i, f := range files {
		e, err := watershed.Synthesize(os.ExpandEnv(f), s, cfg)
		if err != nil {
			return nil, err
		}
		if docs[i], err = e.JSON(); err != nil {
			return nil, err
		}
		envelopes[i] = e
		logrus.WithFields(logrus.Fields{
			"file":      f,
			"variables": e.ModelVars,
			"start":     e.Temporal.Start,
			"end":       e.Temporal.End,
		}).Debug("created envelope")
	}
	for i, f := range files {
		if outDir == "" {
			if _, err := fmt.Fprintf(w, "%s\n", docs[i]); err != nil {
				return nil, err
			}
			continue
		}
		path := filepath.Join(os.ExpandEnv(outDir), filepath.Base(f)+".json")
		if err := os.WriteFile(path, append(docs[i], '\n'), 0644); err != nil {
			return nil, fmt.Errorf("watershed: writing envelope: %v", err)
		}
		logrus.WithField("file", path).Info("wrote envelope")
	}
	return envelopes, nil
}

// Upload uploads the given files as part of model run id, to the
// object storage tier if swift is true and otherwise to the primary tier.
func Upload(ctx context.Context, w io.Writer, c *cloud.Client, id string, files []string, swift bool) error {
	if id == "" {
		return fmt.Errorf("watershed: a model run identifier (--modelrun) is required for upload")
	}
	for _, f := range files {
		f = os.ExpandEnv(f)
		var err error
		if swift {
			err = c.SwiftUpload(ctx, id, f)
		} else {
			err = c.Upload(ctx, id, f)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "uploaded %s\n", filepath.Base(f))
	}
	return nil
}

// Insert registers the metadata documents docs, which came from the
// sources named by names, with the repository and reports the result
// for each to w. It returns an error if any document is rejected.
func Insert(ctx context.Context, w io.Writer, c *cloud.Client, names []string, docs []interface{}) error {
	rs, err := c.InsertMetadataBatch(ctx, docs)
	if err != nil {
		return err
	}
	var rejected int
	for i, r := range rs {
		if r.OK() {
			fmt.Fprintf(w, "%s: inserted\n", names[i])
			continue
		}
		rejected++
		fmt.Fprintf(w, "%s: rejected: %v\n", names[i], r.Err())
	}
	if rejected > 0 {
		return fmt.Errorf("watershed: %d of %d documents were rejected", rejected, len(rs))
	}
	return nil
}

// readDocuments reads the JSON documents in the given files.
func readDocuments(files []string) ([]interface{}, error) {
	docs := make([]interface{}, len(files))
	for i, f := range files {
		b, err := os.ReadFile(os.ExpandEnv(f))
		if err != nil {
			return nil, fmt.Errorf("watershed: reading metadata document: %v", err)
		}
		docs[i] = b
	}
	return docs, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
