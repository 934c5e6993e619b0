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
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Default client settings.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultMaxRetries    = 4
	DefaultSettleTimeout = 10 * time.Second
)

// ClientConfig holds the connection settings of a Client.
type ClientConfig struct {
	// URL is the base URL of the repository, e.g.
	// https://vwp-dev.unm.edu.
	URL string

	// User and Password are the repository credentials.
	User, Password string

	// Timeout limits the duration of each HTTP request, including
	// reading the response. Downloads are only limited by it until the
	// response headers arrive. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of times requests that fail
	// transiently are retried. Zero means DefaultMaxRetries and a
	// negative value disables retries.
	MaxRetries int

	// SettleTimeout bounds how long WaitForDatasets polls.
	// Zero means DefaultSettleTimeout.
	SettleTimeout time.Duration

	// ObjectStore configures the object storage tier used by
	// SwiftUpload. It is optional.
	ObjectStore ObjectStoreConfig

	// Store, if not nil, is used for SwiftUpload instead of opening
	// ObjectStore.
	Store ObjectStore

	// Logger receives request and retry messages. If nil, the
	// logrus standard logger is used.
	Logger logrus.FieldLogger

	// Transport is the HTTP transport. If nil, http.DefaultTransport
	// is used.
	Transport http.RoundTripper
}

// Validate checks that the configuration is complete.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("cloud: invalid repository URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("cloud: repository URL %q must be an absolute http or https URL", c.URL)
	}
	if c.User == "" {
		return fmt.Errorf("cloud: repository user is required")
	}
	if c.Timeout < 0 || c.SettleTimeout < 0 {
		return fmt.Errorf("cloud: timeouts must not be negative")
	}
	if c.ObjectStore.Bucket != "" {
		if err := c.ObjectStore.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClientConfig) baseURL() string {
	return strings.TrimSuffix(c.URL, "/")
}

func (c *ClientConfig) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *ClientConfig) maxRetries() uint64 {
	switch {
	case c.MaxRetries < 0:
		return 0
	case c.MaxRetries == 0:
		return DefaultMaxRetries
	}
	return uint64(c.MaxRetries)
}

func (c *ClientConfig) settleTimeout() time.Duration {
	if c.SettleTimeout == 0 {
		return DefaultSettleTimeout
	}
	return c.SettleTimeout
}

func (c *ClientConfig) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

// ObjectStoreConfig specifies the object storage tier.
type ObjectStoreConfig struct {
	// Bucket is the location of the bucket in the format
	// provider://name, where provider is "file" for the local
	// filesystem, "gs" for Google Cloud Storage, "s3" for AWS S3, or
	// "minio" for an S3-compatible server at Endpoint.
	Bucket string

	// Endpoint, AccessKey, SecretKey and UseSSL are only used by the
	// minio provider.
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Region is the bucket region for the s3 and minio providers.
	Region string
}

// Validate checks that the bucket location is supported and that the
// minio provider has an endpoint and credentials.
func (c *ObjectStoreConfig) Validate() error {
	u, err := url.Parse(c.Bucket)
	if err != nil {
		return fmt.Errorf("cloud: invalid bucket %q: %v", c.Bucket, err)
	}
	switch u.Scheme {
	case "file", "gs", "s3":
	case "minio":
		if c.Endpoint == "" {
			return fmt.Errorf("cloud: minio bucket %q requires an endpoint", c.Bucket)
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return fmt.Errorf("cloud: minio bucket %q requires an access key and secret key", c.Bucket)
		}
	default:
		return fmt.Errorf("cloud: invalid storage provider %q", u.Scheme)
	}
	return nil
}
