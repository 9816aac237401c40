/*
Copyright The Helm Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


/*
Package config loads the configuration of the chart repository server from
a TOML file.
*/
package config // import "helm.sh/chartrepo/internal/config"

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"helm.sh/chartrepo/pkg/createindex"
	"helm.sh/chartrepo/pkg/hosted"
	"helm.sh/chartrepo/pkg/proxy"
	"helm.sh/chartrepo/pkg/repository"
	"helm.sh/chartrepo/pkg/storage/blob"
)

// validate is shared; validator.Validate is safe for concurrent use.
var validate = validator.New()

// Defaults.
const (
	DefaultAddr         = ":8080"
	DefaultStorage      = "memory"
	DefaultBlobs        = "filesystem"
	DefaultBlobsPath    = "./data"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultMaxChartSize = hosted.DefaultMaxChartSize
)

// Duration is a time.Duration read from a TOML string such as "90s" or
// "1h". A bare integer is a number of minutes; "-1" means never.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n) * time.Minute
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete server configuration.
type Config struct {
	Server       Server       `toml:"server"`
	Log          Log          `toml:"log"`
	Storage      Storage      `toml:"storage"`
	Blobs        Blobs        `toml:"blobs"`
	Index        Index        `toml:"index"`
	Repositories []Repository `toml:"repository" validate:"dive"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr            string   `toml:"addr" validate:"required"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

// Storage selects the asset metadata store.
type Storage struct {
	Driver string `toml:"driver" validate:"oneof=memory postgres"`
	DSN    string `toml:"dsn" validate:"required_if=Driver postgres"`
}

// Blobs selects where the SQL storage driver keeps asset content.
type Blobs struct {
	Driver    string `toml:"driver" validate:"oneof=filesystem s3"`
	Path      string `toml:"path" validate:"required_if=Driver filesystem"`
	Bucket    string `toml:"bucket" validate:"required_if=Driver s3"`
	Prefix    string `toml:"prefix"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint" validate:"omitempty,url"`
	PathStyle bool   `toml:"path_style"`
}

// Index configures index building in hosted repositories.
type Index struct {
	RebuildInterval Duration `toml:"rebuild_interval"`
	MaxChartSize    int64    `toml:"max_chart_size" validate:"gte=0"`
}

// Repository declares one repository.
type Repository struct {
	Name                  string    `toml:"name" validate:"required"`
	Type                  string    `toml:"type" validate:"oneof=hosted proxy"`
	RemoteURL             string    `toml:"remote_url" validate:"required_if=Type proxy"`
	MetadataMaxAge        *Duration `toml:"metadata_max_age"`
	ContentMaxAge         *Duration `toml:"content_max_age"`
	Username              string    `toml:"username"`
	Password              string    `toml:"password"`
	CAFile                string    `toml:"ca_file" validate:"omitempty,file"`
	CertFile              string    `toml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile               string    `toml:"key_file" validate:"required_with=CertFile"`
	InsecureSkipTLSVerify bool      `toml:"insecure_skip_tls_verify"`
	PassCredentialsAll    bool      `toml:"pass_credentials_all"`
	Timeout               Duration  `toml:"timeout"`
}

// Default returns the configuration used for everything a file leaves out.
func Default() *Config {
	return &Config{
		Server:  Server{Addr: DefaultAddr, ShutdownTimeout: Duration{10 * time.Second}},
		Log:     Log{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Storage: Storage{Driver: DefaultStorage},
		Blobs:   Blobs{Driver: DefaultBlobs, Path: DefaultBlobsPath},
		Index: Index{
			RebuildInterval: Duration{createindex.DefaultInterval},
			MaxChartSize:    DefaultMaxChartSize,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "loading configuration %s", path)
	}
	return finish(cfg, md)
}

// Parse reads and validates a configuration from TOML text.
func Parse(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	return finish(cfg, md)
}

func finish(cfg *Config, md toml.MetaData) (*Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the rules spanning several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	var result *multierror.Error
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "server.addr"))
	}
	seen := map[string]bool{}
	for _, r := range c.RepositoryConfigs() {
		if seen[r.Name] {
			result = multierror.Append(result, errors.Errorf("repository %s is declared more than once", r.Name))
		}
		seen[r.Name] = true
		if err := r.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// RepositoryConfigs returns the declared repositories with defaults applied.
func (c *Config) RepositoryConfigs() []repository.Config {
	res := make([]repository.Config, 0, len(c.Repositories))
	for _, r := range c.Repositories {
		rc := repository.Config{
			Name:                  r.Name,
			Type:                  repository.Type(r.Type),
			RemoteURL:             r.RemoteURL,
			MetadataMaxAge:        proxy.DefaultMetadataMaxAge,
			ContentMaxAge:         proxy.DefaultContentMaxAge,
			Username:              r.Username,
			Password:              r.Password,
			CAFile:                r.CAFile,
			CertFile:              r.CertFile,
			KeyFile:               r.KeyFile,
			InsecureSkipTLSVerify: r.InsecureSkipTLSVerify,
			PassCredentialsAll:    r.PassCredentialsAll,
			Timeout:               r.Timeout.Duration,
			MaxChartSize:          c.Index.MaxChartSize,
			RebuildInterval:       c.Index.RebuildInterval.Duration,
		}
		if r.MetadataMaxAge != nil {
			rc.MetadataMaxAge = r.MetadataMaxAge.Duration
		}
		if r.ContentMaxAge != nil {
			rc.ContentMaxAge = r.ContentMaxAge.Duration
		}
		res = append(res, rc)
	}
	return res
}

// BlobConfig returns the blob store settings.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver:       c.Blobs.Driver,
		Path:         c.Blobs.Path,
		Bucket:       c.Blobs.Bucket,
		Prefix:       c.Blobs.Prefix,
		Region:       c.Blobs.Region,
		Endpoint:     c.Blobs.Endpoint,
		UsePathStyle: c.Blobs.PathStyle,
	}
}
