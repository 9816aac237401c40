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


package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"helm.sh/chartrepo/internal/config"
	"helm.sh/chartrepo/internal/version"
	"helm.sh/chartrepo/pkg/cli/require"
	"helm.sh/chartrepo/pkg/events"
	"helm.sh/chartrepo/pkg/repository"
	"helm.sh/chartrepo/pkg/server"
	"helm.sh/chartrepo/pkg/storage"
	"helm.sh/chartrepo/pkg/storage/blob"
	"helm.sh/chartrepo/pkg/storage/driver"
)

const serveDesc = `
Run the chart repository server.

The repositories to serve, the storage backend and logging are read from a
TOML configuration file given with '--config'. Without one, the server starts
with in-memory storage and no repositories.

The server stops gracefully on SIGINT or SIGTERM.
`

type serveOptions struct {
	addr       string
	configFile string
}

func newServeCmd(g *globalOptions, out io.Writer) *cobra.Command {
	o := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the chart repository server",
		Long:  serveDesc,
		Args:  require.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return o.run(ctx, g)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "", "address to listen on, overrides the configuration file")
	f.StringVarP(&o.configFile, "config", "c", "", "path to the configuration file")

	return cmd
}

func (o *serveOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return nil, err
		}
	}
	if o.addr != "" {
		cfg.Server.Addr = o.addr
	}
	return cfg, cfg.Validate()
}

func (o *serveOptions) run(ctx context.Context, g *globalOptions) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	log, err := g.logger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	log.WithField("version", version.GetVersion()).Info("starting chartrepo")

	st, closeStorage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	m := repository.NewManager(st, events.New(), repository.WithLogger(log))
	srv := server.New(m, server.WithLogger(log), server.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Duration))
	defer func() {
		var result *multierror.Error
		if err != nil {
			result = multierror.Append(result, err)
		}
		for _, closer := range []func() error{m.Close, srv.Close, closeStorage} {
			if cerr := closer(); cerr != nil {
				result = multierror.Append(result, cerr)
			}
		}
		err = result.ErrorOrNil()
	}()

	for _, rc := range cfg.RepositoryConfigs() {
		if _, err := m.Create(ctx, rc); err != nil {
			return err
		}
	}
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

// openStorage returns the storage the configuration selects and a function
// releasing it.
func openStorage(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*storage.Storage, func() error, error) {
	if cfg.Storage.Driver == config.DefaultStorage {
		log.Warn("using in-memory storage, assets are lost on shutdown")
		return storage.Init(driver.NewMemory()), func() error { return nil }, nil
	}

	blobs, err := blob.NewStore(ctx, cfg.BlobConfig(), log.Debugf)
	if err != nil {
		return nil, nil, err
	}
	d, err := driver.NewSQL(cfg.Storage.Driver, cfg.Storage.DSN, blobs, log.Debugf)
	if err != nil {
		return nil, nil, err
	}
	s := storage.Init(d)
	s.Log = log.Debugf
	log.WithFields(logrus.Fields{"driver": d.Name(), "blobs": blobs.Name()}).Info("storage opened")
	return s, d.Close, nil
}
