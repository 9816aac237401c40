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
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"helm.sh/chartrepo/internal/fileutil"
	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/cli/require"
	"helm.sh/chartrepo/pkg/createindex"
	"helm.sh/chartrepo/pkg/repo"
)

const indexDesc = `
Read a directory and generate an index file based on the chart packages found.

This tool is used for creating an 'index.yaml' file for a static chart
repository. Packages in subdirectories are included with their relative path.
To set an absolute URL to the charts, use the '--url' flag.

Files that are not valid chart packages are reported and left out of the index.
`

type indexOptions struct {
	dir string
	url string
}

func newIndexCmd(g *globalOptions, out io.Writer) *cobra.Command {
	o := &indexOptions{}

	cmd := &cobra.Command{
		Use:   "index DIR",
		Short: "generate an index file given a directory containing packaged charts",
		Long:  indexDesc,
		Args:  require.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.dir = args[0]
			log, err := g.logger("", "")
			if err != nil {
				return err
			}
			return o.run(out, log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.url, "url", "", "url of chart repository")

	return cmd
}

func (o *indexOptions) run(out io.Writer, log logrus.FieldLogger) error {
	dir, err := filepath.Abs(o.dir)
	if err != nil {
		return err
	}

	index, err := createindex.IndexDirectory(dir, o.url)
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			log.WithError(e).Warn("skipping file")
		}
	} else if err != nil {
		return err
	}

	data, err := repo.Encode(index)
	if err != nil {
		return err
	}
	target := filepath.Join(dir, asset.IndexPath)
	if err := fileutil.AtomicWriteFile(target, bytes.NewReader(data), 0644); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d chart versions to %s\n", index.Len(), asset.IndexPath)
	return nil
}
