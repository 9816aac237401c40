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
	"fmt"
	"io"
	"os"

	"github.com/gosuri/uitable"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"helm.sh/chartrepo/pkg/cli/require"
	"helm.sh/chartrepo/pkg/repo"
)

const listDesc = `
Print the charts of an index file.

Charts are listed by name, each with its versions from newest to oldest.
Use '--latest' to show only the newest version of each chart.
`

type listOptions struct {
	file        string
	latest      bool
	maxColWidth uint
}

func newListCmd(out io.Writer) *cobra.Command {
	o := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list FILE",
		Short: "list the charts of an index file",
		Long:  listDesc,
		Args:  require.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.file = args[0]
			return o.run(out)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&o.latest, "latest", "l", false, "show only the newest version of each chart")
	f.UintVar(&o.maxColWidth, "max-col-width", 50, "maximum column width for output table")

	return cmd
}

func (o *listOptions) run(out io.Writer) error {
	data, err := os.ReadFile(o.file)
	if err != nil {
		return err
	}
	index, err := repo.LoadIndex(data)
	if err != nil {
		return errors.Wrapf(err, "loading %s", o.file)
	}
	index.SortEntries()

	if index.Len() == 0 {
		fmt.Fprintln(out, "No charts found")
		return nil
	}

	table := uitable.New()
	table.MaxColWidth = o.maxColWidth
	table.AddRow("NAME", "CHART VERSION", "APP VERSION", "DESCRIPTION")
	for _, name := range index.Names() {
		versions := index.Entries[name]
		if o.latest && len(versions) > 1 {
			versions = versions[:1]
		}
		for _, cv := range versions {
			table.AddRow(cv.Name, cv.Version, cv.AppVersion, cv.Description)
		}
	}
	fmt.Fprintln(out, table.String())
	return nil
}
