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
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"helm.sh/chartrepo/internal/logging"
)

const rootDesc = `Serve Helm chart repositories.

A chartrepo server hosts chart repositories that accept uploads and build
their index, and proxy repositories that cache a remote chart repository.

Common actions:

- chartrepo serve:    run the server
- chartrepo index:    generate the index of a directory of chart packages
- chartrepo list:     print the charts of an index file
`

// globalOptions are the flags shared by every command.
type globalOptions struct {
	debug        bool
	logFormat    string
	logFormatSet bool

	errOut io.Writer
	log    *logrus.Logger
}

// logger builds the logger selected by the global flags. --debug overrides
// level; format applies when --log-format is not given.
func (g *globalOptions) logger(level, format string) (*logrus.Logger, error) {
	if g.debug {
		level = logrus.DebugLevel.String()
	}
	if format == "" || g.logFormatSet {
		format = g.logFormat
	}
	log, err := logging.NewWithOutput(g.errOut, level, format)
	if err != nil {
		return nil, err
	}
	g.log = log
	return log, nil
}

// addFlags binds the global flags to fs.
func (g *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&g.debug, "debug", false, "enable verbose output")
	fs.StringVar(&g.logFormat, "log-format", logging.FormatText, "log format, text or json")
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	g := &globalOptions{errOut: errOut}

	cmd := &cobra.Command{
		Use:           "chartrepo",
		Short:         "Serve Helm chart repositories.",
		Long:          rootDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.Flag("log-format"); f != nil {
			g.logFormatSet = f.Changed
		}
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	g.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCmd(g, out),
		newIndexCmd(g, out),
		newListCmd(out),
		newVersionCmd(out),
	)
	return cmd
}
