package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions are the flags shared by every command
type globalOptions struct {
	configPath string
	indexFlags []string
	indexList  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "prevterm",
		Short: "Previous and next term lookups over term dictionaries",
		Long: `prevterm answers range queries over immutable term dictionaries:
the terms that follow a starting term, or the terms immediately before it.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "configuration file (default ./prevterm.yaml when present)")
	flags.StringArrayVarP(&g.indexFlags, "index", "i", nil, "index as name=path, repeatable")
	flags.StringVar(&g.indexList, "indexes", "", `indexes as [name="x" path="y"] [name="z" path="w"]`)
	flags.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(g),
		newShellCmd(g),
		newFieldsCmd(),
		newQueryCmd(g, "next"),
		newQueryCmd(g, "prev"),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
