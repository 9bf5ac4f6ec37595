package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KevoDB/prevterm/pkg/query"
	"github.com/KevoDB/prevterm/pkg/sstable"
)

// newQueryCmd builds the one-shot next and prev commands
func newQueryCmd(g *globalOptions, name string) *cobra.Command {
	var (
		n           int
		clean       bool
		excludeInit bool
	)

	direction, short := query.Next, "Print the terms at or after INIT"
	if name == "prev" {
		direction, short = query.Previous, "Print the terms at or before INIT, nearest first"
	}

	cmd := &cobra.Command{
		Use:   name + " INDEX FIELDS INIT",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			req := query.Request{
				Index:       args[0],
				Fields:      query.ParseFields(args[1]),
				Init:        args[2],
				Direction:   direction,
				ExcludeInit: excludeInit,
				Clean:       clean,
			}
			if cmd.Flags().Changed("limit") {
				req.MaxTerms = query.Terms(n)
			}

			resp, err := a.service.Query(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range resp.Terms {
				fmt.Fprintln(out, t)
			}
			if resp.Degraded {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: result may skip terms (resolver retry budget exceeded)")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", query.DefaultMaxTerms, "number of terms")
	cmd.Flags().BoolVar(&clean, "clean", false, "skip terms that are not letters, digits and spaces")
	cmd.Flags().BoolVar(&excludeInit, "exclude-init", false, "leave INIT itself out of previous results")
	return cmd
}

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields PATH",
		Short: "List the fields of a term file with their term counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := sstable.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tTERMS")
			for _, f := range r.Fields() {
				fmt.Fprintf(w, "%s\t%d\n", f.Name, f.Terms)
			}
			fmt.Fprintf(w, "\t%d entries, codec %s\n", r.NumEntries(), r.Codec())
			return w.Flush()
		},
	}
}
