package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/KevoDB/prevterm/pkg/query"
	"github.com/KevoDB/prevterm/pkg/registry"
	"github.com/KevoDB/prevterm/pkg/stats"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".indexes"),
	readline.PcItem(".fields"),
	readline.PcItem(".stats"),
	readline.PcItem(".exit"),
	readline.PcItem("NEXT"),
	readline.PcItem("PREV"),
)

const helpText = `
Commands:
  .help                        - Show this help message
  .indexes                     - List the registered indexes
  .fields INDEX                - List the fields of an index
  .stats                       - Show query statistics
  .exit                        - Exit the shell

  NEXT index fields init [n]   - Terms at or after init
  PREV index fields init [n]   - Terms at or before init, nearest first

  fields are separated by ',', ';' or '-'; init may contain spaces
`

func newShellCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Query the configured indexes interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			sh := &shell{service: a.service, registry: a.registry, stats: a.stats, out: cmd.OutOrStdout()}
			return sh.run(ctx)
		},
	}
}

// shell executes REPL lines against a query service
type shell struct {
	service  *query.Service
	registry *registry.Registry
	stats    stats.Provider
	out      io.Writer
}

func (sh *shell) run(ctx context.Context) error {
	fmt.Fprintln(sh.out, "prevterm shell")
	fmt.Fprintln(sh.out, "Enter .help for usage hints.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "prevterm> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".prevterm_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					return nil
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(sh.out, "Goodbye!")
				return nil
			}
			return err
		}
		if sh.exec(ctx, line) {
			return nil
		}
	}
}

// exec runs one line and reports whether the shell should exit
func (sh *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	switch cmd := strings.ToLower(parts[0]); cmd {
	case ".exit", ".quit":
		return true
	case ".help":
		fmt.Fprint(sh.out, helpText)
	case ".indexes":
		for _, info := range sh.registry.Indexes() {
			state := "closed"
			if info.Open {
				state = "open"
			}
			fmt.Fprintf(sh.out, "%s\t%s\t%s\t%s\n", info.Name, info.Kind, state, info.Path)
		}
	case ".fields":
		if len(parts) < 2 {
			fmt.Fprintln(sh.out, "Error: Missing index argument")
			return false
		}
		fields, err := sh.registry.Fields(ctx, parts[1])
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(sh.out, strings.Join(fields, "\n"))
	case ".stats":
		st := sh.stats.GetStats()
		keys := make([]string, 0, len(st))
		for k := range st {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(sh.out, "%s: %v\n", k, st[k])
		}
	case "next", "prev":
		sh.query(ctx, cmd, parts[1:])
	default:
		fmt.Fprintf(sh.out, "Unknown command: %s (enter .help for usage)\n", parts[0])
	}
	return false
}

func (sh *shell) query(ctx context.Context, cmd string, args []string) {
	if len(args) < 3 {
		fmt.Fprintf(sh.out, "Error: usage %s index fields init [n]\n", strings.ToUpper(cmd))
		return
	}

	req := query.Request{
		Index:     args[0],
		Fields:    query.ParseFields(args[1]),
		Direction: query.Next,
	}
	if cmd == "prev" {
		req.Direction = query.Previous
	}

	initWords := args[2:]
	if len(initWords) > 1 {
		if n, err := strconv.Atoi(initWords[len(initWords)-1]); err == nil {
			req.MaxTerms = query.Terms(n)
			initWords = initWords[:len(initWords)-1]
		}
	}
	req.Init = strings.Join(initWords, " ")

	resp, err := sh.service.Query(ctx, req)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	for i, t := range resp.Terms {
		fmt.Fprintf(sh.out, "%d: %s\n", i+1, t)
	}
	fmt.Fprintf(sh.out, "%d terms returned\n", len(resp.Terms))
	if resp.Degraded {
		fmt.Fprintln(sh.out, "Warning: result may skip terms (resolver retry budget exceeded)")
	}
}
