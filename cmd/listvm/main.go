// listvm renders list scenarios through the list VM and reports what each
// pass created, updated, moved and tore down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/listvm/journal"
	"github.com/chazu/listvm/manifest"
)

var log = commonlog.GetLogger("listvm")

func main() {
	configDir := flag.String("config", "", "Directory containing listvm.toml (default: search upward from the working directory)")
	dbPath := flag.String("db", "", "Journal database (overrides [journal] database)")
	verbosity := flag.Int("v", 0, "Log verbosity (overrides [log] verbosity)")
	disasm := flag.Bool("disasm", false, "Print the assembled program before rendering")
	replay := flag.String("replay", "", "Print a stored run instead of rendering")
	listRuns := flag.Bool("runs", false, "List stored runs with their pass and failure counts")
	emit := flag.String("emit", "", "Write the scenario's program to this LVBC file and exit")
	program := flag.String("program", "", "Render with the program in this LVBC file instead of assembling one")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: listvm [options] scenario.yaml\n\n")
		fmt.Fprintf(os.Stderr, "Renders each pass of a scenario and prints the reconciliation events.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  listvm todo.yaml                     # Render with listvm.toml settings\n")
		fmt.Fprintf(os.Stderr, "  listvm -disasm -v 2 todo.yaml        # Show bytecode and debug logs\n")
		fmt.Fprintf(os.Stderr, "  listvm -db runs.db todo.yaml         # Save every pass\n")
		fmt.Fprintf(os.Stderr, "  listvm -db runs.db -runs             # List saved runs\n")
		fmt.Fprintf(os.Stderr, "  listvm -db runs.db -replay <id>      # Print a saved run\n")
		fmt.Fprintf(os.Stderr, "  listvm -emit todo.lvbc todo.yaml     # Save the assembled program\n")
		fmt.Fprintf(os.Stderr, "  listvm -program todo.lvbc todo.yaml  # Render a saved program\n")
	}
	flag.Parse()

	m, err := loadManifest(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			m.Log.Verbosity = *verbosity
		case "db":
			m.Journal.Database = *dbPath
		}
	})
	commonlog.Configure(m.Log.Verbosity, m.LogFile())

	opts, err := m.VMOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	runner := &Runner{
		Out:     os.Stdout,
		Color:   isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
		Disasm:  *disasm,
		Options: opts,
	}

	if *program != "" {
		chunk, err := LoadProgram(*program)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		runner.Program = chunk
	}

	if path := m.DatabasePath(); path != "" {
		store, err := journal.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: journal %s: %v\n", path, err)
			os.Exit(1)
		}
		runner.Store = store
	}

	code := execute(runner, *listRuns, *replay, *emit, flag.Args())
	if runner.Store != nil {
		runner.Store.Close()
	}
	os.Exit(code)
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func execute(runner *Runner, listRuns bool, replay, emit string, args []string) int {
	switch {
	case listRuns:
		if err := runner.ListRuns(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0

	case replay != "":
		if err := runner.Replay(replay); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if len(args) != 1 {
		flag.Usage()
		return 2
	}
	s, err := LoadScenario(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if emit != "" {
		if err := WriteProgram(emit, s); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runID, err := runner.Run(ctx, s)
	if runner.Store != nil && runID != "" {
		log.Infof("journal saved: run %s", runID)
	}
	if err != nil {
		log.Errorf("%s: %v", args[0], err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
