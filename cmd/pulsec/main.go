package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/quantumctl/pulsec/internal/artifact"
	"github.com/quantumctl/pulsec/internal/codegen"
	"github.com/quantumctl/pulsec/internal/config"
	"github.com/quantumctl/pulsec/internal/ctxlog"
	"github.com/quantumctl/pulsec/internal/descriptor"
	"github.com/quantumctl/pulsec/pkg/compiler"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "compile":
		handleCompile(os.Args[2:])
	case "disasm":
		handleDisasm(os.Args[2:])
	case "manifest":
		handleManifest(os.Args[2:])
	case "help", "-help", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: pulsec <command> [options]

Commands:
  compile   compile an experiment against a setup into a device artifact
  disasm    disassemble the device programs of a compiled artifact
  manifest  print the schedule manifest of a compiled artifact
  help      show this help

Run 'pulsec <command> -h' for command options.
`)
}

func setupLogger(verbose bool) context.Context {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return ctxlog.WithLogger(context.Background(), logger)
}

func handleCompile(args []string) {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	setupPath := fs.String("setup", "", "setup descriptor (yaml)")
	expPath := fs.String("exp", "", "experiment descriptor (yaml)")
	outPath := fs.String("out", "", "artifact output file (default <experiment uid>.plsc)")
	cachePath := fs.String("cache", "", "artifact cache database (default disabled, use '"+config.ArtifactCacheFile+"')")
	strict := fs.Bool("strict", false, "treat feedback delay clamping as an error")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)

	if *setupPath == "" || *expPath == "" {
		fmt.Fprintln(os.Stderr, "compile: -setup and -exp are required")
		fs.Usage()
		os.Exit(1)
	}
	ctx := setupLogger(*verbose)

	setupCfg, err := descriptor.LoadSetup(*setupPath)
	if err != nil {
		fatal(err)
	}
	expCfg, err := descriptor.LoadExperiment(*expPath)
	if err != nil {
		fatal(err)
	}

	params, err := expCfg.ParameterSet()
	if err != nil {
		fatal(err)
	}
	setup, err := setupCfg.Setup()
	if err != nil {
		fatal(err)
	}
	cal, err := setupCfg.CalibrationTable(params)
	if err != nil {
		fatal(err)
	}
	experiment, diags, err := expCfg.Build()
	if err != nil {
		fatal(err)
	}
	printDiagnostics(diags)
	if diags.HasErrors() {
		os.Exit(1)
	}

	result, err := compiler.Compile(ctx, compiler.Request{
		Experiment:  experiment,
		Setup:       setup,
		SignalMap:   setupCfg.SignalMap,
		Calibration: cal,
	}, compiler.Options{
		StrictFeedback: *strict,
		CachePath:      *cachePath,
	})
	if err != nil {
		fatal(err)
	}
	printDiagnostics(result.Diags)
	if result.Compiled == nil {
		os.Exit(1)
	}

	data, err := result.Compiled.Serialize()
	if err != nil {
		fatal(err)
	}
	out := *outPath
	if out == "" {
		out = result.Compiled.ExperimentUID + ".plsc"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fatal(err)
	}

	hash, err := result.Compiled.Hash()
	if err != nil {
		fatal(err)
	}
	from := ""
	if result.CacheHit {
		from = " (cached)"
	}
	fmt.Printf("%s: %d device programs, %d events, %s%s\n",
		out, len(result.Compiled.Programs), len(result.Compiled.Manifest), hash[:12], from)
}

func handleDisasm(args []string) {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	devFilter := fs.String("device", "", "disassemble only this device")
	fs.Parse(args)

	art := loadArtifact(fs.Args())
	shown := 0
	for _, p := range art.Programs {
		if *devFilter != "" && p.Device != *devFilter {
			continue
		}
		fmt.Print(codegen.Disassemble(p))
		shown++
	}
	if *devFilter != "" && shown == 0 {
		fatal(fmt.Errorf("no program for device %q", *devFilter))
	}
}

func handleManifest(args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	fs.Parse(args)

	art := loadArtifact(fs.Args())
	for _, ev := range art.Manifest {
		fmt.Printf("%-18s t=%-12d %s", ev.Type, ev.Time, ev.Node)
		if ev.Signal != "" {
			fmt.Printf(" signal=%s", ev.Signal)
		}
		if ev.Handle != "" {
			fmt.Printf(" handle=%s", ev.Handle)
		}
		if ev.Param != "" {
			fmt.Printf(" %s=%g", ev.Param, ev.Value)
		}
		if ev.Shadow {
			fmt.Print(" shadow")
		}
		fmt.Println()
	}
}

func loadArtifact(args []string) *artifact.CompiledExperiment {
	if len(args) != 1 {
		fatal(fmt.Errorf("expected exactly one artifact file"))
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fatal(err)
	}
	art, err := artifact.Deserialize(data)
	if err != nil {
		fatal(err)
	}
	return art
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}
