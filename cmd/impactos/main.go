// Command impactos runs impact scenarios from the command line: solve
// a scenario file, persist the sealed snapshot, and replay stored runs
// to verify reproducibility.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/impactos/engine/pkg/versioning"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "solve":
		return runSolveCmd(args[2:], stdout, stderr)
	case "nowcast":
		return runNowcastCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "snapshots":
		return runSnapshotsCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "impactos engine %s\n", versioning.EngineVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: impactos <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  solve      Run a scenario file through the impact pipeline")
	fmt.Fprintln(w, "  nowcast    Balance a scenario's model to target totals and report the draft candidate")
	fmt.Fprintln(w, "  replay     Re-execute a stored run and verify its result checksum")
	fmt.Fprintln(w, "  snapshots  List stored run snapshots")
	fmt.Fprintln(w, "  version    Print the engine version")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'impactos <command> --help' for command flags.")
}
