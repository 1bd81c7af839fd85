package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/impactos/engine/pkg/store"
)

// runSnapshotsCmd implements `impactos snapshots`: list stored run
// snapshots, newest first.
func runSnapshotsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("snapshots", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath     string
		limit      int
		jsonOutput bool
	)
	cmd.StringVar(&dbPath, "db", "", "SQLite database holding the snapshots (REQUIRED)")
	cmd.IntVar(&limit, "limit", 20, "Maximum number of snapshots to list")
	cmd.BoolVar(&jsonOutput, "json", false, "Output snapshots as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dbPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --db is required")
		return 2
	}

	db, err := store.Open(dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()
	snaps, err := store.NewSQLiteSnapshotStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	list, err := snaps.List(context.Background(), limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(list, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, s := range list {
		_, _ = fmt.Fprintf(stdout, "%s  %s  model=%s  %s\n",
			s.RunID, s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), s.ModelVersionID, s.ResultChecksum)
	}
	if len(list) == 0 {
		_, _ = fmt.Fprintln(stdout, "No snapshots stored.")
	}
	return 0
}
