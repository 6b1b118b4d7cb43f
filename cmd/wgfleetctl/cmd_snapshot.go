package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/internal/snapshot"
	"github.com/wgfleet/wgfleet/internal/store"
)

// openSnapshots opens the database and builds a snapshot service over it.
// The caller closes the returned store.
func openSnapshots(dbPath, configDir, snapshotDir string) (*store.SQLiteStore, *snapshot.Service, error) {
	db, err := store.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(context.Background(), "core", store.Migrations); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	svc := snapshot.New(snapshot.Deps{
		Interfaces:  services.NewSQLiteInterfaceRepository(db.DB()),
		Peers:       services.NewSQLitePeerRepository(db.DB()),
		ConfigDir:   configDir,
		SnapshotDir: snapshotDir,
	}, zap.NewNop())
	return db, svc, nil
}

func runSnapshot(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	name := fs.String("interface", "", "interface name to snapshot (required)")
	dbPath := fs.String("db", "wgfleet.db", "path to the database")
	configDir := fs.String("config-dir", "/etc/wireguard", "wg-quick config directory")
	outDir := fs.String("output-dir", ".", "directory to write the snapshot into")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --interface is required")
		fs.Usage()
		os.Exit(1)
	}

	db, svc, err := openSnapshots(*dbPath, *configDir, *outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshot failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	path, err := svc.Save(context.Background(), *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshot failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Snapshot written: %s\n", path)
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	input := fs.String("input", "", "snapshot file to import (required)")
	dbPath := fs.String("db", "wgfleet.db", "path to the database")
	configDir := fs.String("config-dir", "/etc/wireguard", "wg-quick config directory")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "error: --input is required")
		fs.Usage()
		os.Exit(1)
	}

	snap, err := snapshot.Load(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}

	db, svc, err := openSnapshots(*dbPath, *configDir, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	iface, err := svc.Restore(context.Background(), snap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Interface restored: %s (%s)\n", iface.Name, iface.ID)
}
