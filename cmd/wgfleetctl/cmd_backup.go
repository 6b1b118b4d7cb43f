package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wgfleet/wgfleet/internal/backup"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: wgfleet-backup-{timestamp}.tar.gz)")
	dbPath := fs.String("db", "wgfleet.db", "path to the database")
	configDir := fs.String("config-dir", "/etc/wireguard", "wg-quick config directory to include")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *output == "" {
		*output = fmt.Sprintf("wgfleet-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	ctx := context.Background()
	if err := backup.Backup(ctx, *dbPath, *configDir, *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", *output)
}
