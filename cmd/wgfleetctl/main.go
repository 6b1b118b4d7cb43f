// Command wgfleetctl is the offline maintenance tool for a wgfleet
// deployment: database backup and restore, and snapshot import/export
// without a running daemon.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "backup":
		runBackup(os.Args[2:])
	case "restore":
		runRestore(os.Args[2:])
	case "snapshot":
		runSnapshot(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: wgfleetctl <command> [flags]

commands:
  backup    archive the database and config directory
  restore   unpack a backup archive
  snapshot  export one interface and its peers to a snapshot file
  import    recreate an interface from a snapshot file`)
}
