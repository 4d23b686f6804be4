// fakessh is an SSH server double: every login succeeds, exec requests get
// canned answers and sftp works against an in-memory filesystem.
package main

import (
	"os"
)

// Version information - set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
