package main

import (
	"fmt"
	"os"

	"github.com/bnema/waykms/cmd"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.Version, cmd.Commit, cmd.Date = version, commit, date
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
